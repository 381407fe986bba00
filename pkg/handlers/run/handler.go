package run

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/de-tools/revenue-atlas/pkg/adapters"
	"github.com/de-tools/revenue-atlas/pkg/models/api"
	"github.com/de-tools/revenue-atlas/pkg/models/domain"
	"github.com/de-tools/revenue-atlas/pkg/services/cohort"
	"github.com/de-tools/revenue-atlas/pkg/services/export"
	"github.com/de-tools/revenue-atlas/pkg/services/pipeline"
	"github.com/de-tools/revenue-atlas/pkg/services/workflow"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

const (
	defaultLogLimit   = 50
	multipartMemory   = 32 << 20
	xlsxContentType   = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	defaultUploadSize = 512 << 20
)

// DataRoot is the directory cohorts are read from; uploads replace it.
type DataRoot interface {
	Root() string
	Replace(ctx context.Context, r io.ReaderAt, size int64) (string, error)
}

type RateSource interface {
	Latest(ctx context.Context) (float64, error)
}

type Publisher interface {
	Enabled() bool
	Publish(ctx context.Context, result domain.PipelineRun) (export.PublishResult, error)
}

type Config struct {
	Packs          []domain.Pack
	CohortYear     int
	MaxUploadBytes int64
	From           string
	To             string
	Clock          func() time.Time
}

type Handler struct {
	controller workflow.Controller
	data       DataRoot
	rates      RateSource
	publisher  Publisher
	config     Config
}

func NewHandler(controller workflow.Controller, data DataRoot, rates RateSource, publisher Publisher, config Config) *Handler {
	if len(config.Packs) == 0 {
		config.Packs = domain.DefaultPacks
	}
	if config.MaxUploadBytes <= 0 {
		config.MaxUploadBytes = defaultUploadSize
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	return &Handler{
		controller: controller,
		data:       data,
		rates:      rates,
		publisher:  publisher,
		config:     config,
	}
}

func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := zerolog.Ctx(ctx)

	r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		http.Error(w, "invalid multipart upload: "+err.Error(), http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing file field", http.StatusBadRequest)
		return
	}
	defer file.Close()

	root, err := h.data.Replace(ctx, file, header.Size)
	if err != nil {
		logger.Warn().Err(err).Str("filename", header.Filename).Msg("upload rejected")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	logger.Info().Str("filename", header.Filename).Str("root", root).Msg("data root replaced")

	cohorts, err := h.describeCohorts(root)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(ctx, w, http.StatusOK, api.Upload{Root: root, Cohorts: cohorts})
}

func (h *Handler) ListCohorts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	cohorts, err := h.describeCohorts(h.data.Root())
	if errors.Is(err, domain.ErrDataRootNotFound) {
		writeJSON(ctx, w, http.StatusOK, []api.Cohort{})
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(ctx, w, http.StatusOK, cohorts)
}

func (h *Handler) ListPacks(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, http.StatusOK, adapters.MapPacksDomainToApi(h.config.Packs))
}

func (h *Handler) describeCohorts(root string) ([]api.Cohort, error) {
	dirs, err := cohort.Discover(root)
	if err != nil {
		return nil, err
	}

	year := h.config.CohortYear
	if year <= 0 {
		year = h.config.Clock().Year()
	}

	res := make([]api.Cohort, 0, len(dirs))
	for _, d := range dirs {
		present := cohort.PresentPacks(d.Path, h.config.Packs)
		if len(present) == 0 {
			continue
		}
		c := api.Cohort{Name: d.Name, Packs: make([]string, 0, len(present))}
		for _, p := range present {
			c.Packs = append(c.Packs, string(p))
		}
		if start, err := cohort.ParseStartDate(d.Name, year); err != nil {
			c.Error = err.Error()
		} else {
			c.StartDate = start.Format(domain.DateLayout)
		}
		res = append(res, c)
	}
	return res, nil
}

func (h *Handler) StartRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body api.StartRunRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}

	packs := h.config.Packs
	if len(body.Packs) > 0 {
		parsed, err := domain.ParsePacks(body.Packs)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		packs = parsed
	}

	root := h.data.Root()
	if len(body.Cohorts) > 0 {
		if err := validateCohorts(root, body.Cohorts); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	run, err := h.controller.Start(ctx, pipeline.Request{DataRoot: root, Cohorts: body.Cohorts, Packs: packs})
	if errors.Is(err, workflow.ErrRunInProgress) {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Location", "/api/v1/runs/"+run.ID())
	writeJSON(ctx, w, http.StatusAccepted, api.RunCreated{ID: run.ID()})
}

func validateCohorts(root string, names []string) error {
	dirs, err := cohort.Discover(root)
	if err != nil {
		return err
	}
	known := make(map[string]struct{}, len(dirs))
	for _, d := range dirs {
		known[d.Name] = struct{}{}
	}
	for _, n := range names {
		if _, ok := known[n]; !ok {
			return fmt.Errorf("%w: %s", domain.ErrCohortNotFound, n)
		}
	}
	return nil
}

func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	runs := h.controller.List(ctx)
	res := make([]api.Run, 0, len(runs))
	for _, run := range runs {
		res = append(res, adapters.MapRunDomainToApi(run.Snapshot(), run.Progress()))
	}
	writeJSON(ctx, w, http.StatusOK, res)
}

func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, adapters.MapRunDomainToApi(run.Snapshot(), run.Progress()))
}

func (h *Handler) GetLogs(w http.ResponseWriter, r *http.Request) {
	run, ok := h.lookup(w, r)
	if !ok {
		return
	}

	limit := defaultLogLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	writeJSON(r.Context(), w, http.StatusOK, adapters.MapLogEntriesDomainToApi(run.Logs(limit)))
}

func (h *Handler) StopRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	err := h.controller.Stop(ctx, id)
	if errors.Is(err, workflow.ErrRunNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) GetResults(w http.ResponseWriter, r *http.Request) {
	run, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, adapters.MapResultsDomainToApi(run.Snapshot(), h.config.Packs))
}

func (h *Handler) GetCharts(w http.ResponseWriter, r *http.Request) {
	run, ok := h.lookup(w, r)
	if !ok {
		return
	}
	charts := export.BuildCharts(run.Snapshot().Summaries, h.config.Packs)
	writeJSON(r.Context(), w, http.StatusOK, adapters.MapChartsToApi(charts))
}

func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := zerolog.Ctx(ctx)

	run, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := export.WriteWorkbook(&buf, run.Snapshot(), h.config.Packs); err != nil {
		logger.Error().Err(err).Str("run_id", run.ID()).Msg("failed to render workbook")
		http.Error(w, "failed to render workbook", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+export.WorkbookName+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	if _, err := buf.WriteTo(w); err != nil {
		logger.Error().Err(err).Msg("failed to write workbook")
	}
}

func (h *Handler) Publish(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := zerolog.Ctx(ctx)

	if h.publisher == nil || !h.publisher.Enabled() {
		http.Error(w, export.ErrNoDestination.Error(), http.StatusServiceUnavailable)
		return
	}

	run, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if !run.Status().Terminal() {
		http.Error(w, "run is still in progress", http.StatusConflict)
		return
	}

	out, err := h.publisher.Publish(ctx, run.Snapshot())
	if err != nil {
		logger.Error().Err(err).Str("run_id", run.ID()).Msg("publish failed")
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(ctx, w, http.StatusOK, api.Published{Location: out.Location, SheetRange: out.SheetRange})
}

func (h *Handler) LatestRate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	rate, err := h.rates.Latest(ctx)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("latest rate unavailable")
		http.Error(w, "currency service unavailable", http.StatusBadGateway)
		return
	}
	writeJSON(ctx, w, http.StatusOK, api.Rate{From: h.config.From, To: h.config.To, Rate: rate})
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*pipeline.Run, bool) {
	run, err := h.controller.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, workflow.ErrRunNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return nil, false
	}
	return run, true
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zerolog.Ctx(ctx).Error().
			Err(err).
			Msg("failed to encode response")
	}
}
