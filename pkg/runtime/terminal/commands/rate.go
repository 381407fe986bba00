package commands

import (
	"fmt"
	"time"

	"github.com/de-tools/revenue-atlas/pkg/models/domain"
	"github.com/de-tools/revenue-atlas/pkg/runtime/app"
	"github.com/spf13/cobra"
)

type RateCmd struct {
	load  ConfigLoader
	start string
	days  int
}

func NewRateCmd(load ConfigLoader) *cobra.Command {
	rc := &RateCmd{load: load}
	cmd := &cobra.Command{
		Use:   "rate",
		Short: "Show the latest conversion rate, or the averaged rate for a window",
		RunE:  rc.run,
	}

	cmd.Flags().StringVar(&rc.start, "start", "", "Window start date (YYYY-MM-DD); latest rate when empty")
	cmd.Flags().IntVar(&rc.days, "days", 0, "Window length in days (defaults to data.window_days)")

	return cmd
}

func (rc *RateCmd) run(cmd *cobra.Command, _ []string) error {
	cfg, err := rc.load()
	if err != nil {
		return err
	}
	rates := app.NewRates(cfg)
	out := cmd.OutOrStdout()

	if rc.start == "" {
		rate, err := rates.Latest(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to fetch latest rate: %w", err)
		}
		fmt.Fprintf(out, "1 %s = %.4f %s\n", cfg.Currency.From, rate, cfg.Currency.To)
		return nil
	}

	start, err := time.Parse(domain.DateLayout, rc.start)
	if err != nil {
		return fmt.Errorf("invalid start date. Expected format: YYYY-MM-DD")
	}
	days := rc.days
	if days <= 0 {
		days = cfg.Data.WindowDays
	}
	window := domain.DateWindow{Start: start, Days: days}

	quote := rates.Rate(cmd.Context(), window)
	fmt.Fprintf(out, "%s: 1 %s = %.4f %s (%s)\n", window.Key(), cfg.Currency.From, quote.Rate, cfg.Currency.To, quote.Source)
	if quote.Fallback {
		fmt.Fprintf(out, "fallback reason: %s\n", quote.Reason)
	}
	return nil
}
