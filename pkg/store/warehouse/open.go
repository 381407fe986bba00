package warehouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"

	_ "github.com/databricks/databricks-sql-go"
	"github.com/de-tools/revenue-atlas/pkg/models/domain"
	"github.com/de-tools/revenue-atlas/pkg/retry"
	"github.com/de-tools/revenue-atlas/pkg/services/config"
	"github.com/de-tools/revenue-atlas/pkg/store/client"
	"github.com/de-tools/revenue-atlas/pkg/store/duckdb"
	"github.com/de-tools/revenue-atlas/pkg/store/gcp"
	"github.com/go-sql-driver/mysql"
	"github.com/snowflakedb/gosnowflake"
	"google.golang.org/api/bigquery/v2"
	"google.golang.org/api/option"
)

const (
	DriverDatabricks = "databricks"
	DriverSnowflake  = "snowflake"
	DriverMySQL      = "mysql"
	DriverDuckDB     = "duckdb"
	DriverBigQuery   = "bigquery"
)

// Handle is an opened warehouse store plus whatever must be released with it.
type Handle struct {
	Store
	io.Closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Open builds the store for the configured driver. Credentials come from the
// configuration sources; the store is not pinged here.
func Open(ctx context.Context, cfg config.Warehouse, retryOpts retry.Options) (*Handle, error) {
	settings := Settings{
		Table:          cfg.Table,
		ChunkSize:      cfg.ChunkSize,
		QueryTimeout:   cfg.QueryTimeout,
		SourceCurrency: cfg.SourceCurrency,
		Retry:          retryOpts,
	}

	switch cfg.Driver {
	case DriverDatabricks:
		return openDatabricks(ctx, cfg, settings)
	case DriverSnowflake:
		return openSnowflake(cfg, settings)
	case DriverMySQL:
		return openMySQL(cfg, settings)
	case DriverDuckDB:
		return openDuckDB(cfg, settings)
	case DriverBigQuery:
		return openBigQuery(ctx, cfg, settings)
	default:
		return nil, fmt.Errorf("unsupported warehouse driver %q", cfg.Driver)
	}
}

func openDatabricks(ctx context.Context, cfg config.Warehouse, settings Settings) (*Handle, error) {
	profile, err := config.ResolveDatabricks(ctx, cfg.Databricks)
	if err != nil {
		return nil, err
	}

	host := strings.TrimPrefix(strings.TrimPrefix(profile.Host, "https://"), "http://")
	dsn := fmt.Sprintf("token:%s@%s%s", profile.Token, strings.TrimRight(host, "/"), profile.HTTPPath)

	db, err := sql.Open(DriverDatabricks, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Databricks: %w", err)
	}

	store, err := NewSQLStore(db, settings)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	verifier, err := client.NewWorkspaceVerifier(profile.SDKConfig())
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create workspace client: %w", err)
	}

	return &Handle{Store: NewVerifiedStore(store, verifier), Closer: db}, nil
}

func openSnowflake(cfg config.Warehouse, settings Settings) (*Handle, error) {
	dsn := cfg.DSN
	if dsn == "" {
		sfCfg, err := config.LoadSnowflakeConfig(cfg.Snowflake.ProfilePath)
		if err != nil {
			return nil, err
		}
		dsn, err = gosnowflake.DSN(sfCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to build snowflake dsn: %w", err)
		}
	}

	db, err := sql.Open(DriverSnowflake, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Snowflake: %w", err)
	}
	return sqlHandle(db, settings)
}

func openMySQL(cfg config.Warehouse, settings Settings) (*Handle, error) {
	mysqlCfg, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("invalid mysql dsn: %w", err)
	}
	mysqlCfg.ParseTime = true

	connector, err := mysql.NewConnector(mysqlCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create mysql connector: %w", err)
	}
	return sqlHandle(sql.OpenDB(connector), settings)
}

func openDuckDB(cfg config.Warehouse, settings Settings) (*Handle, error) {
	db, err := duckdb.NewDB(duckdb.Settings{
		DbPath: cfg.DSN,
		Table:  cfg.Table,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create DuckDB instance: %w", err)
	}
	return sqlHandle(db, settings)
}

func openBigQuery(ctx context.Context, cfg config.Warehouse, settings Settings) (*Handle, error) {
	httpClient, err := gcp.NewHTTPClient(ctx, cfg.BigQuery.CredentialsFile, bigquery.BigqueryScope)
	if err != nil {
		return nil, err
	}

	service, err := bigquery.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("unable to create bigquery service: %w", err)
	}

	store, err := NewBigQueryStore(service, BigQuerySettings{
		ProjectID: cfg.BigQuery.ProjectID,
		Location:  cfg.BigQuery.Location,
	}, settings)
	if err != nil {
		return nil, err
	}
	return &Handle{Store: store, Closer: nopCloser{}}, nil
}

func sqlHandle(db *sql.DB, settings Settings) (*Handle, error) {
	store, err := NewSQLStore(db, settings)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Handle{Store: store, Closer: db}, nil
}

type verifiedStore struct {
	Store
	verifier client.Verifier
}

// NewVerifiedStore runs the workspace credential check before the store's own ping.
func NewVerifiedStore(store Store, verifier client.Verifier) Store {
	return &verifiedStore{Store: store, verifier: verifier}
}

func (s *verifiedStore) Ping(ctx context.Context) error {
	if err := s.verifier.Verify(ctx); err != nil {
		if errors.Is(err, client.ErrNotAuthorized) {
			return fmt.Errorf("%w: %w", domain.ErrUnauthorized, err)
		}
		return fmt.Errorf("workspace verification failed: %w", err)
	}
	return s.Store.Ping(ctx)
}
