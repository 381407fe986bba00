package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/de-tools/revenue-atlas/pkg/models/domain"
	"github.com/de-tools/revenue-atlas/pkg/retry"
	"github.com/spf13/viper"
)

const envPrefix = "REVENUE"

type Config struct {
	Server    Server        `mapstructure:"server"`
	Data      Data          `mapstructure:"data"`
	Currency  Currency      `mapstructure:"currency"`
	Warehouse Warehouse     `mapstructure:"warehouse"`
	Retry     retry.Options `mapstructure:"retry"`
	Export    Export        `mapstructure:"export"`
	Runs      Runs          `mapstructure:"runs"`
}

type Server struct {
	Host            string        `mapstructure:"host"`
	Port            string        `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxUploadBytes  int64         `mapstructure:"max_upload_bytes"`
}

type Data struct {
	Root       string              `mapstructure:"root"`
	UploadDir  string              `mapstructure:"upload_dir"`
	OutputDir  string              `mapstructure:"output_dir"`
	IDColumn   string              `mapstructure:"id_column"`
	WindowDays int                 `mapstructure:"window_days"`
	CohortYear int                 `mapstructure:"cohort_year"`
	Packs      []string            `mapstructure:"packs"`
	Products   map[string][]string `mapstructure:"products"`
}

type Currency struct {
	BaseURL      string        `mapstructure:"base_url"`
	From         string        `mapstructure:"from"`
	To           string        `mapstructure:"to"`
	FallbackRate float64       `mapstructure:"fallback_rate"`
	UseLiveRates bool          `mapstructure:"use_live_rates"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

type Warehouse struct {
	// Driver is one of databricks, snowflake, mysql, duckdb, bigquery.
	Driver         string        `mapstructure:"driver"`
	DSN            string        `mapstructure:"dsn"`
	Table          string        `mapstructure:"table"`
	ChunkSize      int           `mapstructure:"chunk_size"`
	QueryTimeout   time.Duration `mapstructure:"query_timeout"`
	SourceCurrency string        `mapstructure:"source_currency"`
	Databricks     Databricks    `mapstructure:"databricks"`
	Snowflake      Snowflake     `mapstructure:"snowflake"`
	BigQuery       BigQuery      `mapstructure:"bigquery"`
}

type Databricks struct {
	ConfigPath string `mapstructure:"config_path"`
	Profile    string `mapstructure:"profile"`
	Host       string `mapstructure:"host"`
	Token      string `mapstructure:"token"`
	HTTPPath   string `mapstructure:"http_path"`
}

type Snowflake struct {
	ProfilePath string `mapstructure:"profile_path"`
}

type BigQuery struct {
	ProjectID       string `mapstructure:"project_id"`
	Location        string `mapstructure:"location"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

type Export struct {
	S3     S3     `mapstructure:"s3"`
	Sheets Sheets `mapstructure:"sheets"`
}

type S3 struct {
	Bucket string `mapstructure:"bucket"`
	Region string `mapstructure:"region"`
	Prefix string `mapstructure:"prefix"`
}

type Sheets struct {
	SpreadsheetID   string `mapstructure:"spreadsheet_id"`
	SheetName       string `mapstructure:"sheet_name"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

type Runs struct {
	Retain    int `mapstructure:"retain"`
	MaxActive int `mapstructure:"max_active"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.max_upload_bytes", int64(512<<20))

	v.SetDefault("data.root", "data")
	v.SetDefault("data.upload_dir", "temp_uploads")
	v.SetDefault("data.output_dir", "output_results")
	v.SetDefault("data.id_column", "user_pseudo_id")
	v.SetDefault("data.window_days", 7)
	v.SetDefault("data.cohort_year", 0)

	v.SetDefault("currency.base_url", "https://api.frankfurter.app")
	v.SetDefault("currency.from", "USD")
	v.SetDefault("currency.to", "INR")
	v.SetDefault("currency.fallback_rate", 86.191)
	v.SetDefault("currency.use_live_rates", true)
	v.SetDefault("currency.timeout", 10*time.Second)

	v.SetDefault("warehouse.driver", "bigquery")
	v.SetDefault("warehouse.table", "dataset_zero.Product_Table_Streaming")
	v.SetDefault("warehouse.chunk_size", 2000)
	v.SetDefault("warehouse.query_timeout", 2*time.Minute)
	v.SetDefault("warehouse.source_currency", "USD")
	v.SetDefault("warehouse.databricks.profile", "DEFAULT")
	v.SetDefault("warehouse.databricks.http_path", "/sql/1.0/warehouses/warehouse")

	def := retry.DefaultOptions()
	v.SetDefault("retry.max_attempts", def.MaxAttempts)
	v.SetDefault("retry.initial_delay", def.InitialDelay)
	v.SetDefault("retry.max_delay", def.MaxDelay)
	v.SetDefault("retry.multiplier", def.Multiplier)

	v.SetDefault("export.sheets.sheet_name", "Summary")

	v.SetDefault("runs.retain", 5)
	v.SetDefault("runs.max_active", 1)
}

// Load reads configuration from path (optional) with REVENUE_* environment
// overrides, e.g. REVENUE_WAREHOUSE_DRIVER.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Data.WindowDays <= 0 {
		return fmt.Errorf("data.window_days must be positive")
	}
	if c.Warehouse.ChunkSize <= 0 {
		return fmt.Errorf("warehouse.chunk_size must be positive")
	}
	if c.Currency.FallbackRate <= 0 {
		return fmt.Errorf("currency.fallback_rate must be positive")
	}
	if _, err := c.Data.PackList(); err != nil {
		return fmt.Errorf("data.packs: %w", err)
	}
	if _, err := c.Data.ProductFilters(); err != nil {
		return fmt.Errorf("data.products: %w", err)
	}
	switch c.Warehouse.Driver {
	case "databricks", "snowflake", "mysql", "duckdb", "bigquery":
	default:
		return fmt.Errorf("unsupported warehouse driver %q", c.Warehouse.Driver)
	}
	return nil
}

func (d Data) PackList() ([]domain.Pack, error) {
	return domain.ParsePacks(d.Packs)
}

func (d Data) ProductFilters() (map[domain.Pack][]string, error) {
	filters := make(map[domain.Pack][]string, len(d.Products))
	for name, products := range d.Products {
		pack, err := domain.ParsePack(name)
		if err != nil {
			return nil, err
		}
		filters[pack] = products
	}
	return filters, nil
}

// Year resolves the cohort year, defaulting to the year of now.
func (d Data) Year(now time.Time) int {
	if d.CohortYear > 0 {
		return d.CohortYear
	}
	return now.Year()
}
