package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrMissingSecret is returned by Validate when a required environment
// variable is not set. Placeholder credentials are never substituted.
var ErrMissingSecret = errors.New("missing required environment variable")

// Config holds all configuration for the report ETL
type Config struct {
	Dashboard DashboardConfig `yaml:"dashboard"`
	Locations []string        `yaml:"locations"`
	Campaigns []string        `yaml:"campaigns"`
	Storage   StorageConfig   `yaml:"storage"`
	Normalize NormalizeConfig `yaml:"normalize"`
	Load      LoadConfig      `yaml:"load"`
	Notify    NotifyConfig    `yaml:"notify"`
	Lock      LockConfig      `yaml:"lock"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// DashboardConfig holds the reporting dashboard target and its page selectors
type DashboardConfig struct {
	LoginURL               string    `yaml:"login_url"`
	ReportURL              string    `yaml:"report_url"`
	Headless               bool      `yaml:"headless"`
	StepTimeoutSeconds     int       `yaml:"step_timeout_seconds"`
	DownloadTimeoutSeconds int       `yaml:"download_timeout_seconds"`
	DateFormat             string    `yaml:"date_format"`
	Selectors              Selectors `yaml:"selectors"`

	// Username and Password only come from the environment.
	Username string `yaml:"-"`
	Password string `yaml:"-"`
}

// StepTimeout returns the bound for a single page interaction
func (c DashboardConfig) StepTimeout() time.Duration {
	return time.Duration(c.StepTimeoutSeconds) * time.Second
}

// DownloadTimeout returns the bound for a report download to complete
func (c DashboardConfig) DownloadTimeout() time.Duration {
	return time.Duration(c.DownloadTimeoutSeconds) * time.Second
}

// Selectors are CSS selectors for the dashboard elements the session drives
type Selectors struct {
	Username      string `yaml:"username"`
	Password      string `yaml:"password"`
	Submit        string `yaml:"submit"`
	ErrorBanner   string `yaml:"error_banner"`
	FromDate      string `yaml:"from_date"`
	ToDate        string `yaml:"to_date"`
	DismissPicker string `yaml:"dismiss_picker"`
	Location      string `yaml:"location"`
	Campaign      string `yaml:"campaign"`
	Render        string `yaml:"render"`
	Download      string `yaml:"download"`
}

// StorageConfig holds the raw report directory layout and the optional S3 archive
type StorageConfig struct {
	BaseDir    string `yaml:"base_dir"`
	S3Bucket   string `yaml:"s3_bucket"`
	S3Region   string `yaml:"s3_region"`
	S3Prefix   string `yaml:"s3_prefix"`
	AWSProfile string `yaml:"aws_profile"` // Empty string uses default credential chain
}

// GetAWSProfile returns the AWS profile, with environment variable override
func (c StorageConfig) GetAWSProfile() string {
	if envProfile := os.Getenv("AWS_PROFILE_OVERRIDE"); envProfile != "" {
		if envProfile == "none" || envProfile == "iam" {
			return ""
		}
		return envProfile
	}
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return ""
	}
	return c.AWSProfile
}

// NormalizeConfig holds the static rename tables applied to every report
type NormalizeConfig struct {
	Encoding        string                       `yaml:"encoding"`
	MaxColumns      int                          `yaml:"max_columns"`
	CommonRenames   map[string]string            `yaml:"common_renames"`
	CampaignRenames map[string]map[string]string `yaml:"campaign_renames"`
}

// LoadConfig holds the destination store settings
type LoadConfig struct {
	Driver    string `yaml:"driver"` // "postgres" or "snowflake"
	Table     string `yaml:"table"`
	Schema    string `yaml:"schema"`
	BatchSize int    `yaml:"batch_size"`

	// Connection settings only come from the environment.
	Server    string `yaml:"-"`
	Port      int    `yaml:"-"`
	Database  string `yaml:"-"`
	Username  string `yaml:"-"`
	Password  string `yaml:"-"`
	SSLMode   string `yaml:"-"`
	Warehouse string `yaml:"-"`
}

// NotifyConfig holds operator notification settings
type NotifyConfig struct {
	Transport  string            `yaml:"transport"` // "smtp", "ses" or "log"
	SMTPHost   string            `yaml:"smtp_host"`
	SMTPPort   int               `yaml:"smtp_port"`
	SESRegion  string            `yaml:"ses_region"`
	RunSummary bool              `yaml:"run_summary"`
	Templates  map[string]string `yaml:"templates"`

	From         string   `yaml:"-"`
	To           []string `yaml:"-"`
	Password     string   `yaml:"-"`
	SESAccessKey string   `yaml:"-"`
	SESSecretKey string   `yaml:"-"`
}

// LockConfig holds the run lock settings
type LockConfig struct {
	Key          string `yaml:"key"`
	TTLMinutes   int    `yaml:"ttl_minutes"`
	DynamoTable  string `yaml:"dynamo_table"` // used when REDIS_URL is unset
	DynamoRegion string `yaml:"dynamo_region"`
	RedisURL     string `yaml:"-"`
}

// TTL returns the lock expiry as a duration
func (c LockConfig) TTL() time.Duration {
	return time.Duration(c.TTLMinutes) * time.Minute
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// MetricsConfig holds Prometheus Pushgateway settings
type MetricsConfig struct {
	PushgatewayURL string `yaml:"pushgateway_url"`
	Job            string `yaml:"job"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	d := &cfg.Dashboard
	if d.StepTimeoutSeconds == 0 {
		d.StepTimeoutSeconds = 30
	}
	if d.DownloadTimeoutSeconds == 0 {
		d.DownloadTimeoutSeconds = 120
	}
	if d.DateFormat == "" {
		d.DateFormat = "01/02/2006"
	}

	// Element IDs of the dashboard the job was written against
	s := &d.Selectors
	setDefault(&s.Username, "#sign_in_user_name")
	setDefault(&s.Password, "#password_field")
	setDefault(&s.Submit, "#login_area")
	setDefault(&s.ErrorBanner, ".alert-danger, .error-message, #error_explanation")
	setDefault(&s.FromDate, "#from_date")
	setDefault(&s.ToDate, "#to_date")
	setDefault(&s.DismissPicker, "body")
	setDefault(&s.Location, "#ffoffice_id")
	setDefault(&s.Campaign, `select[name="campaign"]`)
	setDefault(&s.Render, "#show")
	setDefault(&s.Download, "#main_page_content")

	if cfg.Storage.BaseDir == "" {
		cfg.Storage.BaseDir = "Raw_Data"
	}
	if cfg.Storage.S3Region == "" {
		cfg.Storage.S3Region = "us-east-1"
	}
	if cfg.Storage.S3Prefix == "" {
		cfg.Storage.S3Prefix = "raw"
	}

	if cfg.Normalize.Encoding == "" {
		cfg.Normalize.Encoding = "latin1"
	}
	if cfg.Normalize.MaxColumns == 0 {
		cfg.Normalize.MaxColumns = 23
	}

	if cfg.Load.Driver == "" {
		cfg.Load.Driver = "postgres"
	}
	if cfg.Load.BatchSize == 0 {
		cfg.Load.BatchSize = 500
	}

	if cfg.Notify.Transport == "" {
		cfg.Notify.Transport = "smtp"
	}
	if cfg.Notify.SMTPHost == "" {
		cfg.Notify.SMTPHost = "smtp.office365.com"
	}
	if cfg.Notify.SMTPPort == 0 {
		cfg.Notify.SMTPPort = 587
	}
	if cfg.Notify.SESRegion == "" {
		cfg.Notify.SESRegion = "us-east-1"
	}

	if cfg.Lock.Key == "" {
		cfg.Lock.Key = "report-etl"
	}
	setDefault(&cfg.Lock.DynamoRegion, "us-east-1")
	if cfg.Lock.TTLMinutes == 0 {
		cfg.Lock.TTLMinutes = 120
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.File == "" {
		cfg.Logging.File = "~/automation.log"
	}
	if cfg.Metrics.Job == "" {
		cfg.Metrics.Job = "report_etl"
	}
}

func setDefault(field *string, value string) {
	if *field == "" {
		*field = value
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on the scheduler host.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	// Secrets
	cfg.Dashboard.Username = os.Getenv("DASHBOARD_USERNAME")
	cfg.Dashboard.Password = os.Getenv("DASHBOARD_PASSWORD")
	cfg.Load.Server = os.Getenv("DB_SERVER")
	cfg.Load.Database = os.Getenv("DB_DATABASE")
	cfg.Load.Username = os.Getenv("DB_USERNAME")
	cfg.Load.Password = os.Getenv("DB_PASSWORD")
	cfg.Load.SSLMode = os.Getenv("DB_SSLMODE")
	cfg.Load.Warehouse = os.Getenv("DB_WAREHOUSE")
	if v := os.Getenv("DB_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("DB_PORT: %w", err)
		}
		cfg.Load.Port = port
	}
	cfg.Notify.From = os.Getenv("EMAIL_FROM")
	cfg.Notify.To = splitList(os.Getenv("EMAIL_TO"))
	cfg.Notify.Password = os.Getenv("EMAIL_PASSWORD")
	cfg.Notify.SESAccessKey = os.Getenv("AWS_SES_ACCESS_KEY")
	cfg.Notify.SESSecretKey = os.Getenv("AWS_SES_SECRET_KEY")
	cfg.Lock.RedisURL = os.Getenv("REDIS_URL")
	if v := os.Getenv("LOCK_DYNAMO_TABLE"); v != "" {
		cfg.Lock.DynamoTable = v
	}

	// Overrides
	if v := os.Getenv("DASHBOARD_LOGIN_URL"); v != "" {
		cfg.Dashboard.LoginURL = v
	}
	if v := os.Getenv("DASHBOARD_REPORT_URL"); v != "" {
		cfg.Dashboard.ReportURL = v
	}
	if v := os.Getenv("DB_DRIVER"); v != "" {
		cfg.Load.Driver = v
	}
	if v := os.Getenv("DB_TABLE"); v != "" {
		cfg.Load.Table = v
	}
	if v := os.Getenv("ETL_BASE_DIR"); v != "" {
		cfg.Storage.BaseDir = v
	}
	if v := os.Getenv("ETL_S3_BUCKET"); v != "" {
		cfg.Storage.S3Bucket = v
	}
	if v := os.Getenv("NOTIFY_TRANSPORT"); v != "" {
		cfg.Notify.Transport = v
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.Notify.SESRegion = v
	}
	if v := os.Getenv("ETL_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("ETL_LOG_FILE"); v != "" {
		cfg.Logging.File = v
	}
	if v := os.Getenv("PUSHGATEWAY_URL"); v != "" {
		cfg.Metrics.PushgatewayURL = v
	}

	cfg.Logging.File = expandHome(cfg.Logging.File)

	return cfg, nil
}

// Validate checks that the static lists are usable and every required secret
// is present. All missing variables are reported at once.
func (c *Config) Validate() error {
	if c.Dashboard.LoginURL == "" || c.Dashboard.ReportURL == "" {
		return errors.New("dashboard.login_url and dashboard.report_url are required")
	}
	if len(c.Locations) == 0 {
		return errors.New("at least one location is required")
	}
	if len(c.Campaigns) == 0 {
		return errors.New("at least one campaign is required")
	}
	if c.Load.Table == "" {
		return errors.New("load.table is required")
	}
	switch c.Load.Driver {
	case "postgres", "snowflake":
	default:
		return fmt.Errorf("load.driver must be postgres or snowflake, got %q", c.Load.Driver)
	}

	var missing []string
	require := func(name, value string) {
		if value == "" {
			missing = append(missing, name)
		}
	}
	require("DASHBOARD_USERNAME", c.Dashboard.Username)
	require("DASHBOARD_PASSWORD", c.Dashboard.Password)
	require("DB_SERVER", c.Load.Server)
	require("DB_DATABASE", c.Load.Database)
	require("DB_USERNAME", c.Load.Username)
	require("DB_PASSWORD", c.Load.Password)

	switch c.Notify.Transport {
	case "smtp":
		require("EMAIL_FROM", c.Notify.From)
		require("EMAIL_TO", strings.Join(c.Notify.To, ","))
		require("EMAIL_PASSWORD", c.Notify.Password)
	case "ses":
		require("EMAIL_FROM", c.Notify.From)
		require("EMAIL_TO", strings.Join(c.Notify.To, ","))
	case "log":
	default:
		return fmt.Errorf("notify.transport must be smtp, ses or log, got %q", c.Notify.Transport)
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingSecret, strings.Join(missing, ", "))
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
