package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
dashboard:
  login_url: "https://dash.example.com/login"
  report_url: "https://dash.example.com/reports/agent"
  headless: true
  step_timeout_seconds: 45
  selectors:
    render: "#show_report"

locations: ["Delhi", "Kolkata"]
campaigns: ["Camp1", "Camp2", "Camp3", "Camp4"]

storage:
  base_dir: "/data/raw"

normalize:
  common_renames:
    "Agent Name": "agent_name"
    "Call Date": "call_date"
  campaign_renames:
    Camp2:
      "Disposition": "camp2_disposition"

load:
  driver: "postgres"
  table: "dialer_calls"

notify:
  transport: "log"
  templates:
    no_data_subject: "{{ campaign }} empty"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	// Dashboard
	assert.Equal(t, "https://dash.example.com/login", cfg.Dashboard.LoginURL)
	assert.True(t, cfg.Dashboard.Headless)
	assert.Equal(t, 45, cfg.Dashboard.StepTimeoutSeconds)
	assert.Equal(t, "#show_report", cfg.Dashboard.Selectors.Render)
	assert.Equal(t, "#sign_in_user_name", cfg.Dashboard.Selectors.Username, "unset selectors keep defaults")

	// Matrix
	assert.Equal(t, []string{"Delhi", "Kolkata"}, cfg.Locations)
	assert.Len(t, cfg.Campaigns, 4)

	// Rename tables
	assert.Equal(t, "agent_name", cfg.Normalize.CommonRenames["Agent Name"])
	assert.Equal(t, "camp2_disposition", cfg.Normalize.CampaignRenames["Camp2"]["Disposition"])

	assert.Equal(t, "/data/raw", cfg.Storage.BaseDir)
	assert.Equal(t, "dialer_calls", cfg.Load.Table)
	assert.Equal(t, "{{ campaign }} empty", cfg.Notify.Templates["no_data_subject"])
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "locations: [\"Delhi\"]\n"))
	require.NoError(t, err)

	assert.Equal(t, 30, cfg.Dashboard.StepTimeoutSeconds)
	assert.Equal(t, 120, cfg.Dashboard.DownloadTimeoutSeconds)
	assert.Equal(t, "01/02/2006", cfg.Dashboard.DateFormat)
	assert.Equal(t, "#ffoffice_id", cfg.Dashboard.Selectors.Location)
	assert.Equal(t, `select[name="campaign"]`, cfg.Dashboard.Selectors.Campaign)
	assert.Equal(t, "Raw_Data", cfg.Storage.BaseDir)
	assert.Equal(t, 23, cfg.Normalize.MaxColumns)
	assert.Equal(t, "latin1", cfg.Normalize.Encoding)
	assert.Equal(t, "postgres", cfg.Load.Driver)
	assert.Equal(t, 500, cfg.Load.BatchSize)
	assert.Equal(t, "smtp", cfg.Notify.Transport)
	assert.Equal(t, "smtp.office365.com", cfg.Notify.SMTPHost)
	assert.Equal(t, 587, cfg.Notify.SMTPPort)
	assert.Equal(t, "report-etl", cfg.Lock.Key)
	assert.Equal(t, "us-east-1", cfg.Lock.DynamoRegion)
	assert.Empty(t, cfg.Lock.DynamoTable)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "~/automation.log", cfg.Logging.File)
}

func TestLoadInvalidFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "locations: [unclosed\n"))
	assert.Error(t, err)
}

func setSecrets(t *testing.T) {
	t.Helper()
	t.Setenv("DASHBOARD_USERNAME", "ops")
	t.Setenv("DASHBOARD_PASSWORD", "p@ss")
	t.Setenv("DB_SERVER", "db.internal")
	t.Setenv("DB_DATABASE", "reports")
	t.Setenv("DB_USERNAME", "etl")
	t.Setenv("DB_PASSWORD", "s3cr/t")
	t.Setenv("DB_PORT", "6543")
	t.Setenv("EMAIL_FROM", "etl@example.com")
	t.Setenv("EMAIL_TO", "ops@example.com, lead@example.com")
	t.Setenv("EMAIL_PASSWORD", "mailpw")
}

func TestLoadFromEnv(t *testing.T) {
	setSecrets(t)
	t.Setenv("ETL_BASE_DIR", "/tmp/etl")
	t.Setenv("DB_TABLE", "calls_override")
	t.Setenv("ETL_LOG_FILE", "~/logs/etl.log")
	t.Setenv("LOCK_DYNAMO_TABLE", "etl-locks")

	cfg, err := LoadFromEnv(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "ops", cfg.Dashboard.Username)
	assert.Equal(t, "p@ss", cfg.Dashboard.Password)
	assert.Equal(t, "db.internal", cfg.Load.Server)
	assert.Equal(t, 6543, cfg.Load.Port)
	assert.Equal(t, "calls_override", cfg.Load.Table)
	assert.Equal(t, "/tmp/etl", cfg.Storage.BaseDir)
	assert.Equal(t, []string{"ops@example.com", "lead@example.com"}, cfg.Notify.To)
	assert.Equal(t, "etl-locks", cfg.Lock.DynamoTable)

	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "logs", "etl.log"), cfg.Logging.File)
}

func TestLoadFromEnvBadPort(t *testing.T) {
	t.Setenv("DB_PORT", "five")
	_, err := LoadFromEnv(writeConfig(t, sampleConfig))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	setSecrets(t)
	cfg, err := LoadFromEnv(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	assert.NoError(t, cfg.Validate())
}

func TestValidateMissingSecrets(t *testing.T) {
	for _, name := range []string{
		"DASHBOARD_USERNAME", "DASHBOARD_PASSWORD", "DB_SERVER",
		"DB_DATABASE", "DB_USERNAME", "DB_PASSWORD",
	} {
		t.Setenv(name, "")
	}

	cfg, err := LoadFromEnv(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingSecret))
	assert.Contains(t, err.Error(), "DASHBOARD_PASSWORD")
	assert.Contains(t, err.Error(), "DB_PASSWORD")
	assert.NotContains(t, err.Error(), "EMAIL_FROM", "log transport needs no mail credentials")
}

func TestValidateSMTPNeedsMailSecrets(t *testing.T) {
	setSecrets(t)
	t.Setenv("EMAIL_PASSWORD", "")
	t.Setenv("NOTIFY_TRANSPORT", "smtp")

	cfg, err := LoadFromEnv(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	err = cfg.Validate()
	require.ErrorIs(t, err, ErrMissingSecret)
	assert.Contains(t, err.Error(), "EMAIL_PASSWORD")
}

func TestValidateStructure(t *testing.T) {
	setSecrets(t)

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no locations", func(c *Config) { c.Locations = nil }},
		{"no campaigns", func(c *Config) { c.Campaigns = nil }},
		{"no table", func(c *Config) { c.Load.Table = "" }},
		{"unknown driver", func(c *Config) { c.Load.Driver = "mssql" }},
		{"unknown transport", func(c *Config) { c.Notify.Transport = "pigeon" }},
		{"no login url", func(c *Config) { c.Dashboard.LoginURL = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadFromEnv(writeConfig(t, sampleConfig))
			require.NoError(t, err)
			tt.mutate(cfg)
			err = cfg.Validate()
			require.Error(t, err)
			assert.False(t, errors.Is(err, ErrMissingSecret))
		})
	}
}

func TestStorageGetAWSProfile(t *testing.T) {
	t.Setenv("AWS_PROFILE_OVERRIDE", "")
	t.Setenv("ECS_CONTAINER_METADATA_URI", "")
	t.Setenv("AWS_EXECUTION_ENV", "")

	c := StorageConfig{AWSProfile: "reports"}
	assert.Equal(t, "reports", c.GetAWSProfile())

	t.Setenv("AWS_PROFILE_OVERRIDE", "iam")
	assert.Equal(t, "", c.GetAWSProfile())
}
