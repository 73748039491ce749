package config

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	KeyDatabasePath         = "database.path"
	KeyServerPort           = "server.port"
	KeyImportMaxUploadMB    = "import.max_upload_mb"
	KeyDashboardDefaultDays = "dashboard.default_days"
	KeyDashboardFormsURL    = "dashboard.forms_url"
	KeyLogLevel             = "log.level"
	KeyLogFormat            = "log.format"
)

type Config struct {
	Database  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Import    ImportConfig    `mapstructure:"import" yaml:"import"`
	Dashboard DashboardConfig `mapstructure:"dashboard" yaml:"dashboard"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path" yaml:"path" validate:"required"`
}

type ServerConfig struct {
	Port int `mapstructure:"port" yaml:"port" validate:"min=1,max=65535"`
}

type ImportConfig struct {
	MaxUploadMB int `mapstructure:"max_upload_mb" yaml:"max_upload_mb" validate:"min=1,max=512"`
}

// MaxUploadBytes is the multipart size limit for uploaded spreadsheets.
func (c ImportConfig) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}

type DashboardConfig struct {
	DefaultDays int `mapstructure:"default_days" yaml:"default_days" validate:"min=1,max=366"`
	// FormsURL links the dashboard to an external feedback form.
	FormsURL string `mapstructure:"forms_url" yaml:"forms_url" validate:"omitempty,url"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" yaml:"format" validate:"oneof=console json"`
}

// SetDefaults sets default values if not provided
func SetDefaults() {
	setDefaults(viper.GetViper())
}

// LoadAndValidate loads config from Viper and validates it
func LoadAndValidate() (*Config, error) {
	return loadAndValidateFromViper(viper.GetViper())
}

// ValidateYAMLContent validates configuration from raw YAML content.
func ValidateYAMLContent(content []byte) (*Config, error) {
	local := viper.New()
	setDefaults(local)
	local.SetConfigType("yaml")
	if err := local.ReadConfig(bytes.NewReader(content)); err != nil {
		return nil, fmt.Errorf("read config content: %w", err)
	}
	return loadAndValidateFromViper(local)
}

// YAML renders the effective configuration in the config file format.
func (c Config) YAML() ([]byte, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal config yaml: %w", err)
	}
	return out, nil
}

// ExampleYAML returns the default configuration template.
func ExampleYAML() string {
	return `# metricboard configuration
database:
  path: "./metricboard.db"

server:
  port: 8080

import:
  max_upload_mb: 32

dashboard:
  default_days: 30
  forms_url: ""

log:
  level: "info"
  format: "console"
`
}

func loadAndValidateFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	cfg.Log.Format = strings.ToLower(strings.TrimSpace(cfg.Log.Format))
	cfg.Database.Path = strings.TrimSpace(cfg.Database.Path)

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyDatabasePath, "./metricboard.db")
	v.SetDefault(KeyServerPort, 8080)
	v.SetDefault(KeyImportMaxUploadMB, 32)
	v.SetDefault(KeyDashboardDefaultDays, 30)
	v.SetDefault(KeyDashboardFormsURL, "")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "console")
}
