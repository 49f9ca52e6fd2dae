package appconf

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/qurore/vanbus/internal/fusion"
)

// FileConfig is the YAML layout of a configuration file.
type FileConfig struct {
	Env          string         `yaml:"env" validate:"omitempty,oneof=development test production"`
	Verbose      bool           `yaml:"verbose"`
	JSONLogs     bool           `yaml:"json_logs"`
	Source       string         `yaml:"source" validate:"omitempty,oneof=sqlite postgres"`
	DatabaseURL  string         `yaml:"database_url"`
	SQLitePath   string         `yaml:"sqlite_path"`
	Snapshot     bool           `yaml:"snapshot"`
	GTFSPath     string         `yaml:"gtfs"`
	Routes       []string       `yaml:"routes" validate:"dive,required"`
	WeatherSince string         `yaml:"weather_since" validate:"omitempty,datetime=2006-01-02"`
	ExportPath   string         `yaml:"export"`
	MetricsPath  string         `yaml:"metrics_textfile"`
	NowFile      string         `yaml:"now_file"`
	Fusion       *fusion.Config `yaml:"fusion" validate:"-"`
}

// LoadFromFile reads and validates a YAML configuration file.
func LoadFromFile(path string) (*FileConfig, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("failed to stat config file %s: %w", path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if err := validator.New().Struct(fc); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &fc, nil
}

// ToAppConfig layers the file over Default. Fusion settings missing from
// the file keep their defaults.
func (fc *FileConfig) ToAppConfig() Config {
	cfg := Default()
	if fc.Env != "" {
		cfg.Env = EnvFlagToEnvironment(fc.Env)
	}
	cfg.Verbose = fc.Verbose
	cfg.JSONLogs = fc.JSONLogs
	if fc.Source != "" {
		cfg.Source = Source(fc.Source)
	}
	cfg.DatabaseURL = fc.DatabaseURL
	if fc.SQLitePath != "" {
		cfg.SQLitePath = fc.SQLitePath
	}
	cfg.Snapshot = fc.Snapshot
	cfg.GTFSPath = fc.GTFSPath
	if len(fc.Routes) > 0 {
		cfg.Routes = fc.Routes
	}
	if fc.WeatherSince != "" {
		// already validated as a date
		since, _ := time.Parse(time.DateOnly, fc.WeatherSince)
		cfg.WeatherSince = since
	}
	cfg.ExportPath = fc.ExportPath
	cfg.MetricsPath = fc.MetricsPath
	cfg.NowFile = fc.NowFile
	if fc.Fusion != nil {
		cfg.Fusion = mergeFusion(cfg.Fusion, *fc.Fusion)
	}
	return cfg
}

func mergeFusion(base, over fusion.Config) fusion.Config {
	if over.WeatherBucket != 0 {
		base.WeatherBucket = over.WeatherBucket
	}
	if over.EventBucket != 0 {
		base.EventBucket = over.EventBucket
	}
	if over.RadiusKm != 0 {
		base.RadiusKm = over.RadiusKm
	}
	if over.NoEventDistanceKm != 0 {
		base.NoEventDistanceKm = over.NoEventDistanceKm
	}
	if over.RushHours != nil {
		base.RushHours = over.RushHours
	}
	if over.Policy != "" {
		base.Policy = over.Policy
	}
	if over.Workers != 0 {
		base.Workers = over.Workers
	}
	if over.TimeZone != "" {
		base.TimeZone = over.TimeZone
	}
	return base
}
