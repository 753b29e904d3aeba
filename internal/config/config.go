package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig    `yaml:"server"`
	Logging  LoggingConfig   `yaml:"logging"`
	Paths    PathsConfig     `yaml:"paths"`
	Import   ImportConfig    `yaml:"import"`
	Printers []Printer       `yaml:"printers"`
	Webhooks []WebhookTarget `yaml:"webhooks"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// PathsConfig names the four directories the daemon operates on. JobsDir
// holds active artifacts, CompletedDir the assets of completed jobs, and
// ImportDir is the drop zone scanned by the import watcher.
type PathsConfig struct {
	DataDir      string `yaml:"data_dir"`
	JobsDir      string `yaml:"jobs_dir"`
	CompletedDir string `yaml:"completed_dir"`
	ImportDir    string `yaml:"import_dir"`
}

type ImportConfig struct {
	ScanInterval time.Duration `yaml:"scan_interval"`
}

// Printer identifies one network printer. AccessCode doubles as the FTPS
// and MQTT password; Serial selects the device topics.
type Printer struct {
	Name       string `yaml:"name"`
	Host       string `yaml:"host"`
	AccessCode string `yaml:"access_code"`
	Serial     string `yaml:"serial"`
}

type WebhookTarget struct {
	URL    string   `yaml:"url"`
	Secret string   `yaml:"secret"`
	Events []string `yaml:"events"`
}

// Key is the canonical session identity for a printer: the name when set,
// the host otherwise.
func (p Printer) Key() string {
	if p.Name != "" {
		return p.Name
	}
	return p.Host
}

func defaults() *Config {
	base := "./data"
	return &Config{
		Server: ServerConfig{
			Port: 8080,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Paths: PathsConfig{
			DataDir:      base,
			JobsDir:      filepath.Join(base, "jobs"),
			CompletedDir: filepath.Join(base, "completed"),
			ImportDir:    filepath.Join(base, "import"),
		},
		Import: ImportConfig{
			ScanInterval: 2 * time.Second,
		},
	}
}

func Load(configPath string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Paths.DataDir == "" {
		return fmt.Errorf("data directory is required")
	}
	if c.Paths.JobsDir == "" {
		return fmt.Errorf("jobs directory is required")
	}
	if c.Paths.CompletedDir == "" {
		return fmt.Errorf("completed directory is required")
	}
	if c.Paths.ImportDir == "" {
		return fmt.Errorf("import directory is required")
	}

	if c.Import.ScanInterval < 0 {
		return fmt.Errorf("import scan interval must be non-negative")
	}

	for i, p := range c.Printers {
		if p.Name == "" && p.Host == "" {
			return fmt.Errorf("printer %d has neither name nor host", i)
		}
	}

	for i, w := range c.Webhooks {
		if w.URL == "" {
			return fmt.Errorf("webhook %d has no url", i)
		}
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	validFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (valid: json, text)", c.Logging.Format)
	}

	return nil
}

// EnsureDirectories creates the data, jobs, completed and import directories
// when missing. The daemon refuses to start without them.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.JobsDir, c.Paths.CompletedDir, c.Paths.ImportDir} {
		if dir == "" {
			return fmt.Errorf("missing directory path for application data")
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create required directory %s: %w", dir, err)
		}
	}
	return nil
}
