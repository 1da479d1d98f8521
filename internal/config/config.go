package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models auditflow.yml plus the environment overrides applied
// by ApplyEnv. Secrets (keys, webhook secret) normally arrive via
// environment, not the file.
type Config struct {
	Server struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"server"`
	Agent struct {
		Mode                string  `yaml:"mode"`
		ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	} `yaml:"agent"`
	AI struct {
		APIKey        string `yaml:"api_key"`
		AnalysisModel string `yaml:"analysis_model"`
		ContentModel  string `yaml:"content_model"`
	} `yaml:"ai"`
	ClickUp struct {
		APIKey string `yaml:"api_key"`
		ListID string `yaml:"list_id"`
	} `yaml:"clickup"`
	Webhooks struct {
		Secret    string            `yaml:"secret"`
		Endpoints map[string]string `yaml:"endpoints"`
	} `yaml:"webhooks"`
	JWTSecret string `yaml:"jwt_secret"`
	Debug     bool   `yaml:"debug"`
}

// Agent modes.
const (
	ModeAutonomous = "autonomous"
	ModeSupervised = "supervised"
	ModeManual     = "manual"
)

// DefaultConfidenceThreshold gates automatic validation when the file
// does not set one.
const DefaultConfidenceThreshold = 0.75

// Load reads and validates config from workspace, falling back to the
// defaults when no file exists. Environment overrides always apply.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := Default()
			cfg.ApplyEnv()
			if err := cfg.Validate(); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, err
	}
	cfg, err := FromYAML(data)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ValidMode reports whether mode is one of the three agent modes.
func ValidMode(mode string) bool {
	switch mode {
	case ModeAutonomous, ModeSupervised, ModeManual:
		return true
	}
	return false
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config.server.port %d out of range", c.Server.Port)
	}
	if !ValidMode(c.Agent.Mode) {
		return fmt.Errorf("config.agent.mode must be autonomous, supervised or manual")
	}
	if c.Agent.ConfidenceThreshold < 0 || c.Agent.ConfidenceThreshold > 1 {
		return fmt.Errorf("config.agent.confidence_threshold must be within [0,1]")
	}
	for name, url := range c.Webhooks.Endpoints {
		if name == "" {
			return fmt.Errorf("config.webhooks.endpoints has empty channel name")
		}
		if url == "" {
			return fmt.Errorf("webhook channel %s has empty url", name)
		}
	}
	return nil
}

// ApplyEnv overlays AUDITFLOW_* environment variables onto the config.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("AUDITFLOW_AI_API_KEY"); v != "" {
		c.AI.APIKey = v
	}
	if v := os.Getenv("AUDITFLOW_CLICKUP_API_KEY"); v != "" {
		c.ClickUp.APIKey = v
	}
	if v := os.Getenv("AUDITFLOW_CLICKUP_LIST_ID"); v != "" {
		c.ClickUp.ListID = v
	}
	if v := os.Getenv("AUDITFLOW_WEBHOOK_SECRET"); v != "" {
		c.Webhooks.Secret = v
	}
	if v := os.Getenv("AUDITFLOW_JWT_SECRET"); v != "" {
		c.JWTSecret = v
	}
	if v := os.Getenv("AUDITFLOW_MODE"); v != "" {
		c.Agent.Mode = v
	}
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "auditflow.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// FromYAML parses config from raw YAML bytes on top of the defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `server:
  host: 0.0.0.0
  port: 3000

agent:
  mode: autonomous
  confidence_threshold: 0.75

ai:
  analysis_model: gemini-2.5-flash
  content_model: gemini-2.5-flash

webhooks:
  endpoints: {}
`
