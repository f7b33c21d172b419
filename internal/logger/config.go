package logger

// Config controls logger construction.
type Config struct {
	// Level is one of debug, info, warn, error, fatal.
	Level       string   `env:"LOG_LEVEL"   yaml:"level"`
	Development bool     `env:"APP_DEBUG"   yaml:"development"`
	OutputPaths []string `yaml:"output_paths"`
}

const (
	// DefaultLevel is used when no level is configured.
	DefaultLevel = "info"
)

// DefaultOutputPaths writes to stdout.
var DefaultOutputPaths = []string{"stdout"}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.Level == "" {
		c.Level = DefaultLevel
	}
	if c.Development {
		c.Level = "debug"
	}
	if len(c.OutputPaths) == 0 {
		c.OutputPaths = DefaultOutputPaths
	}
}
