package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Database    DatabaseConfig    `mapstructure:"database"`
	AI          AIConfig          `mapstructure:"ai"`
	Webhook     WebhookConfig     `mapstructure:"webhook"`
	Executor    ExecutorConfig    `mapstructure:"executor"`
	Application ApplicationConfig `mapstructure:"application"`
	Deck        DeckConfig        `mapstructure:"deck"`
}

type ApplicationConfig struct {
	Name         string        `mapstructure:"name"`
	Version      string        `mapstructure:"version"`
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Language     string        `mapstructure:"language"`
	ScriptName   string        `mapstructure:"script_name"`
	DownloadName string        `mapstructure:"download_name"`
	Thumbnails   bool          `mapstructure:"thumbnails"`
	Storage      StorageConfig `mapstructure:"storage"`
}

// Addr is the listen address for the web server.
func (c *ApplicationConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type StorageConfig struct {
	// Stage holds one sub-directory per generation run.
	Stage      string `mapstructure:"stage"`
	Thumbnails string `mapstructure:"thumbnails"`
	State      string `mapstructure:"state"`
}

type AIConfig struct {
	ActiveProvider string                      `mapstructure:"active_provider"`
	Providers      map[string]ProviderSettings `mapstructure:"providers"`
}

type ProviderSettings struct {
	Driver      string  `mapstructure:"driver"` // webhook, gemini
	Key         string  `mapstructure:"key"`
	Model       string  `mapstructure:"model"`
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// Active returns the settings of the selected provider, falling back to the
// provider name as driver when no explicit settings exist.
func (c *AIConfig) Active() ProviderSettings {
	s, ok := c.Providers[c.ActiveProvider]
	if !ok {
		s = ProviderSettings{}
	}
	if s.Driver == "" {
		s.Driver = c.ActiveProvider
	}
	return s
}

type WebhookConfig struct {
	URL         string        `mapstructure:"url"`
	Timeout     time.Duration `mapstructure:"timeout"`
	OutputField string        `mapstructure:"output_field"`
	Language    string        `mapstructure:"language"`
}

type ExecutorConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Interpreter    string        `mapstructure:"interpreter"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxOutputBytes int           `mapstructure:"max_output_bytes"`
	Env            []string      `mapstructure:"env"`
}

type DeckConfig struct {
	Catalog string `mapstructure:"catalog"`
	Output  string `mapstructure:"output"`
}

type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"` // sqlite, postgres
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	Options  string `mapstructure:"options"`
	Path     string `mapstructure:"path"`
}

func (c *DatabaseConfig) GetConnectStr() string {
	if c.Driver != "postgres" {
		return c.Path
	}
	if c.URL != "" {
		return c.URL
	}
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}

	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, sslmode)

	if c.Options != "" {
		// Basic URL encoding for the options value: space -> %20
		encodedOptions := strings.ReplaceAll(c.Options, " ", "%20")
		connStr += fmt.Sprintf("&options=%s", encodedOptions)
	}

	return connStr
}

// LoadConfig reads .env, the optional YAML file at path and the environment.
// Flags, when non-nil, override everything else.
func LoadConfig(path string, flags *pflag.FlagSet) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("config.LoadConfig: .env file not found, using system environment variables")
	}

	v := viper.New()
	if path == "" {
		path = "config.yaml"
	}
	v.SetConfigFile(path)

	mappings := []struct {
		key, env string
	}{
		{"database.driver", "DB_DRIVER"},
		{"database.url", "DB_URL"},
		{"database.path", "DB_PATH"},
		{"database.host", "PG_HOST"},
		{"database.port", "PG_PORT"},
		{"database.user", "PG_USER"},
		{"database.password", "PG_PASSWORD"},
		{"database.dbname", "PG_DB"},
		{"database.sslmode", "PG_SSLMODE"},
		{"database.options", "PG_OPTIONS"},
		{"application.host", "HOST"},
		{"application.port", "PORT"},
		{"application.language", "APP_LANGUAGE"},
		{"application.thumbnails", "THUMBNAILS"},

		// Storage
		{"application.storage.stage", "STORAGE_STAGE"},
		{"application.storage.thumbnails", "STORAGE_THUMBNAILS"},
		{"application.storage.state", "STORAGE_STATE"},

		// Generation
		{"ai.active_provider", "AI_PROVIDER"},
		{"ai.providers.gemini.key", "GEMINI_KEY"},
		{"ai.providers.gemini.model", "GEMINI_MODEL"},
		{"webhook.url", "WEBHOOK_URL"},
		{"webhook.timeout", "WEBHOOK_TIMEOUT"},
		{"webhook.output_field", "WEBHOOK_OUTPUT_FIELD"},

		// Execution
		{"executor.enabled", "EXECUTOR_ENABLED"},
		{"executor.interpreter", "EXECUTOR_INTERPRETER"},
		{"executor.timeout", "EXECUTOR_TIMEOUT"},

		// Static deck
		{"deck.catalog", "DECK_CATALOG"},
		{"deck.output", "DECK_OUTPUT"},
	}

	for _, m := range mappings {
		if err := v.BindEnv(m.key, m.env); err != nil {
			return nil, fmt.Errorf("binding %s: %w", m.env, err)
		}
	}

	setDefaults(v)

	if flags != nil {
		var bindErr error
		flags.VisitAll(func(f *pflag.Flag) {
			if key, ok := flagKeys[f.Name]; ok && bindErr == nil {
				bindErr = v.BindPFlag(key, f)
			}
		})
		if bindErr != nil {
			return nil, fmt.Errorf("binding flags: %w", bindErr)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		slog.Debug("config.LoadConfig: config file not found, using defaults", "path", path)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.AI.ActiveProvider == "" {
		cfg.AI.ActiveProvider = "webhook"
	}

	return &cfg, nil
}

// flagKeys maps command line flag names onto configuration keys.
var flagKeys = map[string]string{
	"port":     "application.port",
	"stage":    "application.storage.stage",
	"provider": "ai.active_provider",
	"webhook":  "webhook.url",
	"catalog":  "deck.catalog",
	"output":   "deck.output",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("application.name", "PromptDeck")
	v.SetDefault("application.version", "0.1.0")
	v.SetDefault("application.host", "")
	v.SetDefault("application.port", 8080)
	v.SetDefault("application.language", "en")
	v.SetDefault("application.script_name", "app1.py")
	v.SetDefault("application.download_name", "Generated_Presentation.pptx")
	v.SetDefault("application.thumbnails", false)
	v.SetDefault("application.storage.stage", "stage")
	v.SetDefault("application.storage.thumbnails", "thumbnails")
	v.SetDefault("application.storage.state", "state")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "state/promptdeck.db")

	v.SetDefault("ai.active_provider", "webhook")
	v.SetDefault("ai.providers.gemini.driver", "gemini")
	v.SetDefault("ai.providers.gemini.model", "gemini-2.5-flash")
	v.SetDefault("ai.providers.gemini.temperature", 0.2)
	v.SetDefault("ai.providers.webhook.driver", "webhook")

	v.SetDefault("webhook.url", "http://localhost:5678/webhook/promptdeck")
	v.SetDefault("webhook.timeout", "90s")
	v.SetDefault("webhook.output_field", "output")
	v.SetDefault("webhook.language", "python")

	v.SetDefault("executor.enabled", true)
	v.SetDefault("executor.interpreter", "python3")
	v.SetDefault("executor.timeout", "2m")
	v.SetDefault("executor.max_output_bytes", 64*1024)
	v.SetDefault("executor.env", []string{})

	v.SetDefault("deck.catalog", "data_science_genai")
	v.SetDefault("deck.output", "")
}
