package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the process configuration filled by Load.
type Config struct {
	App struct {
		Env string
	} `mapstructure:"app"`

	HTTP struct {
		Addr           string
		AllowedOrigins string `mapstructure:"allowed_origins"`
	} `mapstructure:"http"`

	Postgres struct {
		DSN      string
		MaxConns int32 `mapstructure:"max_conns"`
	} `mapstructure:"postgres"`

	Metrics struct {
		Enabled bool
	} `mapstructure:"metrics"`

	Store struct {
		Driver string // postgres | memory
	} `mapstructure:"store"`

	Workflow struct {
		RulesFromDB bool `mapstructure:"rules_from_db"`
	} `mapstructure:"workflow"`
}

// Load reads path (optional) and the environment. LEDGER_POSTGRES_DSN style variables
// override file values; DATABASE_URL is honoured when no DSN is configured.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetDefault("app.env", "dev")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("workflow.rules_from_db", false)

	v.SetEnvPrefix("LEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return Config{}, err
			}
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return c, err
	}
	if c.Postgres.DSN == "" {
		c.Postgres.DSN = os.Getenv("DATABASE_URL")
	}
	if c.HTTP.AllowedOrigins == "" {
		c.HTTP.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")
	}
	return c, nil
}
