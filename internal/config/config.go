package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Prefix is prepended to every environment variable name.
const Prefix = "SEATCON_"

var validate = validator.New(validator.WithRequiredStructEnabled())

type ServerConfig struct {
	ListenAddr  string `env:"LISTEN_ADDR" envDefault:":8080" validate:"required"`
	DBURL       string `env:"DB_URL" validate:"required"`
	TLSCertPath string `env:"TLS_CERT"`
	TLSKeyPath  string `env:"TLS_KEY"`
	// ServiceKey is the bearer token clients present.
	ServiceKey string `env:"SERVICE_KEY" validate:"required,min=16"`
}

type ClientConfig struct {
	BackendURL string `env:"BACKEND_URL" envDefault:"http://localhost:8080" validate:"required,url"`
	ServiceKey string `env:"SERVICE_KEY"`

	TranslatorURL     string  `env:"TRANSLATOR_URL" envDefault:"http://localhost:5000" validate:"required,url"`
	TranslatorKey     string  `env:"TRANSLATOR_KEY"`
	TranslatorRPS     float64 `env:"TRANSLATOR_RPS" envDefault:"5" validate:"gte=0"`
	TranslatorBurst   int     `env:"TRANSLATOR_BURST" envDefault:"5" validate:"gte=1"`
	TranslatorRetries int     `env:"TRANSLATOR_RETRIES" envDefault:"3" validate:"gte=0,lte=10"`

	CacheTTL        time.Duration `env:"CACHE_TTL" envDefault:"24h" validate:"gt=0"`
	CacheMaxEntries int           `env:"CACHE_MAX_ENTRIES" envDefault:"5000" validate:"gte=0"`

	PageSize        int    `env:"PAGE_SIZE" envDefault:"50" validate:"min=1,max=500"`
	AnnouncerRole   string `env:"ANNOUNCER_ROLE" envDefault:"speaker" validate:"oneof=attendee speaker admin"`
	DefaultLanguage string `env:"DEFAULT_LANGUAGE" envDefault:"en" validate:"required,bcp47_language_tag"`

	DataDir    string `env:"DATA_DIR"`
	StoreKind  string `env:"STORE_KIND" envDefault:"file" validate:"oneof=file pebble memory"`
	StoreQuota int64  `env:"STORE_QUOTA" envDefault:"5242880" validate:"gte=0"`

	UserID   string `env:"USER_ID" validate:"required,max=128"`
	UserName string `env:"USER_NAME" validate:"max=256"`
	UserRole string `env:"USER_ROLE" envDefault:"attendee" validate:"oneof=attendee speaker admin"`

	// MetricsAddr serves the client's prometheus collectors when set.
	MetricsAddr string `env:"METRICS_ADDR" validate:"omitempty,hostname_port"`
}

// loadDotenv preloads variables from the given files, or ./.env when none
// are named. Missing files are ignored; variables already set win.
func loadDotenv(files []string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

func LoadServer(dotenv ...string) (ServerConfig, error) {
	var cfg ServerConfig
	if err := loadDotenv(dotenv); err != nil {
		return cfg, err
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: Prefix}); err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}

func LoadClient(dotenv ...string) (ClientConfig, error) {
	var cfg ClientConfig
	if err := loadDotenv(dotenv); err != nil {
		return cfg, err
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: Prefix}); err != nil {
		return ClientConfig{}, err
	}
	return cfg, nil
}

func (c ServerConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if (c.TLSCertPath == "") != (c.TLSKeyPath == "") {
		return errors.New("both tls cert and key are required when enabling tls")
	}
	return nil
}

func (c ClientConfig) Validate() error {
	return validate.Struct(c)
}
