// Package config loads the runtime settings from the environment, an
// optional .env file and an optional config file.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/anatolio-deb/joinbot/internal/plan"
)

// ConfigurationError is a missing or invalid setting. It is fatal at startup.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string {
	return "configuration: " + e.Err.Error()
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

type Config struct {
	BotToken           string        `mapstructure:"BOT_TOKEN" validate:"required"`
	AdminID            int64         `mapstructure:"ADMIN_ID" validate:"required"`
	ChatID             int64         `mapstructure:"CHAT_ID" validate:"required"`
	FallbackInviteLink string        `mapstructure:"FALLBACK_INVITE_LINK" validate:"omitempty,url"`
	SweepInterval      time.Duration `mapstructure:"SWEEP_INTERVAL" validate:"gte=1s"`
	ReminderWindow     time.Duration `mapstructure:"REMINDER_WINDOW" validate:"gte=0"`
	InviteTTL          time.Duration `mapstructure:"INVITE_TTL" validate:"gt=0,lte=24h"`
	ProviderTimeout    time.Duration `mapstructure:"PROVIDER_TIMEOUT" validate:"gt=0"`

	StoreBackend  string `mapstructure:"STORE_BACKEND" validate:"oneof=postgres redis memory"`
	DatabaseURL   string `mapstructure:"DATABASE_URL" validate:"required_if=StoreBackend postgres"`
	RedisAddr     string `mapstructure:"REDIS_ADDR" validate:"required_if=StoreBackend redis"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB" validate:"gte=0"`
	RedisPrefix   string `mapstructure:"REDIS_PREFIX" validate:"required"`

	AMQPURL      string `mapstructure:"AMQP_URL"`
	AMQPExchange string `mapstructure:"AMQP_EXCHANGE" validate:"required_with=AMQPURL"`

	HTTPAddr            string `mapstructure:"HTTP_ADDR"`
	HTTPAPIKey          string `mapstructure:"HTTP_API_KEY"`
	PaymentInstructions string `mapstructure:"PAYMENT_INSTRUCTIONS"`

	LogLevel  string `mapstructure:"LOG_LEVEL" validate:"oneof=trace debug info warn warning error"`
	LogFormat string `mapstructure:"LOG_FORMAT" validate:"oneof=text json"`

	// Catalog is built from PLANS.
	Catalog *plan.Catalog `mapstructure:"-" validate:"-"`
}

var keys = []string{
	"BOT_TOKEN", "ADMIN_ID", "CHAT_ID", "PLANS", "FALLBACK_INVITE_LINK",
	"SWEEP_INTERVAL", "REMINDER_WINDOW", "INVITE_TTL", "PROVIDER_TIMEOUT",
	"STORE_BACKEND", "DATABASE_URL",
	"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB", "REDIS_PREFIX",
	"AMQP_URL", "AMQP_EXCHANGE", "HTTP_ADDR", "HTTP_API_KEY", "PAYMENT_INSTRUCTIONS",
	"LOG_LEVEL", "LOG_FORMAT",
}

const defaultInstructions = "Pay the plan price to the administrator and keep the receipt."

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report settings by their environment names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// LoadEnvFile loads variables from a dotenv file without overriding ones
// already set. An empty path means ".env", which may be absent.
func LoadEnvFile(path string) error {
	if path == "" {
		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return &ConfigurationError{Err: fmt.Errorf("load .env: %w", err)}
		}
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return &ConfigurationError{Err: fmt.Errorf("load %s: %w", path, err)}
	}
	return nil
}

// Load reads the configuration. Environment variables override values from
// configFile, which is optional.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	v.SetDefault("SWEEP_INTERVAL", "1m")
	v.SetDefault("REMINDER_WINDOW", "48h")
	v.SetDefault("INVITE_TTL", "2h")
	v.SetDefault("PROVIDER_TIMEOUT", "10s")
	v.SetDefault("STORE_BACKEND", "postgres")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_PREFIX", "joinbot")
	v.SetDefault("AMQP_EXCHANGE", "joinbot.events")
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("PAYMENT_INSTRUCTIONS", defaultInstructions)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
	v.AutomaticEnv()

	// Bind explicitly so that Unmarshal sees variables without defaults.
	for _, key := range keys {
		_ = v.BindEnv(key)
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, &ConfigurationError{Err: fmt.Errorf("read %s: %w", configFile, err)}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &ConfigurationError{Err: err}
	}
	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(cfg.StoreBackend))
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)

	if err := validate.Struct(&cfg); err != nil {
		return nil, &ConfigurationError{Err: describe(err)}
	}

	plans, err := loadPlans(v)
	if err != nil {
		return nil, &ConfigurationError{Err: err}
	}
	catalog, err := plan.NewCatalog(plans)
	if err != nil {
		return nil, &ConfigurationError{Err: err}
	}
	cfg.Catalog = catalog
	return &cfg, nil
}

type planEntry struct {
	ID    string `mapstructure:"id"`
	Days  int    `mapstructure:"days"`
	Price string `mapstructure:"price"`
	Title string `mapstructure:"title"`
}

// loadPlans accepts PLANS as the compact string form or, from a config file,
// as a list of entries.
func loadPlans(v *viper.Viper) ([]plan.Plan, error) {
	switch raw := v.Get("PLANS").(type) {
	case nil:
		return nil, errors.New("PLANS is required")
	case string:
		if strings.TrimSpace(raw) == "" {
			return nil, errors.New("PLANS is required")
		}
		return plan.Parse(raw)
	default:
		var entries []planEntry
		if err := v.UnmarshalKey("PLANS", &entries); err != nil {
			return nil, fmt.Errorf("PLANS: %w", err)
		}
		plans := make([]plan.Plan, 0, len(entries))
		for i, e := range entries {
			price, err := decimal.NewFromString(e.Price)
			if err != nil {
				return nil, fmt.Errorf("PLANS[%d] price: %w", i, err)
			}
			plans = append(plans, plan.Plan{ID: e.ID, Title: e.Title, DurationDays: e.Days, Price: price})
		}
		return plans, nil
	}
}

func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required", "required_if", "required_with":
			msgs = append(msgs, fe.Field()+" is required")
		default:
			msgs = append(msgs, fmt.Sprintf("%s=%v fails %s", fe.Field(), fe.Value(), fe.ActualTag()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}
