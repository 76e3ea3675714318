package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ConfigError describes a single invalid configuration field.
//
//nolint:revive // ConfigError is intentionally named for clarity in external API usage
type ConfigError struct {
	Field   string // config field path (e.g., "fetch.backoff.base")
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s %s", e.Field, e.Message)
}

var validate = validator.New()

// Validate checks struct constraints first, then the cross-field store requirements.
// All field errors are joined so one run reports every problem.
func Validate(cfg *Config) error {
	var errs []error

	if err := validate.Struct(cfg); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return err
		}
		for _, fe := range fieldErrs {
			errs = append(errs, &ConfigError{Field: fieldPath(fe), Message: describe(fe)})
		}
	}

	errs = append(errs, validateStore(&cfg.Store)...)

	obs := cfg.Observability
	obs.ApplyDefaults()
	if err := obs.Validate(); err != nil {
		errs = append(errs, &ConfigError{Field: "observability", Message: err.Error()})
	}

	return errors.Join(errs...)
}

func validateStore(cfg *StoreConfig) []error {
	var errs []error
	switch cfg.Type {
	case StoreRedis:
		if cfg.Redis.Host == "" {
			errs = append(errs, &ConfigError{Field: "store.redis.host", Message: "is required for the redis store"})
		}
		if cfg.Redis.Port <= 0 || cfg.Redis.Port > 65535 {
			errs = append(errs, &ConfigError{Field: "store.redis.port", Message: fmt.Sprintf("invalid port: %d", cfg.Redis.Port)})
		}
	case StoreLevelDB:
		if cfg.LevelDB.Path == "" {
			errs = append(errs, &ConfigError{Field: "store.leveldb.path", Message: "is required for the leveldb store"})
		}
	case StoreSQLite, StorePostgres:
		if cfg.SQL.DSN == "" {
			errs = append(errs, &ConfigError{Field: "store.sql.dsn", Message: "is required for the " + cfg.Type + " store"})
		}
		if cfg.SQL.Table == "" {
			errs = append(errs, &ConfigError{Field: "store.sql.table", Message: "is required for the " + cfg.Type + " store"})
		}
	}
	return errs
}

// fieldPath turns "Config.Fetch.Backoff.Base" into "fetch.backoff.base".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		ns = ns[i+1:]
	}
	return strings.ToLower(ns)
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return fmt.Sprintf("must be one of [%s], got %q", fe.Param(), fmt.Sprint(fe.Value()))
	case "gte":
		return fmt.Sprintf("must be >= %s, got %v", fe.Param(), fe.Value())
	case "url":
		return "must be an absolute URL"
	case "file":
		return "must point to an existing file"
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}
