package config

import (
	"errors"
	"fmt"

	"github.com/hengadev/errsx"
)

// Validate reports every invalid field at once as an errsx.Map keyed by
// the field's config path.
func (c *Config) Validate() error {
	var errs errsx.Map

	if err := c.Vault.KDFParams().Validate(); err != nil {
		errs.Set("vault.kdf", err)
	}
	if c.Vault.AppSalt == "" {
		errs.Set("vault.app_salt", errors.New("must not be empty"))
	}
	if c.Vault.MinPinLength < 4 {
		errs.Set("vault.min_pin_length", fmt.Errorf("must be at least 4, got %d", c.Vault.MinPinLength))
	}
	if c.Vault.DeriveTimeout.Duration <= 0 {
		errs.Set("vault.derive_timeout", errors.New("must be positive"))
	}
	if c.Vault.SessionTimeout.Duration <= 0 {
		errs.Set("vault.session_timeout", errors.New("must be positive"))
	}
	if c.Vault.OtpTTL.Duration <= 0 {
		errs.Set("vault.otp_ttl", errors.New("must be positive"))
	}
	if c.Vault.OtpMaxAttempts < 1 {
		errs.Set("vault.otp_max_attempts", errors.New("must be at least 1"))
	}
	if c.Vault.FreeAttempts < 0 {
		errs.Set("vault.free_attempts", errors.New("must not be negative"))
	}
	if c.Vault.BackoffInitial.Duration <= 0 || c.Vault.BackoffMax.Duration < c.Vault.BackoffInitial.Duration {
		errs.Set("vault.backoff", errors.New("initial must be positive and not exceed max"))
	}

	switch c.Storage.Driver {
	case "sqlite", "postgres":
		if c.Storage.DSN == "" {
			errs.Set("storage.dsn", errors.New("must not be empty"))
		}
	case "redis":
		if c.Storage.RedisAddr == "" {
			errs.Set("storage.redis_addr", errors.New("must not be empty"))
		}
	default:
		errs.Set("storage.driver", fmt.Errorf("unsupported driver %q", c.Storage.Driver))
	}

	if c.Mail.RelayURL != "" && (c.Mail.ServiceID == "" || c.Mail.TemplateID == "") {
		errs.Set("mail", errors.New("service_id and template_id are required with relay_url"))
	}

	if c.HTTP.JWTSecret == "" {
		errs.Set("http.jwt_secret", errors.New("must not be empty"))
	}

	switch c.Logging.Backend {
	case "slog", "zap", "zerolog":
	default:
		errs.Set("logging.backend", fmt.Errorf("unsupported backend %q", c.Logging.Backend))
	}

	return errs.AsError()
}
