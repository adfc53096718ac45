package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hengadev/errsx"
	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment variable read by parseEnv.
const EnvPrefix = "MEDVAULT_"

// dotenvFiles is a seam for tests.
var dotenvFiles = []string{".env"}

type envSetter func(c *Config, value string) error

func str(dst func(c *Config) *string) envSetter {
	return func(c *Config, v string) error {
		*dst(c) = v
		return nil
	}
}

func integer(dst func(c *Config) *int) envSetter {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst(c) = n
		return nil
	}
}

func uinteger(dst func(c *Config) *uint32) envSetter {
	return func(c *Config, v string) error {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return err
		}
		*dst(c) = uint32(n)
		return nil
	}
}

func duration(dst func(c *Config) *time.Duration) envSetter {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*dst(c) = d
		return nil
	}
}

func list(dst func(c *Config) *[]string) envSetter {
	return func(c *Config, v string) error {
		var out []string
		for _, item := range strings.Split(v, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
		*dst(c) = out
		return nil
	}
}

// envVars maps variable names (without EnvPrefix) to the field they set.
var envVars = map[string]envSetter{
	"VAULT_KDF":               str(func(c *Config) *string { return &c.Vault.KDF }),
	"VAULT_PBKDF2_ITERATIONS": uinteger(func(c *Config) *uint32 { return &c.Vault.PBKDF2Iterations }),
	"VAULT_ARGON2_TIME":       uinteger(func(c *Config) *uint32 { return &c.Vault.Argon2Time }),
	"VAULT_ARGON2_MEMORY":     uinteger(func(c *Config) *uint32 { return &c.Vault.Argon2Memory }),
	"VAULT_APP_SALT":          str(func(c *Config) *string { return &c.Vault.AppSalt }),
	"VAULT_MIN_PIN_LENGTH":    integer(func(c *Config) *int { return &c.Vault.MinPinLength }),
	"VAULT_DERIVE_TIMEOUT":    duration(func(c *Config) *time.Duration { return &c.Vault.DeriveTimeout.Duration }),
	"VAULT_SESSION_TIMEOUT":   duration(func(c *Config) *time.Duration { return &c.Vault.SessionTimeout.Duration }),
	"VAULT_OTP_TTL":           duration(func(c *Config) *time.Duration { return &c.Vault.OtpTTL.Duration }),
	"VAULT_OTP_MAX_ATTEMPTS":  integer(func(c *Config) *int { return &c.Vault.OtpMaxAttempts }),
	"VAULT_FREE_ATTEMPTS":     integer(func(c *Config) *int { return &c.Vault.FreeAttempts }),
	"STORAGE_DRIVER":          str(func(c *Config) *string { return &c.Storage.Driver }),
	"STORAGE_DSN":             str(func(c *Config) *string { return &c.Storage.DSN }),
	"REDIS_ADDR":              str(func(c *Config) *string { return &c.Storage.RedisAddr }),
	"REDIS_PASSWORD":          str(func(c *Config) *string { return &c.Storage.RedisPassword }),
	"REDIS_DB":                integer(func(c *Config) *int { return &c.Storage.RedisDB }),
	"MAIL_RELAY_URL":          str(func(c *Config) *string { return &c.Mail.RelayURL }),
	"MAIL_SERVICE_ID":         str(func(c *Config) *string { return &c.Mail.ServiceID }),
	"MAIL_TEMPLATE_ID":        str(func(c *Config) *string { return &c.Mail.TemplateID }),
	"MAIL_USER_ID":            str(func(c *Config) *string { return &c.Mail.UserID }),
	"HTTP_ADDR":               str(func(c *Config) *string { return &c.HTTP.Addr }),
	"HTTP_ALLOWED_ORIGINS":    list(func(c *Config) *[]string { return &c.HTTP.AllowedOrigins }),
	"JWT_SECRET":              str(func(c *Config) *string { return &c.HTTP.JWTSecret }),
	"NATS_URL":                str(func(c *Config) *string { return &c.NATS.URL }),
	"S3_BUCKET":               str(func(c *Config) *string { return &c.S3.Bucket }),
	"S3_REGION":               str(func(c *Config) *string { return &c.S3.Region }),
	"S3_ENDPOINT":             str(func(c *Config) *string { return &c.S3.Endpoint }),
	"S3_ACCESS_KEY":           str(func(c *Config) *string { return &c.S3.AccessKey }),
	"S3_SECRET_KEY":           str(func(c *Config) *string { return &c.S3.SecretKey }),
	"LOG_BACKEND":             str(func(c *Config) *string { return &c.Logging.Backend }),
	"LOG_LEVEL":               str(func(c *Config) *string { return &c.Logging.Level }),
	"LOG_FORMAT":              str(func(c *Config) *string { return &c.Logging.Format }),
	"LOCAL_USER_ID":           str(func(c *Config) *string { return &c.Local.UserID }),
	"LOCAL_EMAIL":             str(func(c *Config) *string { return &c.Local.Email }),
	"LOCAL_NAME":              str(func(c *Config) *string { return &c.Local.Name }),
}

// parseEnv loads .env files (missing files are ignored; variables already
// set in the process win) and applies MEDVAULT_* variables.
func parseEnv(cfg *Config) error {
	for _, f := range dotenvFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}

	var errs errsx.Map
	for name, set := range envVars {
		v, ok := os.LookupEnv(EnvPrefix + name)
		if !ok {
			continue
		}
		if err := set(cfg, v); err != nil {
			errs.Set(EnvPrefix+name, err)
		}
	}
	return errs.AsError()
}
