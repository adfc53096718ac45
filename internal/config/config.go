// Package config handles configuration for the vault daemon and the terminal
// client: defaults, .env and MEDVAULT_* environment variables, a JSON or YAML
// file overlay, and command-line flags, in that order of precedence.
package config

import (
	"time"

	"github.com/dmitrijs2005/medvault/internal/common"
	"github.com/dmitrijs2005/medvault/internal/cryptox"
	"github.com/dmitrijs2005/medvault/internal/timex"
)

// Config holds runtime settings for every MedVault component.
type Config struct {
	Vault   Vault   `json:"vault" yaml:"vault"`
	Storage Storage `json:"storage" yaml:"storage"`
	Mail    Mail    `json:"mail" yaml:"mail"`
	HTTP    HTTP    `json:"http" yaml:"http"`
	NATS    NATS    `json:"nats" yaml:"nats"`
	S3      S3      `json:"s3" yaml:"s3"`
	Logging Logging `json:"logging" yaml:"logging"`
	Local   Local   `json:"local" yaml:"local"`
}

// Vault tunes key derivation and the PIN lifecycle.
type Vault struct {
	KDF              string         `json:"kdf" yaml:"kdf"`
	PBKDF2Iterations uint32         `json:"pbkdf2_iterations" yaml:"pbkdf2_iterations"`
	Argon2Time       uint32         `json:"argon2_time" yaml:"argon2_time"`
	Argon2Memory     uint32         `json:"argon2_memory" yaml:"argon2_memory"`
	Argon2Threads    uint8          `json:"argon2_threads" yaml:"argon2_threads"`
	AppSalt          string         `json:"app_salt" yaml:"app_salt"`
	MinPinLength     int            `json:"min_pin_length" yaml:"min_pin_length"`
	DeriveTimeout    timex.Duration `json:"derive_timeout" yaml:"derive_timeout"`
	SessionTimeout   timex.Duration `json:"session_timeout" yaml:"session_timeout"`
	IdleCheck        timex.Duration `json:"idle_check" yaml:"idle_check"`
	OtpTTL           timex.Duration `json:"otp_ttl" yaml:"otp_ttl"`
	OtpMaxAttempts   int            `json:"otp_max_attempts" yaml:"otp_max_attempts"`
	FreeAttempts     int            `json:"free_attempts" yaml:"free_attempts"`
	BackoffInitial   timex.Duration `json:"backoff_initial" yaml:"backoff_initial"`
	BackoffMax       timex.Duration `json:"backoff_max" yaml:"backoff_max"`
}

// KDFParams returns the derivation parameters selected by KDF.
func (v Vault) KDFParams() cryptox.KDFParams {
	if v.KDF == cryptox.KDFArgon2id {
		return cryptox.KDFParams{
			Algorithm:  cryptox.KDFArgon2id,
			Iterations: v.Argon2Time,
			Memory:     v.Argon2Memory,
			Threads:    v.Argon2Threads,
		}
	}
	return cryptox.KDFParams{Algorithm: v.KDF, Iterations: v.PBKDF2Iterations}
}

// Storage selects the Store backend.
type Storage struct {
	Driver        string `json:"driver" yaml:"driver"` // sqlite, postgres or redis
	DSN           string `json:"dsn" yaml:"dsn"`
	RedisAddr     string `json:"redis_addr" yaml:"redis_addr"`
	RedisPassword string `json:"redis_password" yaml:"redis_password"`
	RedisDB       int    `json:"redis_db" yaml:"redis_db"`
}

// Mail configures OTP delivery. An empty RelayURL selects the log-only mailer.
type Mail struct {
	RelayURL   string         `json:"relay_url" yaml:"relay_url"`
	ServiceID  string         `json:"service_id" yaml:"service_id"`
	TemplateID string         `json:"template_id" yaml:"template_id"`
	UserID     string         `json:"user_id" yaml:"user_id"`
	RetryMax   int            `json:"retry_max" yaml:"retry_max"`
	Timeout    timex.Duration `json:"timeout" yaml:"timeout"`
}

type HTTP struct {
	Addr            string         `json:"addr" yaml:"addr"`
	AllowedOrigins  []string       `json:"allowed_origins" yaml:"allowed_origins"`
	JWTSecret       string         `json:"jwt_secret" yaml:"jwt_secret"`
	ShutdownTimeout timex.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// NATS configures the optional event bridge. Empty URL disables it.
type NATS struct {
	URL           string `json:"url" yaml:"url"`
	SubjectPrefix string `json:"subject_prefix" yaml:"subject_prefix"`
}

// S3 configures ciphertext backups. Empty Bucket disables them.
type S3 struct {
	Bucket    string `json:"bucket" yaml:"bucket"`
	Region    string `json:"region" yaml:"region"`
	Endpoint  string `json:"endpoint" yaml:"endpoint"`
	AccessKey string `json:"access_key" yaml:"access_key"`
	SecretKey string `json:"secret_key" yaml:"secret_key"`
	Prefix    string `json:"prefix" yaml:"prefix"`
}

type Logging struct {
	Backend string `json:"backend" yaml:"backend"`
	Level   string `json:"level" yaml:"level"`
	Format  string `json:"format" yaml:"format"`
}

// Local is the identity the terminal client acts as.
type Local struct {
	UserID string `json:"user_id" yaml:"user_id"`
	Email  string `json:"email" yaml:"email"`
	Name   string `json:"name" yaml:"name"`
}

// LoadDefaults populates Config with development defaults.
// NOTE: JWTSecret is insecure and must be overridden outside development.
func (c *Config) LoadDefaults() {
	c.Vault = Vault{
		KDF:              cryptox.KDFPBKDF2,
		PBKDF2Iterations: cryptox.DefaultPBKDF2Iterations,
		Argon2Time:       cryptox.DefaultArgon2Time,
		Argon2Memory:     cryptox.DefaultArgon2Memory,
		Argon2Threads:    cryptox.DefaultArgon2Threads,
		AppSalt:          common.DefaultAppSalt,
		MinPinLength:     4,
		DeriveTimeout:    timex.Duration{Duration: 10 * time.Second},
		SessionTimeout:   timex.Duration{Duration: 15 * time.Minute},
		IdleCheck:        timex.Duration{Duration: 30 * time.Second},
		OtpTTL:           timex.Duration{Duration: 5 * time.Minute},
		OtpMaxAttempts:   5,
		FreeAttempts:     3,
		BackoffInitial:   timex.Duration{Duration: time.Second},
		BackoffMax:       timex.Duration{Duration: 5 * time.Minute},
	}
	c.Storage = Storage{Driver: "sqlite", DSN: "medvault.db", RedisAddr: "127.0.0.1:6379"}
	c.Mail = Mail{RetryMax: 3, Timeout: timex.Duration{Duration: 10 * time.Second}}
	c.HTTP = HTTP{
		Addr:            ":8080",
		AllowedOrigins:  []string{"http://localhost:3000"},
		JWTSecret:       "secretKey",
		ShutdownTimeout: timex.Duration{Duration: 10 * time.Second},
	}
	c.NATS = NATS{SubjectPrefix: "medvault.events"}
	c.S3 = S3{Region: "us-east-1", Prefix: "backups"}
	c.Logging = Logging{Backend: "slog", Level: "info", Format: "json"}
	c.Local = Local{UserID: "local", Email: "patient@localhost", Name: "Patient"}
}

// LoadConfig builds a Config by applying defaults, then .env and environment
// variables, then an optional JSON or YAML file, and finally command-line
// flags. The result is validated.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if err := parseEnv(cfg); err != nil {
		return nil, err
	}
	if err := parseFile(cfg); err != nil {
		return nil, err
	}
	if err := parseFlags(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
