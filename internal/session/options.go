package session

import (
	"time"

	"github.com/dmitrijs2005/medvault/internal/common"
	"github.com/dmitrijs2005/medvault/internal/config"
	"github.com/dmitrijs2005/medvault/internal/cryptox"
	"github.com/dmitrijs2005/medvault/internal/events"
	"github.com/dmitrijs2005/medvault/internal/logging"
	"github.com/dmitrijs2005/medvault/internal/mail"
	"github.com/dmitrijs2005/medvault/internal/vault"
)

const (
	DefaultMinPinLength   = 4
	DefaultSessionTimeout = 15 * time.Minute
	DefaultOtpTTL         = 5 * time.Minute
	DefaultOtpMaxAttempts = 5
	DefaultFreeAttempts   = 3
	DefaultBackoffInitial = time.Second
	DefaultBackoffMax     = 5 * time.Minute
)

// Options tune one controller. Zero fields take the defaults above.
type Options struct {
	KDF            cryptox.KDFParams
	AppSalt        string
	MinPinLength   int
	DeriveTimeout  time.Duration
	SessionTimeout time.Duration
	OtpTTL         time.Duration
	OtpMaxAttempts int
	FreeAttempts   int
	BackoffInitial time.Duration
	BackoffMax     time.Duration

	// Now replaces time.Now, for tests.
	Now func() time.Time
}

func OptionsFromConfig(v config.Vault) Options {
	return Options{
		KDF:            v.KDFParams(),
		AppSalt:        v.AppSalt,
		MinPinLength:   v.MinPinLength,
		DeriveTimeout:  v.DeriveTimeout.Duration,
		SessionTimeout: v.SessionTimeout.Duration,
		OtpTTL:         v.OtpTTL.Duration,
		OtpMaxAttempts: v.OtpMaxAttempts,
		FreeAttempts:   v.FreeAttempts,
		BackoffInitial: v.BackoffInitial.Duration,
		BackoffMax:     v.BackoffMax.Duration,
	}
}

func (o Options) withDefaults() Options {
	if o.KDF.Algorithm == "" {
		o.KDF = cryptox.DefaultKDFParams()
	}
	if o.AppSalt == "" {
		o.AppSalt = common.DefaultAppSalt
	}
	if o.MinPinLength <= 0 {
		o.MinPinLength = DefaultMinPinLength
	}
	if o.DeriveTimeout <= 0 {
		o.DeriveTimeout = vault.DefaultDeriveTimeout
	}
	if o.SessionTimeout <= 0 {
		o.SessionTimeout = DefaultSessionTimeout
	}
	if o.OtpTTL <= 0 {
		o.OtpTTL = DefaultOtpTTL
	}
	if o.OtpMaxAttempts <= 0 {
		o.OtpMaxAttempts = DefaultOtpMaxAttempts
	}
	if o.FreeAttempts <= 0 {
		o.FreeAttempts = DefaultFreeAttempts
	}
	if o.BackoffInitial <= 0 {
		o.BackoffInitial = DefaultBackoffInitial
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = DefaultBackoffMax
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Deps are the collaborators shared by every controller of a registry.
type Deps struct {
	Store  Store
	Mailer mail.Mailer
	Events events.Publisher
	Log    logging.Logger
}

func (d Deps) withDefaults() Deps {
	if d.Log == nil {
		d.Log = logging.Nop{}
	}
	if d.Events == nil {
		d.Events = events.Nop{}
	}
	if d.Mailer == nil {
		d.Mailer = mail.NewLogMailer(d.Log)
	}
	return d
}
