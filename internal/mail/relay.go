package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/dmitrijs2005/medvault/internal/config"
	"github.com/dmitrijs2005/medvault/internal/logging"
)

type templateParams struct {
	ToEmail string `json:"to_email"`
	ToName  string `json:"to_name"`
	Subject string `json:"subject"`
	Message string `json:"message"`
}

type relayRequest struct {
	ServiceID      string         `json:"service_id"`
	TemplateID     string         `json:"template_id"`
	UserID         string         `json:"user_id"`
	TemplateParams templateParams `json:"template_params"`
}

// RelayMailer posts messages to a template-based mail relay, retrying
// connection errors and 5xx responses.
type RelayMailer struct {
	url        string
	serviceID  string
	templateID string
	userID     string
	client     *retryablehttp.Client
	log        logging.Logger
}

func NewRelayMailer(cfg config.Mail, log logging.Logger) *RelayMailer {
	client := retryablehttp.NewClient()
	client.RetryMax = cfg.RetryMax
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	if cfg.Timeout.Duration > 0 {
		client.HTTPClient.Timeout = cfg.Timeout.Duration
	}
	client.Logger = leveledLogger{log: log}

	return &RelayMailer{
		url:        cfg.RelayURL,
		serviceID:  cfg.ServiceID,
		templateID: cfg.TemplateID,
		userID:     cfg.UserID,
		client:     client,
		log:        log,
	}
}

func (m *RelayMailer) SendPinResetOtp(ctx context.Context, email, name, code string) error {
	return m.Send(ctx, Message{
		ToEmail: email,
		ToName:  name,
		Subject: PinResetSubject,
		Body:    PinResetBody(code),
	})
}

// Send delivers one message. Any non-2xx final response is an error.
func (m *RelayMailer) Send(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(relayRequest{
		ServiceID:  m.serviceID,
		TemplateID: m.templateID,
		UserID:     m.userID,
		TemplateParams: templateParams{
			ToEmail: msg.ToEmail,
			ToName:  msg.ToName,
			Subject: msg.Subject,
			Message: msg.Body,
		},
	})
	if err != nil {
		return fmt.Errorf("encode mail request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, m.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build mail request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("mail relay responded %d", resp.StatusCode)
	}

	m.log.Info(ctx, "verification email sent", "to_email", msg.ToEmail, "subject", msg.Subject)
	return nil
}

// leveledLogger routes retryablehttp's diagnostics into our logger.
type leveledLogger struct {
	log logging.Logger
}

func (l leveledLogger) Error(msg string, kv ...any) { l.log.Error(context.Background(), msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...any)  { l.log.Warn(context.Background(), msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...any)  { l.log.Debug(context.Background(), msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...any) { l.log.Debug(context.Background(), msg, kv...) }
