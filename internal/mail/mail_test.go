package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/medvault/internal/config"
	"github.com/dmitrijs2005/medvault/internal/logging"
	"github.com/dmitrijs2005/medvault/internal/timex"
)

func relayConfig(url string) config.Mail {
	return config.Mail{
		RelayURL:   url,
		ServiceID:  "svc",
		TemplateID: "tpl",
		UserID:     "pub",
		RetryMax:   2,
		Timeout:    timex.Duration{Duration: 2 * time.Second},
	}
}

func fastRetries(m *RelayMailer) *RelayMailer {
	m.client.RetryWaitMin = time.Millisecond
	m.client.RetryWaitMax = 5 * time.Millisecond
	return m
}

func TestPinResetBody(t *testing.T) {
	assert.Equal(t,
		"Your verification code to securely change your medical vault PIN is: 123456. Do not share this code.",
		PinResetBody("123456"))
}

func TestNew_SelectsImplementation(t *testing.T) {
	_, isLog := New(config.Mail{}, logging.Nop{}).(*LogMailer)
	assert.True(t, isLog)

	_, isRelay := New(relayConfig("http://relay"), logging.Nop{}).(*RelayMailer)
	assert.True(t, isRelay)
}

func TestLogMailer_NeverLogsCode(t *testing.T) {
	var buf bytes.Buffer
	log := logging.NewSlogLogger(slog.New(slog.NewTextHandler(&buf, nil)))

	require.NoError(t, NewLogMailer(log).SendPinResetOtp(context.Background(), "p@example.com", "Pat", "493817"))
	assert.Contains(t, buf.String(), "p@example.com")
	assert.NotContains(t, buf.String(), "493817")
}

func TestRelayMailer_PostsTemplatePayload(t *testing.T) {
	var got relayRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := NewRelayMailer(relayConfig(srv.URL), logging.Nop{})
	require.NoError(t, m.SendPinResetOtp(context.Background(), "p@example.com", "Pat", "004211"))

	assert.Equal(t, "svc", got.ServiceID)
	assert.Equal(t, "tpl", got.TemplateID)
	assert.Equal(t, "pub", got.UserID)
	assert.Equal(t, "p@example.com", got.TemplateParams.ToEmail)
	assert.Equal(t, "Pat", got.TemplateParams.ToName)
	assert.Equal(t, PinResetSubject, got.TemplateParams.Subject)
	assert.Equal(t, PinResetBody("004211"), got.TemplateParams.Message)
}

func TestRelayMailer_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	m := fastRetries(NewRelayMailer(relayConfig(srv.URL), logging.Nop{}))
	require.NoError(t, m.SendPinResetOtp(context.Background(), "p@example.com", "Pat", "111111"))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestRelayMailer_GivesUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	m := fastRetries(NewRelayMailer(relayConfig(srv.URL), logging.Nop{}))
	assert.Error(t, m.SendPinResetOtp(context.Background(), "p@example.com", "Pat", "111111"))
}

func TestRelayMailer_ClientErrorNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	m := fastRetries(NewRelayMailer(relayConfig(srv.URL), logging.Nop{}))
	err := m.SendPinResetOtp(context.Background(), "p@example.com", "Pat", "111111")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
