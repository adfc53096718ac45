package server

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/medvault/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	c := &config.Config{}
	c.LoadDefaults()
	c.Storage.DSN = filepath.Join(t.TempDir(), "medvault.db")
	c.HTTP.Addr = "127.0.0.1:0"
	c.HTTP.ShutdownTimeout.Duration = time.Second
	c.Logging.Level = "error"
	return c
}

func TestNewApp(t *testing.T) {
	app, err := NewApp(context.Background(), testConfig(t))
	require.NoError(t, err)
	assert.NotNil(t, app.registry)
	assert.Nil(t, app.nats)
	assert.Nil(t, app.backups)
	app.close()
}

func TestNewApp_Errors(t *testing.T) {
	c := testConfig(t)
	c.Logging.Backend = "log4j"
	_, err := NewApp(context.Background(), c)
	assert.Error(t, err)

	c = testConfig(t)
	c.Storage.Driver = "mongo"
	_, err = NewApp(context.Background(), c)
	assert.ErrorContains(t, err, "storage init error")

	c = testConfig(t)
	c.NATS.URL = "nats://127.0.0.1:1"
	_, err = NewApp(context.Background(), c)
	assert.Error(t, err)
}

func TestApp_RunStopsOnCancel(t *testing.T) {
	app, err := NewApp(context.Background(), testConfig(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		app.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop")
	}
	assert.Zero(t, app.registry.Len())
}
