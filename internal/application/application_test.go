package application

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/psds-microservice/helpdesk-service/internal/config"
	"github.com/psds-microservice/helpdesk-service/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(backend string) *config.Config {
	cfg := &config.Config{
		AppHost:        "127.0.0.1",
		HTTPPort:       "0",
		AppEnv:         "test",
		StoreBackend:   backend,
		AdminSecretKey: "a",
		StaffSecretKey: "s",
		TicketLinkBase: "https://support.example.com",
	}
	return cfg
}

func TestOpenStore_FS(t *testing.T) {
	cfg := testConfig(config.BackendFS)
	cfg.StoreDir = t.TempDir()
	store, closeStore, err := OpenStore(cfg, quietLog())
	require.NoError(t, err)
	defer closeStore()

	ctx := context.Background()
	require.NoError(t, store.SaveLockStatus(ctx, &model.LockStatus{StaffPortalLocked: true}))

	// A second store over the same directory sees the write.
	again, _, err := OpenStore(cfg, quietLog())
	require.NoError(t, err)
	ls, err := again.GetLockStatus(ctx)
	require.NoError(t, err)
	assert.True(t, ls.StaffPortalLocked)
}

func TestOpenStore_UnknownBackend(t *testing.T) {
	_, _, err := OpenStore(testConfig("s3"), quietLog())
	assert.Error(t, err)
}

func TestOpenStore_GitHubNeedsRepo(t *testing.T) {
	_, _, err := OpenStore(testConfig(config.BackendGitHub), quietLog())
	assert.Error(t, err)
}

func TestNewAPI_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(config.BackendMemory)
	cfg.AdminSecretKey = ""
	_, err := NewAPI(cfg, quietLog())
	assert.Error(t, err)
}

func TestAPI_RunStopsOnCancel(t *testing.T) {
	api, err := NewAPI(testConfig(config.BackendMemory), quietLog())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- api.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
