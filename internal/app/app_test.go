package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/natefell/quizarena/internal/config"
	"github.com/natefell/quizarena/internal/logger"
	"github.com/natefell/quizarena/pkg/questions"
)

func testAppConfig() *config.Config {
	return &config.Config{
		Addr:         ":0",
		DatabasePath: ":memory:",
		JWTSecret:    "test-secret",
		LogLevel:     "info",
	}
}

func TestNew_InitializesApp(t *testing.T) {
	log := logger.New()
	client := questions.NewMockClient()

	app, err := New(log, testAppConfig(), client)

	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if app == nil {
		t.Fatal("expected app to be created")
	}
	if app.handlers == nil {
		t.Error("expected handlers to be initialized")
	}
	if app.repo == nil {
		t.Error("expected repo to be initialized")
	}
	if app.manager == nil {
		t.Error("expected match manager to be initialized")
	}
	if app.queue == nil {
		t.Error("expected matchmaking queue to be initialized")
	}
}

func TestNew_FailsWithBadDBPath(t *testing.T) {
	log := logger.New()
	client := questions.NewMockClient()

	cfg := testAppConfig()
	cfg.DatabasePath = "/nonexistent/path/db.sqlite"

	_, err := New(log, cfg, client)

	if err == nil {
		t.Error("expected error for invalid db path")
	}
}

func TestApp_Router_ServesRequests(t *testing.T) {
	app := createTestApp(t)
	server := httptest.NewServer(app.handlers.Router())
	defer server.Close()

	resp, err := http.Get(server.URL + "/healthz")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 for /healthz, got %d", resp.StatusCode)
	}
}

func TestApp_Run_StopsOnContextCancel(t *testing.T) {
	app := createTestApp(t)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- app.Run(ctx)
	}()

	// Give the server time to bind before cancelling.
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected clean shutdown, got: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func createTestApp(t *testing.T) *App {
	t.Helper()
	log := logger.New()
	client := questions.NewMockClient()

	app, err := New(log, testAppConfig(), client)
	if err != nil {
		t.Fatalf("failed to create test app: %v", err)
	}
	return app
}
