package app

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/depthsim/internal/config"
)

func TestNeedsFeed(t *testing.T) {
	assert.True(t, needsFeed("stream"))
	assert.True(t, needsFeed("full"))
	assert.False(t, needsFeed("server"))
}

func TestRun_UnsupportedMode(t *testing.T) {
	cfg := config.Defaults()
	cfg.Mode = "backtest"

	a := New(&cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer a.Close()

	err := a.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unsupported mode "backtest"`)
}

func TestStartFeed_RequiresFeed(t *testing.T) {
	cfg := config.Defaults()
	cfg.Mode = "server"
	a := New(&cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))

	err := a.startFeed(context.Background(), &Dependencies{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no feed")
}
