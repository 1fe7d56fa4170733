package utils

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogInterceptor_CompleteLines(t *testing.T) {
	var out bytes.Buffer
	li := NewLogInterceptor(&out)
	li.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

	n, err := li.Write([]byte("first\nsec"))
	require.NoError(t, err)
	assert.Equal(t, len("first\nsec"), n)
	assert.Equal(t, "line=1 time=2024-01-02T03:04:05Z first\n", out.String())

	_, err = li.Write([]byte("ond\r\n"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "line=2 time=2024-01-02T03:04:05Z second", lines[1])
}

func TestLogInterceptor_CloseFlushesPartial(t *testing.T) {
	var out bytes.Buffer
	li := NewLogInterceptor(&out)

	_, err := li.Write([]byte("tail"))
	require.NoError(t, err)
	assert.Empty(t, out.String())

	require.NoError(t, li.Close())
	assert.Contains(t, out.String(), "line=1")
	assert.True(t, strings.HasSuffix(out.String(), "tail\n"))
}

type failingHandler struct {
	slog.Handler
}

func (failingHandler) Enabled(context.Context, slog.Level) bool { return true }
func (failingHandler) Handle(context.Context, slog.Record) error {
	return errors.New("boom")
}

func TestMultiLogHandler_FansOut(t *testing.T) {
	var a, b bytes.Buffer
	debug := slog.NewTextHandler(&a, &slog.HandlerOptions{Level: slog.LevelDebug})
	warn := slog.NewTextHandler(&b, &slog.HandlerOptions{Level: slog.LevelWarn})

	logger := slog.New(NewMultiLogHandler(debug, warn)).With("root", "/watch")
	logger.Debug("scan", "children", 2)
	logger.Warn("missing")

	assert.Contains(t, a.String(), "msg=scan")
	assert.Contains(t, a.String(), "msg=missing")
	assert.Contains(t, a.String(), "root=/watch")
	assert.NotContains(t, b.String(), "msg=scan")
	assert.Contains(t, b.String(), "msg=missing")
}

func TestMultiLogHandler_KeepsGoingOnError(t *testing.T) {
	var a bytes.Buffer
	h := NewMultiLogHandler(failingHandler{}, slog.NewTextHandler(&a, nil))

	err := h.Handle(context.Background(), slog.NewRecord(time.Now(), slog.LevelInfo, "hello", 0))
	assert.Error(t, err)
	assert.Contains(t, a.String(), "msg=hello")
}
