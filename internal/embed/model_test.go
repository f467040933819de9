package embed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tauanbinato/rust-lang-mcp/internal/errors"
)

func fastRetry() errors.RetryConfig {
	return errors.RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
}

func newModelServer(t *testing.T, status int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		_, _ = w.Write([]byte("payload for " + r.URL.Path))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

// TS01: Download both files once
func TestModelManager_EnsureModelDownloads(t *testing.T) {
	// Given: a server with both files
	srv, hits := newModelServer(t, http.StatusOK)
	dir := filepath.Join(t.TempDir(), "models")
	m := NewModelManager(dir,
		WithURLs(srv.URL+"/model.onnx", srv.URL+"/tokenizer.json"),
		WithRetry(fastRetry()))

	var progressCalls atomic.Int32
	progress := func(file string, downloaded, total int64) { progressCalls.Add(1) }

	// When: ensuring the model twice
	files, err := m.EnsureModel(context.Background(), progress)
	require.NoError(t, err)
	_, err = m.EnsureModel(context.Background(), nil)
	require.NoError(t, err)

	// Then: each file was fetched exactly once
	assert.Equal(t, int32(2), hits.Load())
	assert.True(t, m.Exists())
	assert.Greater(t, progressCalls.Load(), int32(0))

	data, err := os.ReadFile(files.Model)
	require.NoError(t, err)
	assert.Equal(t, "payload for /model.onnx", string(data))
	assert.NoFileExists(t, files.Model+".tmp")
	assert.Greater(t, m.Size(), int64(0))
}

// TS02: Client errors are not retried
func TestModelManager_NotFoundIsNotRetried(t *testing.T) {
	srv, hits := newModelServer(t, http.StatusNotFound)
	m := NewModelManager(t.TempDir(), WithURLs(srv.URL+"/m", srv.URL+"/t"), WithRetry(fastRetry()))

	_, err := m.EnsureModel(context.Background(), nil)

	require.Error(t, err)
	assert.Equal(t, errors.KindInference, errors.KindOf(err))
	assert.Equal(t, int32(1), hits.Load())
	assert.False(t, m.Exists())
}

// TS03: Server errors are retried
func TestModelManager_ServerErrorIsRetried(t *testing.T) {
	srv, hits := newModelServer(t, http.StatusBadGateway)
	m := NewModelManager(t.TempDir(), WithURLs(srv.URL+"/m", srv.URL+"/t"), WithRetry(fastRetry()))

	_, err := m.EnsureModel(context.Background(), nil)

	require.Error(t, err)
	assert.Equal(t, int32(3), hits.Load())
}

func TestModelManager_ExistingFilesSkipDownload(t *testing.T) {
	srv, hits := newModelServer(t, http.StatusOK)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ModelFileName), []byte("m"), 0o644))
	m := NewModelManager(dir, WithURLs(srv.URL+"/model.onnx", srv.URL+"/tokenizer.json"), WithRetry(fastRetry()))

	_, err := m.EnsureModel(context.Background(), nil)
	require.NoError(t, err)

	// only the missing tokenizer was fetched
	assert.Equal(t, int32(1), hits.Load())

	require.NoError(t, m.Delete())
	assert.False(t, m.Exists())
}
