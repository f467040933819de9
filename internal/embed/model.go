package embed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gofrs/flock"

	"github.com/tauanbinato/rust-lang-mcp/internal/errors"
)

// DefaultDownloadTimeout bounds one file download.
const DefaultDownloadTimeout = 10 * time.Minute

const lockFileName = ".download.lock"

// ModelFiles are the on-disk paths of a downloaded model.
type ModelFiles struct {
	Model     string
	Tokenizer string
}

// ProgressFunc reports download progress for one file. total is -1 when
// the server does not send a length.
type ProgressFunc func(file string, downloaded, total int64)

// ModelManager downloads and caches model files in a directory. A file lock
// in that directory keeps concurrent processes from downloading twice.
type ModelManager struct {
	dir          string
	modelURL     string
	tokenizerURL string
	client       *http.Client
	retry        errors.RetryConfig
	mu           sync.Mutex
}

// ManagerOption configures a ModelManager.
type ManagerOption func(*ModelManager)

// WithURLs overrides the download locations.
func WithURLs(modelURL, tokenizerURL string) ManagerOption {
	return func(m *ModelManager) {
		if modelURL != "" {
			m.modelURL = modelURL
		}
		if tokenizerURL != "" {
			m.tokenizerURL = tokenizerURL
		}
	}
}

// WithHTTPClient sets the client used for downloads.
func WithHTTPClient(c *http.Client) ManagerOption {
	return func(m *ModelManager) { m.client = c }
}

// WithRetry sets the download retry policy.
func WithRetry(cfg errors.RetryConfig) ManagerOption {
	return func(m *ModelManager) { m.retry = cfg }
}

// NewModelManager returns a manager for dir.
func NewModelManager(dir string, opts ...ManagerOption) *ModelManager {
	m := &ModelManager{
		dir:          dir,
		modelURL:     DefaultModelURL,
		tokenizerURL: DefaultTokenizerURL,
		client:       &http.Client{Timeout: DefaultDownloadTimeout},
		retry:        errors.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.retry.ShouldRetry = errors.IsRetryable
	return m
}

// Files returns where the model files live, whether or not they exist.
func (m *ModelManager) Files() ModelFiles {
	return ModelFiles{
		Model:     filepath.Join(m.dir, ModelFileName),
		Tokenizer: filepath.Join(m.dir, TokenizerFileName),
	}
}

// Exists reports whether both files are present and non-empty.
func (m *ModelManager) Exists() bool {
	f := m.Files()
	return nonEmpty(f.Model) && nonEmpty(f.Tokenizer)
}

// EnsureModel downloads whichever model files are missing and returns
// their paths.
func (m *ModelManager) EnsureModel(ctx context.Context, progress ProgressFunc) (ModelFiles, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	files := m.Files()
	if m.Exists() {
		return files, nil
	}

	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return ModelFiles{}, errors.IOError(fmt.Sprintf("failed to create model directory %s", m.dir), err)
	}

	lock := flock.New(filepath.Join(m.dir, lockFileName))
	locked, err := lock.TryLockContext(ctx, 250*time.Millisecond)
	if err != nil || !locked {
		return ModelFiles{}, errors.New(errors.ErrCodeLock, "failed to acquire model download lock", err)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			slog.Warn("model_lock_release_failed", slog.String("error", err.Error()))
		}
	}()

	downloads := []struct{ url, dest string }{
		{m.modelURL, files.Model},
		{m.tokenizerURL, files.Tokenizer},
	}
	for _, d := range downloads {
		// another process may have finished while we waited for the lock
		if nonEmpty(d.dest) {
			continue
		}
		err := errors.Retry(ctx, m.retry, func() error {
			return m.download(ctx, d.url, d.dest, progress)
		})
		if err != nil {
			return ModelFiles{}, errors.Wrap(errors.ErrCodeModelDownload, err)
		}
	}
	return files, nil
}

func (m *ModelManager) download(ctx context.Context, url, dest string, progress ProgressFunc) error {
	name := filepath.Base(dest)
	start := time.Now()
	slog.Info("model_download_started", slog.String("file", name), slog.String("url", url))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.New(errors.ErrCodeInvalidInput, "invalid download URL", err)
	}
	req.Header.Set("User-Agent", "rust-lang-mcp")

	resp, err := m.client.Do(req)
	if err != nil {
		return errors.New(errors.ErrCodeNetwork, fmt.Sprintf("failed to download %s", name), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		e := errors.New(errors.ErrCodeModelDownload,
			fmt.Sprintf("download of %s failed: %s", name, resp.Status), nil)
		// only server-side failures are worth retrying
		e.Retryable = resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		return e
	}

	tmp := dest + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return errors.IOError("failed to create temp file", err)
	}
	defer os.Remove(tmp)

	var src io.Reader = resp.Body
	if progress != nil {
		src = &progressReader{r: resp.Body, file: name, total: resp.ContentLength, fn: progress}
	}
	n, err := io.Copy(f, src)
	if err != nil {
		_ = f.Close()
		return errors.New(errors.ErrCodeNetwork, fmt.Sprintf("failed while downloading %s", name), err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return errors.IOError("failed to sync download", err)
	}
	if err := f.Close(); err != nil {
		return errors.IOError("failed to close download", err)
	}
	if n == 0 {
		return errors.New(errors.ErrCodeModelDownload, fmt.Sprintf("download of %s was empty", name), nil)
	}
	if err := os.Rename(tmp, dest); err != nil {
		return errors.IOError("failed to move download into place", err)
	}

	slog.Info("model_download_complete",
		slog.String("file", name),
		slog.String("size", humanize.Bytes(uint64(n))),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// Size returns the combined size of the model files on disk.
func (m *ModelManager) Size() int64 {
	var total int64
	f := m.Files()
	for _, p := range []string{f.Model, f.Tokenizer} {
		if info, err := os.Stat(p); err == nil {
			total += info.Size()
		}
	}
	return total
}

// Delete removes the cached model files.
func (m *ModelManager) Delete() error {
	f := m.Files()
	for _, p := range []string{f.Model, f.Tokenizer} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return errors.IOError(fmt.Sprintf("failed to remove %s", p), err)
		}
	}
	return nil
}

// Dir returns the model directory.
func (m *ModelManager) Dir() string {
	return m.dir
}

type progressReader struct {
	r          io.Reader
	file       string
	total      int64
	downloaded int64
	fn         ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.downloaded += int64(n)
		p.fn(p.file, p.downloaded, p.total)
	}
	return n, err
}

func nonEmpty(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir() && info.Size() > 0
}
