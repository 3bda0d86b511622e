package putio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/putdotio/go-putio"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/italolelis/syncbox/internal/logctx"
	"github.com/italolelis/syncbox/internal/progress"
	"github.com/italolelis/syncbox/internal/transfer"
)

// filesAPI is the part of go-putio's FilesService the client needs.
type filesAPI interface {
	List(ctx context.Context, id int64) ([]putio.File, putio.File, error)
	CreateFolder(ctx context.Context, name string, parent int64) (putio.File, error)
	Upload(ctx context.Context, r io.Reader, filename string, parent int64) (putio.Upload, error)
	URL(ctx context.Context, id int64, useTunnel bool) (string, error)
	Delete(ctx context.Context, files ...int64) error
	Rename(ctx context.Context, id int64, newname string) error
	Move(ctx context.Context, parent int64, files ...int64) error
}

// Config configures the put.io remote.
type Config struct {
	Token             string
	RequestsPerSecond float64
	PathCacheTTL      time.Duration
	PathCacheSize     int
	Breaker           BreakerConfig
}

// Client implements transfer.Remote on top of put.io. put.io addresses files
// by id, so every path is resolved by walking folders from the root.
type Client struct {
	files   filesAPI
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[any]
	folders *folderCache
	logger  *slog.Logger
}

var _ transfer.Remote = (*Client)(nil)

func NewClient(ctx context.Context, cfg Config) *Client {
	tokenSource := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
	oauthClient := oauth2.NewClient(ctx, tokenSource)
	putioClient := putio.NewClient(oauthClient)

	downloads := &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}

	return newClient(ctx, putioClient.Files, downloads, cfg)
}

func newClient(ctx context.Context, files filesAPI, httpClient *http.Client, cfg Config) *Client {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	if cfg.PathCacheSize <= 0 {
		cfg.PathCacheSize = 1024
	}

	if cfg.PathCacheTTL <= 0 {
		cfg.PathCacheTTL = 5 * time.Minute
	}

	logger := logctx.LoggerFromContext(ctx).With("remote", "putio")

	return &Client{
		files:   files,
		http:    httpClient,
		limiter: rate.NewLimiter(limit, 1),
		breaker: newBreaker(cfg.Breaker, logger),
		folders: newFolderCache(cfg.PathCacheSize, cfg.PathCacheTTL),
		logger:  logger,
	}
}

func (c *Client) Exists(ctx context.Context, remotePath string) (transfer.RemoteFile, error) {
	f, err := c.lookup(ctx, remotePath)
	if err != nil {
		return transfer.RemoteFile{}, remoteError("exists", remotePath, err)
	}

	return toRemoteFile(remotePath, f), nil
}

func (c *Client) Upload(ctx context.Context, localPath, remotePath string, onProgress transfer.ProgressFunc) (transfer.RemoteFile, error) {
	const op = "upload"

	src, err := os.Open(localPath)
	if err != nil {
		return transfer.RemoteFile{}, fmt.Errorf("failed to open upload source: %w", err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return transfer.RemoteFile{}, fmt.Errorf("failed to stat upload source: %w", err)
	}

	parentID, err := c.folderID(ctx, path.Dir(cleanPath(remotePath)))
	if err != nil {
		return transfer.RemoteFile{}, remoteError(op, remotePath, err)
	}

	reader := progress.NewReader(src, info.Size(), 0, onProgress)

	var upload putio.Upload

	err = c.do(ctx, func(ctx context.Context) error {
		var err error

		upload, err = c.files.Upload(ctx, reader, path.Base(remotePath), parentID)

		return err
	})
	if err != nil {
		return transfer.RemoteFile{}, remoteError(op, remotePath, err)
	}

	if upload.File == nil {
		return transfer.RemoteFile{Path: cleanPath(remotePath), Size: reader.Written()}, nil
	}

	return toRemoteFile(remotePath, *upload.File), nil
}

// Download streams the file into a temporary sibling of localPath and renames
// it into place, so a failed download never leaves a partial payload behind.
func (c *Client) Download(ctx context.Context, remotePath, localPath string, onProgress transfer.ProgressFunc) (transfer.RemoteFile, error) {
	const op = "download"

	f, err := c.lookup(ctx, remotePath)
	if err != nil {
		return transfer.RemoteFile{}, remoteError(op, remotePath, err)
	}

	if f.IsDir() {
		return transfer.RemoteFile{}, &transfer.RemoteError{
			Op: op, Path: remotePath, StatusCode: http.StatusConflict, Message: "is a folder",
		}
	}

	var url string

	err = c.do(ctx, func(ctx context.Context) error {
		var err error

		url, err = c.files.URL(ctx, f.ID, false)

		return err
	})
	if err != nil {
		return transfer.RemoteFile{}, remoteError(op, remotePath, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return transfer.RemoteFile{}, fmt.Errorf("failed to build download request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return transfer.RemoteFile{}, remoteError(op, remotePath, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return transfer.RemoteFile{}, &transfer.RemoteError{
			Op: op, Path: remotePath, StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode),
		}
	}

	if err := writeAtomically(localPath, progress.NewReader(resp.Body, f.Size, 0, onProgress)); err != nil {
		return transfer.RemoteFile{}, err
	}

	return toRemoteFile(remotePath, f), nil
}

// CreateFolder creates the last segment of remotePath. An existing folder is
// not an error.
func (c *Client) CreateFolder(ctx context.Context, remotePath string) error {
	const op = "create_folder"

	dir := cleanPath(remotePath)
	if dir == "/" {
		return nil
	}

	if _, err := c.folderID(ctx, dir); err == nil {
		return nil
	} else if !isNoSuchFile(err) {
		return remoteError(op, remotePath, err)
	}

	parentID, err := c.folderID(ctx, path.Dir(dir))
	if err != nil {
		return remoteError(op, remotePath, err)
	}

	var created putio.File

	err = c.do(ctx, func(ctx context.Context) error {
		var err error

		created, err = c.files.CreateFolder(ctx, path.Base(dir), parentID)

		return err
	})
	if err != nil {
		return remoteError(op, remotePath, err)
	}

	c.folders.Add(dir, created.ID)
	c.logger.DebugContext(ctx, "created remote folder", "server_url", dir, "file_id", created.ID)

	return nil
}

func (c *Client) Delete(ctx context.Context, remotePath string) error {
	const op = "delete"

	f, err := c.lookup(ctx, remotePath)
	if err != nil {
		return remoteError(op, remotePath, err)
	}

	err = c.do(ctx, func(ctx context.Context) error {
		return c.files.Delete(ctx, f.ID)
	})
	if err != nil {
		return remoteError(op, remotePath, err)
	}

	c.folders.Forget(remotePath)

	return nil
}

func (c *Client) Rename(ctx context.Context, remotePath, newName string) error {
	const op = "rename"

	f, err := c.lookup(ctx, remotePath)
	if err != nil {
		return remoteError(op, remotePath, err)
	}

	err = c.do(ctx, func(ctx context.Context) error {
		return c.files.Rename(ctx, f.ID, newName)
	})
	if err != nil {
		return remoteError(op, remotePath, err)
	}

	c.folders.Forget(remotePath)

	return nil
}

func (c *Client) Move(ctx context.Context, remotePath, destDir string) error {
	const op = "move"

	f, err := c.lookup(ctx, remotePath)
	if err != nil {
		return remoteError(op, remotePath, err)
	}

	destID, err := c.folderID(ctx, destDir)
	if err != nil {
		return remoteError(op, destDir, err)
	}

	err = c.do(ctx, func(ctx context.Context) error {
		return c.files.Move(ctx, destID, f.ID)
	})
	if err != nil {
		return remoteError(op, remotePath, err)
	}

	c.folders.Forget(remotePath)

	return nil
}

// Copy is not offered by the put.io API.
func (c *Client) Copy(_ context.Context, remotePath, _ string) error {
	return fmt.Errorf("copy %s: %w", remotePath, transfer.ErrUnsupported)
}

// SetFavorite is not offered by the put.io API.
func (c *Client) SetFavorite(_ context.Context, remotePath string, _ bool) error {
	return fmt.Errorf("favorite %s: %w", remotePath, transfer.ErrUnsupported)
}

// do runs one API call behind the rate limiter and the circuit breaker.
func (c *Client) do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	_, err := c.breaker.Execute(func() (any, error) {
		return nil, fn(ctx)
	})

	return err
}

// lookup resolves a file or folder by path. The leaf is always listed fresh;
// only the parent folders come from the cache.
func (c *Client) lookup(ctx context.Context, remotePath string) (putio.File, error) {
	p := cleanPath(remotePath)
	if p == "/" {
		return putio.File{ID: rootID, Name: "/", ContentType: "application/x-directory"}, nil
	}

	parentID, err := c.folderID(ctx, path.Dir(p))
	if err != nil {
		return putio.File{}, err
	}

	return c.child(ctx, parentID, path.Base(p))
}

func (c *Client) folderID(ctx context.Context, dir string) (int64, error) {
	dir = cleanPath(dir)

	if id, ok := c.folders.Get(dir); ok {
		return id, nil
	}

	parentID, err := c.folderID(ctx, path.Dir(dir))
	if err != nil {
		return 0, err
	}

	f, err := c.child(ctx, parentID, path.Base(dir))
	if err != nil {
		return 0, err
	}

	if !f.IsDir() {
		return 0, fmt.Errorf("%s: %w", dir, errNotAFolder)
	}

	c.folders.Add(dir, f.ID)

	return f.ID, nil
}

func (c *Client) child(ctx context.Context, parentID int64, name string) (putio.File, error) {
	var children []putio.File

	err := c.do(ctx, func(ctx context.Context) error {
		var err error

		children, _, err = c.files.List(ctx, parentID)

		return err
	})
	if err != nil {
		return putio.File{}, err
	}

	for _, f := range children {
		if f.Name == name {
			return f, nil
		}
	}

	return putio.File{}, fmt.Errorf("%s in folder %d: %w", name, parentID, errNoSuchFile)
}

func isNoSuchFile(err error) bool {
	return err != nil && errors.Is(err, errNoSuchFile)
}

func toRemoteFile(remotePath string, f putio.File) transfer.RemoteFile {
	return transfer.RemoteFile{
		ID:    fmt.Sprintf("%d", f.ID),
		Path:  cleanPath(remotePath),
		Size:  f.Size,
		Etag:  f.CRC32,
		IsDir: f.IsDir(),
	}
}

func writeAtomically(localPath string, r io.Reader) error {
	dir := filepath.Dir(localPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".download-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())

		return fmt.Errorf("failed to write payload: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())

		return fmt.Errorf("failed to close payload: %w", err)
	}

	if err := os.Rename(tmp.Name(), localPath); err != nil {
		os.Remove(tmp.Name())

		return fmt.Errorf("failed to move payload into place: %w", err)
	}

	return nil
}
