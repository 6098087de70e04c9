// Package media turns the media references of a publish job into local
// files the browser can upload.
package media

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultMaxBytes = 32 << 20
	maxParallel     = 4
)

var (
	// ErrMissingFile is returned for a local path that does not exist.
	ErrMissingFile = errors.New("media file not found")
	// ErrUnsupportedType is returned when content is not of the expected kind.
	ErrUnsupportedType = errors.New("unsupported media type")
)

// FetchError reports a failed download. Downloads may succeed on retry.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to download %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Batch is the set of local files for one job.
type Batch struct {
	Images []string
	Video  string
	Cover  string

	tempDir string
}

// Cleanup removes anything downloaded for the batch.
func (b *Batch) Cleanup() {
	if b == nil || b.tempDir == "" {
		return
	}
	_ = os.RemoveAll(b.tempDir)
}

// Resolver downloads remote images and checks local files.
type Resolver struct {
	client   *resty.Client
	dir      string
	maxBytes int64
	logger   *zap.Logger
}

// NewResolver creates a resolver that downloads into per-job directories
// under dir (the system temp dir when empty).
func NewResolver(dir string, timeout time.Duration, logger *zap.Logger) *Resolver {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("User-Agent", "Mozilla/5.0 (compatible; rednote-publisher/1.0)")

	return &Resolver{
		client:   client,
		dir:      dir,
		maxBytes: defaultMaxBytes,
		logger:   logger.Named("media"),
	}
}

// Resolve returns local paths for images (URLs or paths), video and cover.
// Image order is preserved. The caller must Cleanup the batch.
func (r *Resolver) Resolve(ctx context.Context, images []string, video, cover string) (*Batch, error) {
	batch := &Batch{Images: make([]string, len(images))}

	var remote []int
	for i, ref := range images {
		if IsURL(ref) {
			remote = append(remote, i)
			continue
		}
		path, err := checkLocal(ref, "image/")
		if err != nil {
			return nil, err
		}
		batch.Images[i] = path
	}

	if video != "" {
		path, err := checkLocal(video, "video/")
		if err != nil {
			return nil, err
		}
		batch.Video = path
	}
	if cover != "" {
		path, err := checkLocal(cover, "image/")
		if err != nil {
			return nil, err
		}
		batch.Cover = path
	}

	if len(remote) == 0 {
		return batch, nil
	}

	dir, err := os.MkdirTemp(r.dir, "job-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create download directory: %w", err)
	}
	batch.tempDir = dir

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallel)
	for _, i := range remote {
		i := i
		g.Go(func() error {
			path, err := r.download(gctx, images[i], dir, i)
			if err != nil {
				return err
			}
			batch.Images[i] = path
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		batch.Cleanup()
		return nil, err
	}

	r.logger.Info("downloaded images", zap.Int("count", len(remote)), zap.String("dir", dir))
	return batch, nil
}

func (r *Resolver) download(ctx context.Context, rawURL, dir string, index int) (string, error) {
	resp, err := r.client.R().SetContext(ctx).Get(rawURL)
	if err != nil {
		return "", &FetchError{URL: rawURL, Err: err}
	}
	if resp.IsError() {
		return "", &FetchError{URL: rawURL, Err: fmt.Errorf("unexpected status %s", resp.Status())}
	}

	body := resp.Body()
	if int64(len(body)) > r.maxBytes {
		return "", fmt.Errorf("%w: %s is larger than %d bytes", ErrUnsupportedType, rawURL, r.maxBytes)
	}

	mtype := mimetype.Detect(body)
	if !strings.HasPrefix(mtype.String(), "image/") {
		return "", fmt.Errorf("%w: %s is %s", ErrUnsupportedType, rawURL, mtype.String())
	}

	path := filepath.Join(dir, fmt.Sprintf("%02d%s", index, mtype.Extension()))
	if err := os.WriteFile(path, body, 0o600); err != nil {
		return "", fmt.Errorf("failed to save %s: %w", rawURL, err)
	}
	r.logger.Debug("downloaded image", zap.String("url", rawURL), zap.String("type", mtype.String()))
	return path, nil
}

func checkLocal(path, kind string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrMissingFile, path)
	}
	info, err := os.Stat(abs)
	if err != nil || info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrMissingFile, path)
	}

	mtype, err := mimetype.DetectFile(abs)
	if err != nil {
		return "", fmt.Errorf("failed to inspect %s: %w", path, err)
	}
	if !strings.HasPrefix(mtype.String(), kind) {
		return "", fmt.Errorf("%w: %s is %s", ErrUnsupportedType, path, mtype.String())
	}
	return abs, nil
}

// IsURL reports whether ref is an http(s) URL.
func IsURL(ref string) bool {
	u, err := url.Parse(ref)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
