package asf

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

	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/domain"
	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/ports"
)

// Downloader fetches scene archives with an Earthdata-authenticated client.
type Downloader struct {
	http   *http.Client
	logger *slog.Logger
}

var _ ports.SceneDownloader = (*Downloader)(nil)

// NewDownloader expects client to carry Earthdata credentials.
func NewDownloader(client *http.Client, log *slog.Logger) *Downloader {
	return &Downloader{http: defaultClient(client, 0), logger: log}
}

// Download saves the scene archive as dir/<name>.zip. An archive already present
// with the catalog's byte size is reused.
func (d *Downloader) Download(ctx context.Context, scene domain.Scene, dir string) (string, error) {
	if scene.URL == "" {
		return "", fmt.Errorf("scene %s has no download url", scene.Name)
	}
	name := path.Base(scene.URL)
	if filepath.Ext(name) != ".zip" {
		name = scene.Name + ".zip"
	}
	dst := filepath.Join(dir, name)

	if info, err := os.Stat(dst); err == nil && (scene.Bytes == 0 || info.Size() == scene.Bytes) {
		d.debug("scene archive present", "path", dst)
		return dst, nil
	}

	d.info("downloading scene", "scene", scene.Name, "url", scene.URL, "bytes", scene.Bytes)
	n, err := fetchFile(ctx, d.http, scene.URL, dst)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", scene.Name, err)
	}
	if scene.Bytes > 0 && n != scene.Bytes {
		_ = os.Remove(dst)
		return "", fmt.Errorf("download %s: got %d bytes, catalog lists %d", scene.Name, n, scene.Bytes)
	}
	return dst, nil
}

// fetchFile streams rawURL into dst through a temporary sibling file.
func fetchFile(ctx context.Context, client *http.Client, rawURL, dst string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, fmt.Errorf("create folder: %w", err)
	}
	body, err := get(ctx, client, rawURL)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	tmp := dst + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", tmp, err)
	}
	n, copyErr := io.Copy(f, body)
	closeErr := f.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = os.Remove(tmp)
		return n, fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return n, fmt.Errorf("move into place: %w", err)
	}
	return n, nil
}

func (d *Downloader) debug(msg string, args ...interface{}) {
	if d.logger != nil {
		d.logger.Debug(msg, args...)
	}
}

func (d *Downloader) info(msg string, args ...interface{}) {
	if d.logger != nil {
		d.logger.Info(msg, args...)
	}
}
