// Package image maintains a local cache of downloaded cloud images.
//
// Images are keyed by the SHA256 of their source URL so repeated
// provisioning runs against the same image URL reuse the existing
// download. Cached files are never removed by provisioning rollback.
package image

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultCacheDir is where downloaded images land on a PVE node,
// next to the template cache Proxmox itself uses.
const DefaultCacheDir = "/var/lib/vz/template/cache/pveforge"

const downloadTimeout = 30 * time.Minute

// Cache downloads and caches cloud images.
type Cache struct {
	dir    string
	client *http.Client
	log    *zap.Logger
}

// NewCache returns a Cache rooted at dir (DefaultCacheDir if empty).
func NewCache(dir string, logger *zap.Logger) *Cache {
	if dir == "" {
		dir = DefaultCacheDir
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		dir:    dir,
		client: &http.Client{},
		log:    logger,
	}
}

// Ensure returns the local path of the image at url, downloading it on
// a cache miss. checksum, when non-empty, must be "sha256:<hex>" and is
// verified against the downloaded content (cache hits are trusted).
func (c *Cache) Ensure(ctx context.Context, url, checksum string) (string, error) {
	target := c.pathFor(url)

	if _, err := os.Stat(target); err == nil {
		c.log.Debug("image cache hit", zap.String("url", url), zap.String("path", target))
		return target, nil
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to stat cached image: %w", err)
	}

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create image cache directory: %w", err)
	}

	c.log.Info("downloading image", zap.String("url", url), zap.String("path", target))
	if err := c.download(ctx, url, checksum, target); err != nil {
		return "", err
	}
	return target, nil
}

// pathFor maps a URL to its cache file name. The URL hash keeps
// distinct URLs apart; the original base name keeps the extension qm
// importdisk uses for format detection.
func (c *Cache) pathFor(url string) string {
	sum := sha256.Sum256([]byte(url))
	base := path.Base(strings.SplitN(url, "?", 2)[0])
	if base == "." || base == "/" || base == "" {
		base = "image.img"
	}
	return filepath.Join(c.dir, hex.EncodeToString(sum[:8])+"-"+base)
}

// download streams the image to a .partial file and renames it into
// place only after the full body (and checksum, if given) checks out,
// so an interrupted download never looks like a cache hit.
func (c *Cache) download(ctx context.Context, url, checksum, target string) error {
	ctx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build image request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download image: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("image download returned HTTP %d for %s", resp.StatusCode, url)
	}

	partial := target + ".partial"
	f, err := os.OpenFile(partial, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create partial download file: %w", err)
	}

	hasher := sha256.New()
	_, copyErr := io.Copy(io.MultiWriter(f, hasher), resp.Body)
	syncErr := f.Sync()
	closeErr := f.Close()

	if copyErr != nil {
		_ = os.Remove(partial)
		return fmt.Errorf("image download interrupted: %w", copyErr)
	}
	if syncErr != nil {
		_ = os.Remove(partial)
		return fmt.Errorf("failed to sync downloaded image: %w", syncErr)
	}
	if closeErr != nil {
		_ = os.Remove(partial)
		return fmt.Errorf("failed to close downloaded image: %w", closeErr)
	}

	if checksum != "" {
		want := strings.TrimPrefix(checksum, "sha256:")
		got := hex.EncodeToString(hasher.Sum(nil))
		if !strings.EqualFold(want, got) {
			_ = os.Remove(partial)
			return fmt.Errorf("image checksum mismatch for %s: want sha256:%s, got sha256:%s", url, want, got)
		}
	}

	if err := os.Rename(partial, target); err != nil {
		_ = os.Remove(partial)
		return fmt.Errorf("failed to finalize downloaded image: %w", err)
	}

	c.log.Info("image downloaded", zap.String("path", target))
	return nil
}
