package image

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureDownloadsOnMiss(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		_, _ = w.Write([]byte("fake qcow2 content"))
	}))
	defer srv.Close()

	cache := NewCache(t.TempDir(), nil)
	url := srv.URL + "/noble-server-cloudimg-amd64.img"

	p, err := cache.Ensure(context.Background(), url, "")
	require.NoError(t, err)
	assert.Equal(t, 1, hits)
	assert.True(t, strings.HasSuffix(p, "-noble-server-cloudimg-amd64.img"),
		"cache file should keep the original base name, got %s", p)

	data, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "fake qcow2 content", string(data))
}

func TestEnsureReusesCachedFile(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		_, _ = w.Write([]byte("content"))
	}))
	defer srv.Close()

	cache := NewCache(t.TempDir(), nil)
	url := srv.URL + "/image.img"

	first, err := cache.Ensure(context.Background(), url, "")
	require.NoError(t, err)

	second, err := cache.Ensure(context.Background(), url, "")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, hits, "second Ensure must not re-download")
}

func TestEnsureDistinctURLsDistinctFiles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(r.URL.Path))
	}))
	defer srv.Close()

	cache := NewCache(t.TempDir(), nil)

	a, err := cache.Ensure(context.Background(), srv.URL+"/a.img", "")
	require.NoError(t, err)
	b, err := cache.Ensure(context.Background(), srv.URL+"/b.img", "")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestEnsureChecksumVerification(t *testing.T) {
	body := []byte("image bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	sum := sha256.Sum256(body)
	good := "sha256:" + hex.EncodeToString(sum[:])

	dir := t.TempDir()
	cache := NewCache(dir, nil)

	_, err := cache.Ensure(context.Background(), srv.URL+"/ok.img", good)
	assert.NoError(t, err)

	_, err = cache.Ensure(context.Background(), srv.URL+"/bad.img", "sha256:deadbeef")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum mismatch")

	// The failed download must not leave a partial file that would be
	// mistaken for a cache hit.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.Contains(e.Name(), "bad.img"),
			"failed download left %s behind", e.Name())
	}
}

func TestEnsureHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	cache := NewCache(t.TempDir(), nil)
	_, err := cache.Ensure(context.Background(), srv.URL+"/missing.img", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 404")
}

func TestPathForQueryString(t *testing.T) {
	cache := NewCache(filepath.Join(t.TempDir(), "cache"), nil)
	p := cache.pathFor("https://example.net/images/disk.qcow2?token=abc")
	assert.True(t, strings.HasSuffix(p, "-disk.qcow2"), "query string should not leak into file name, got %s", p)
}
