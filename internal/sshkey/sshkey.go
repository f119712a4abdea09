// Package sshkey fetches and validates SSH authorized keys for the
// cloud-init user.
package sshkey

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

const (
	fetchTimeout = 30 * time.Second

	// maxKeyBytes caps the fetched key material; an authorized_keys
	// document is tiny, anything larger is the wrong URL.
	maxKeyBytes = 64 * 1024
)

// Fetch retrieves authorized key material from an http(s) URL or a
// local file path and returns the validated key lines.
func Fetch(ctx context.Context, source string) ([]string, error) {
	var data []byte
	var err error

	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		data, err = fetchURL(ctx, source)
	} else {
		data, err = os.ReadFile(source)
		if err != nil {
			err = fmt.Errorf("failed to read ssh key file: %w", err)
		}
	}
	if err != nil {
		return nil, err
	}

	keys, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("ssh key source %s: %w", source, err)
	}
	return keys, nil
}

// Parse validates authorized key material and returns the individual
// key lines. Blank lines and comments are dropped; every remaining line
// must be a parseable public key.
func Parse(data []byte) ([]string, error) {
	var keys []string
	for i, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if _, _, _, _, err := ssh.ParseAuthorizedKey([]byte(line)); err != nil {
			return nil, fmt.Errorf("line %d is not a valid SSH public key: %w", i+1, err)
		}
		keys = append(keys, line)
	}

	if len(keys) == 0 {
		return nil, fmt.Errorf("no SSH public keys found")
	}
	return keys, nil
}

func fetchURL(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build ssh key request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch ssh key: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ssh key fetch returned HTTP %d for %s", resp.StatusCode, url)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxKeyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read ssh key response: %w", err)
	}
	if len(data) > maxKeyBytes {
		return nil, fmt.Errorf("ssh key response exceeds %d bytes, refusing", maxKeyBytes)
	}
	return data, nil
}
