// Package fetcher downloads remote artifacts (SoapUI projects, Postman
// collections) to transient local files.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-replay/metrics"
)

// DefaultPrefix is the file name prefix of downloaded artifacts.
const DefaultPrefix = "op-replay"

// ErrIO is wrapped by every error returned by Fetch.
var ErrIO = errors.New("artifact io error")

// CredentialProvider supplies the credentials answering authentication challenges.
type CredentialProvider interface {
	Credentials() (username, password string)
}

// StaticCredentials is a CredentialProvider returning fixed values.
type StaticCredentials struct {
	Username string
	Password string
}

func (c StaticCredentials) Credentials() (string, string) {
	return c.Username, c.Password
}

// Config holds configuration for creating a new Fetcher
type Config struct {
	Log         log.Logger
	Client      *http.Client
	Credentials CredentialProvider
	Dir         string // Directory receiving artifacts, defaults to os.TempDir()
	Prefix      string
}

// Fetcher downloads remote artifacts.
type Fetcher struct {
	log         log.Logger
	client      *http.Client
	credentials CredentialProvider
	dir         string
	prefix      string
}

func New(cfg Config) *Fetcher {
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: time.Minute}
	}
	if cfg.Dir == "" {
		cfg.Dir = os.TempDir()
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	return &Fetcher{
		log:         cfg.Log,
		client:      cfg.Client,
		credentials: cfg.Credentials,
		dir:         cfg.Dir,
		prefix:      cfg.Prefix,
	}
}

// Fetch downloads remoteURL to <dir>/<prefix>-<unix-millis>-<random>.<ext>
// and returns the local path. The random part keeps concurrent fetches from
// colliding. No file is left behind on failure.
func (f *Fetcher) Fetch(ctx context.Context, remoteURL string, ext string) (path string, err error) {
	defer func() {
		metrics.RecordArtifactDownload(err == nil)
	}()

	resp, err := f.get(ctx, remoteURL, false)
	if err != nil {
		return "", err
	}
	if resp.StatusCode == http.StatusUnauthorized && resp.Header.Get("WWW-Authenticate") != "" && f.credentials != nil {
		_ = resp.Body.Close()
		f.log.Debug("Answering authentication challenge", "url", remoteURL)
		resp, err = f.get(ctx, remoteURL, true)
		if err != nil {
			return "", err
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: unexpected status %d downloading %s", ErrIO, resp.StatusCode, remoteURL)
	}

	pattern := fmt.Sprintf("%s-%d-*.%s", f.prefix, time.Now().UnixMilli(), strings.TrimPrefix(ext, "."))
	file, err := os.CreateTemp(f.dir, pattern)
	if err != nil {
		return "", fmt.Errorf("%w: failed to create local file: %w", ErrIO, err)
	}
	path = file.Name()

	if _, err := io.Copy(file, resp.Body); err != nil {
		_ = file.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("%w: failed to download %s: %w", ErrIO, remoteURL, err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("%w: failed to write %s: %w", ErrIO, path, err)
	}

	f.log.Info("Downloaded artifact", "url", remoteURL, "path", path)
	return path, nil
}

func (f *Fetcher) get(ctx context.Context, remoteURL string, authenticate bool) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, remoteURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid url %s: %w", ErrIO, remoteURL, err)
	}
	if authenticate {
		username, password := f.credentials.Credentials()
		req.SetBasicAuth(username, password)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to download %s: %w", ErrIO, remoteURL, err)
	}
	return resp, nil
}
