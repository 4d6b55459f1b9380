package storage

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// LocalStorage implements Storage on the local filesystem. Links carry an
// expiry and an HMAC so that the file handler can enforce the TTL the same
// way a presigned R2 URL would.
type LocalStorage struct {
	basePath   string
	baseURL    string
	signingKey []byte
	logger     *slog.Logger
	now        func() time.Time
}

// NewLocalStorage creates a LocalStorage, creating the base directory if
// needed.
func NewLocalStorage(cfg LocalConfig, logger *slog.Logger) (*LocalStorage, error) {
	if len(cfg.SigningKey) == 0 {
		return nil, errors.New("local storage signing key is required")
	}

	absPath, err := filepath.Abs(cfg.BasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base path: %w", err)
	}
	if err := os.MkdirAll(absPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")

	logger.Info("initialized local storage",
		"base_path", absPath,
		"base_url", baseURL,
	)

	return &LocalStorage{
		basePath:   absPath,
		baseURL:    baseURL,
		signingKey: cfg.SigningKey,
		logger:     logger,
		now:        time.Now,
	}, nil
}

// URL returns a signed link to key valid for expires.
func (s *LocalStorage) URL(ctx context.Context, key string, expires time.Duration) (string, error) {
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if _, err := s.resolvePath(key); err != nil {
		return "", &StorageError{Op: "URL", Key: key, Err: err}
	}
	if expires <= 0 {
		expires = DefaultURLExpiry
	}

	exp := strconv.FormatInt(s.now().Add(expires).Unix(), 10)
	q := url.Values{}
	q.Set("expires", exp)
	q.Set("signature", s.sign(key, exp))

	return fmt.Sprintf("%s/%s?%s", s.baseURL, key, q.Encode()), nil
}

// Exists checks if a file is stored at key.
func (s *LocalStorage) Exists(ctx context.Context, key string) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	filePath, err := s.resolvePath(key)
	if err != nil {
		return false, &StorageError{Op: "Exists", Key: key, Err: err}
	}

	info, err := os.Stat(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, &StorageError{Op: "Exists", Key: key, Err: fmt.Errorf("failed to stat file: %w", err)}
	}
	return !info.IsDir(), nil
}

// Verify checks a link's expiry and signature for key.
func (s *LocalStorage) Verify(key, expires, signature string) error {
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return &StorageError{Op: "Verify", Key: key, Err: ErrAccessDenied}
	}
	if s.now().Unix() > exp {
		return &StorageError{Op: "Verify", Key: key, Err: ErrAccessDenied}
	}
	if !hmac.Equal([]byte(signature), []byte(s.sign(key, expires))) {
		return &StorageError{Op: "Verify", Key: key, Err: ErrAccessDenied}
	}
	return nil
}

// ServeHTTP serves files for links produced by URL. Mount it with
// http.StripPrefix so that the request path is the storage key.
func (s *LocalStorage) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/")
	q := r.URL.Query()

	if err := s.Verify(key, q.Get("expires"), q.Get("signature")); err != nil {
		s.logger.Debug("rejected file link", "key", key, "error", err)
		http.Error(w, "link expired or invalid", http.StatusForbidden)
		return
	}

	filePath, err := s.resolvePath(key)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	f, err := os.Open(filePath)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", DetectContentType(key))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(key)))
	w.Header().Set("Cache-Control", "private, no-store")
	http.ServeContent(w, r, filepath.Base(key), info.ModTime(), f)
}

func (s *LocalStorage) sign(key, expires string) string {
	mac := hmac.New(sha256.New, s.signingKey)
	mac.Write([]byte(key))
	mac.Write([]byte{0})
	mac.Write([]byte(expires))
	return hex.EncodeToString(mac.Sum(nil))
}

// resolvePath converts a storage key to an absolute path inside basePath.
func (s *LocalStorage) resolvePath(key string) (string, error) {
	if !validKey(key) {
		return "", ErrInvalidKey
	}

	absPath := filepath.Join(s.basePath, filepath.FromSlash(key))
	if !strings.HasPrefix(absPath, s.basePath+string(filepath.Separator)) {
		return "", ErrInvalidKey
	}
	return absPath, nil
}
