// Package preview manages time-boxed live preview instances. The filesystem
// is the database: one directory per token holding the extracted site and a
// metadata file. A preview is only ever served while its metadata parses and
// has not expired; anything else is treated as absent and reclaimed. Sweeps
// happen on access, there is no background timer.
package preview

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/statichq/sitesmith/internal/workspace"
)

const metadataFile = "preview.json"

// NotStaticSiteError reports an artifact without an index.html at its root.
type NotStaticSiteError struct {
	JobID string
}

func (e *NotStaticSiteError) Error() string {
	return fmt.Sprintf("artifact of job %s is not a static site: no index.html at the site root", e.JobID)
}

// InvalidTokenError reports a token that failed shape validation. Logged as a
// security-relevant rejection, never retried.
type InvalidTokenError struct{}

func (e *InvalidTokenError) Error() string {
	return "preview token failed validation"
}

// ErrNotFound covers expired, reclaimed and never-created previews alike.
var ErrNotFound = errors.New("preview not found")

// ErrAssetNotFound is returned when neither the asset nor an index fallback
// exists.
var ErrAssetNotFound = errors.New("asset not found")

type metadata struct {
	SessionID string    `json:"session_id"`
	JobID     string    `json:"job_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

type Manager struct {
	root string
}

func NewManager(root string) (*Manager, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrap(err, "creating preview root")
	}
	return &Manager{root: root}, nil
}

// Create extracts the packaged artifact into a fresh instance directory and
// returns its unguessable token. The instance is assembled under a
// dot-prefixed build directory that the sweeps skip and renamed into the root
// only once its metadata is on disk, so a concurrent sweep never reaps an
// in-flight build and a returned token always points at a complete instance.
func (m *Manager) Create(jobID, sessionID, artifactPath string, ttl time.Duration) (string, time.Time, error) {
	m.ReapExpired()

	token, err := newToken()
	if err != nil {
		return "", time.Time{}, err
	}

	buildDir := filepath.Join(m.root, "."+token)
	siteDir := filepath.Join(buildDir, "site")
	if err := os.MkdirAll(siteDir, 0o755); err != nil {
		return "", time.Time{}, errors.Wrap(err, "creating preview instance")
	}

	if err := workspace.ExtractArchive(artifactPath, siteDir); err != nil {
		_ = os.RemoveAll(buildDir)
		return "", time.Time{}, err
	}

	if _, err := os.Stat(filepath.Join(siteDir, "index.html")); err != nil {
		_ = os.RemoveAll(buildDir)
		return "", time.Time{}, &NotStaticSiteError{JobID: jobID}
	}

	expiresAt := time.Now().UTC().Add(ttl)
	if err := m.writeMetadata(buildDir, metadata{
		SessionID: sessionID,
		JobID:     jobID,
		ExpiresAt: expiresAt,
	}); err != nil {
		_ = os.RemoveAll(buildDir)
		return "", time.Time{}, err
	}

	if err := os.Rename(buildDir, filepath.Join(m.root, token)); err != nil {
		_ = os.RemoveAll(buildDir)
		return "", time.Time{}, errors.Wrap(err, "activating preview instance")
	}

	return token, expiresAt, nil
}

// Resolve returns the site directory behind a live token. Missing,
// unparseable or expired metadata reads as absent and reclaims the instance
// eagerly.
func (m *Manager) Resolve(token string) (string, error) {
	if !validToken(token) {
		zap.S().Named("preview").Warnw("rejected malformed preview token", "token_length", len(token))
		return "", &InvalidTokenError{}
	}

	m.ReapExpired()

	instanceDir := filepath.Join(m.root, token)
	meta, err := m.readMetadata(instanceDir)
	if err != nil || time.Now().After(meta.ExpiresAt) {
		_ = os.RemoveAll(instanceDir)
		return "", ErrNotFound
	}
	return filepath.Join(instanceDir, "site"), nil
}

// ServeAsset resolves relPath against the instance's site root, falling back
// to index.html for unmatched paths so single-page apps route client-side.
func (m *Manager) ServeAsset(token, relPath string) (string, error) {
	siteDir, err := m.Resolve(token)
	if err != nil {
		return "", err
	}

	relPath = strings.TrimPrefix(relPath, "/")
	if relPath == "" {
		relPath = "index.html"
	}

	root := filepath.Clean(siteDir)
	asset := filepath.Join(root, filepath.FromSlash(relPath))
	if asset != root && !strings.HasPrefix(asset, root+string(os.PathSeparator)) {
		zap.S().Named("preview").Warnw("rejected escaping asset path", "path", relPath)
		return "", &InvalidTokenError{}
	}

	if info, err := os.Stat(asset); err == nil && info.Mode().IsRegular() {
		return asset, nil
	}

	index := filepath.Join(root, "index.html")
	if _, err := os.Stat(index); err == nil {
		return index, nil
	}
	return "", ErrAssetNotFound
}

// CountLive counts the session's non-expired instances, used to enforce the
// per-session cap before Create is attempted.
func (m *Manager) CountLive(sessionID string) int {
	m.ReapExpired()

	entries, err := os.ReadDir(m.root)
	if err != nil {
		return 0
	}

	count := 0
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		meta, err := m.readMetadata(filepath.Join(m.root, entry.Name()))
		if err != nil {
			continue
		}
		if meta.SessionID == sessionID && time.Now().Before(meta.ExpiresAt) {
			count++
		}
	}
	return count
}

// ReapExpired removes every instance whose metadata is missing, unparseable
// or past expiry, and returns the number of live instances left. Dot-prefixed
// entries are in-flight Create builds and are left alone.
func (m *Manager) ReapExpired() int {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return 0
	}

	live := 0
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		instanceDir := filepath.Join(m.root, entry.Name())
		meta, err := m.readMetadata(instanceDir)
		if err != nil || time.Now().After(meta.ExpiresAt) {
			if err := os.RemoveAll(instanceDir); err != nil {
				zap.S().Named("preview").Warnw("failed to reap preview instance", "dir", instanceDir, "error", err)
			}
			continue
		}
		live++
	}
	return live
}

// writeMetadata writes atomically so a concurrent reader never observes a
// partial file.
func (m *Manager) writeMetadata(instanceDir string, meta metadata) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	tmp := filepath.Join(instanceDir, metadataFile+".tmp")
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return errors.Wrap(err, "writing preview metadata")
	}
	return os.Rename(tmp, filepath.Join(instanceDir, metadataFile))
}

func (m *Manager) readMetadata(instanceDir string) (metadata, error) {
	var meta metadata
	raw, err := os.ReadFile(filepath.Join(instanceDir, metadataFile))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return meta, err
	}
	return meta, nil
}

func newToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// validToken accepts only lowercase hex tokens of the size newToken
// produces: no path separators, no parent-directory segments.
func validToken(token string) bool {
	if len(token) != 32 {
		return false
	}
	for _, c := range token {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
