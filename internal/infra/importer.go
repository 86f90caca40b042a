package infra

import (
	"context"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/capguard/internal/domain"
)

const (
	importFilePrefix = "import-"
	maxExtLen        = 16
)

// FileImporterImpl implements domain.FileImporter by copying the source into
// a private cache directory under a random name.
type FileImporterImpl struct {
	cacheDir string
	homeDir  string
	logger   *zap.Logger
}

// NewFileImporter creates an importer writing into cacheDir.
func NewFileImporter(cacheDir string, logger *zap.Logger) *FileImporterImpl {
	home, _ := os.UserHomeDir()
	return NewFileImporterWithHome(cacheDir, home, logger)
}

// NewFileImporterWithHome creates an importer with custom home (for testing).
func NewFileImporterWithHome(cacheDir, home string, logger *zap.Logger) *FileImporterImpl {
	fi := &FileImporterImpl{homeDir: home, logger: logger}
	fi.cacheDir = fi.ExpandHome(cacheDir)
	return fi
}

// Import copies the document referenced by ref and returns the copy's path.
// ref may be a file:// URI or a filesystem path.
func (fi *FileImporterImpl) Import(ctx context.Context, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", &domain.ImportError{Code: domain.ImportInvalidArgument, Message: "missing document reference"}
	}

	srcPath, err := fi.resolve(ref)
	if err != nil {
		return "", err
	}

	src, err := os.Open(srcPath)
	if err != nil {
		return "", unavailable(ref, "cannot open source", err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return "", unavailable(ref, "cannot stat source", err)
	}
	if !info.Mode().IsRegular() {
		return "", unavailable(ref, "source is not a regular file", nil)
	}

	dst, err := fi.copyToCache(ctx, src, filepath.Ext(srcPath))
	if err != nil {
		return "", unavailable(ref, "cannot copy source", err)
	}

	fi.logger.Info("imported document",
		zap.String("source", srcPath),
		zap.String("path", dst),
		zap.Int64("bytes", info.Size()))
	return dst, nil
}

// Purge removes cached copies older than maxAge and returns how many were deleted.
func (fi *FileImporterImpl) Purge(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(fi.cacheDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, errors.Wrap(err, "failed to read import cache")
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	var lastErr error
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), importFilePrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(fi.cacheDir, e.Name())); err != nil {
			lastErr = err
			continue
		}
		removed++
	}
	return removed, lastErr
}

// CacheDir returns the directory holding imported copies.
func (fi *FileImporterImpl) CacheDir() string {
	return fi.cacheDir
}

// ExpandHome expands ~ to the user's home directory.
func (fi *FileImporterImpl) ExpandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(fi.homeDir, path[2:])
	}
	if path == "~" {
		return fi.homeDir
	}
	return path
}

// resolve turns ref into an absolute filesystem path.
func (fi *FileImporterImpl) resolve(ref string) (string, error) {
	if strings.ContainsRune(ref, 0) {
		return "", &domain.ImportError{Code: domain.ImportInvalidArgument, Ref: ref, Message: "reference contains NUL byte"}
	}

	if !strings.Contains(ref, ":") || filepath.IsAbs(ref) || strings.HasPrefix(ref, "~") {
		abs, err := filepath.Abs(fi.ExpandHome(ref))
		if err != nil {
			return "", &domain.ImportError{Code: domain.ImportInvalidArgument, Ref: ref, Message: "malformed path", Err: err}
		}
		return abs, nil
	}

	u, err := url.Parse(ref)
	if err != nil {
		return "", &domain.ImportError{Code: domain.ImportInvalidArgument, Ref: ref, Message: "malformed reference", Err: err}
	}
	if u.Scheme != "file" {
		return "", unavailable(ref, "unsupported scheme "+u.Scheme, nil)
	}
	if u.Host != "" && u.Host != "localhost" {
		return "", &domain.ImportError{Code: domain.ImportInvalidArgument, Ref: ref, Message: "remote file host " + u.Host}
	}
	if u.Path == "" {
		return "", &domain.ImportError{Code: domain.ImportInvalidArgument, Ref: ref, Message: "file reference has no path"}
	}
	return filepath.Clean(u.Path), nil
}

// copyToCache writes src to a uniquely named file in the cache (temp + rename).
func (fi *FileImporterImpl) copyToCache(ctx context.Context, src io.Reader, ext string) (string, error) {
	if err := os.MkdirAll(fi.cacheDir, 0700); err != nil {
		return "", errors.Wrap(err, "failed to create import cache")
	}

	if len(ext) > maxExtLen || strings.ContainsAny(ext, `/\`) {
		ext = ""
	}
	dst := filepath.Join(fi.cacheDir, importFilePrefix+uuid.NewString()+ext)

	tmpFile, err := os.CreateTemp(fi.cacheDir, ".import-tmp-*")
	if err != nil {
		return "", err
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err = io.Copy(tmpFile, &ctxReader{ctx: ctx, r: src}); err != nil {
		tmpFile.Close()
		return "", err
	}
	if err = tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return "", err
	}
	if err = tmpFile.Close(); err != nil {
		return "", err
	}
	if err = os.Chmod(tmpPath, 0600); err != nil {
		return "", err
	}
	if err = os.Rename(tmpPath, dst); err != nil {
		return "", err
	}

	success = true
	return dst, nil
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func unavailable(ref, msg string, err error) *domain.ImportError {
	return &domain.ImportError{Code: domain.ImportUnavailable, Ref: ref, Message: msg, Err: err}
}

// Ensure FileImporterImpl implements domain.FileImporter.
var _ domain.FileImporter = (*FileImporterImpl)(nil)
