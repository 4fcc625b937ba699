package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

const tmpPattern = ".tmp-*"

// FileSystemBackend stores each object as a file under root, with the key's
// slash-separated segments as nested directories:
//
//	<root>/
//	  user_<owner>/
//	    docs/
//	      .marker
//	      report.txt
//
// Content types are not kept.
type FileSystemBackend struct {
	root     string
	pageSize int
}

// NewFileSystemBackend creates the root directory if needed.
func NewFileSystemBackend(root string) (*FileSystemBackend, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create object root: %w", err)
	}
	return &FileSystemBackend{root: root, pageSize: DefaultListPageSize}, nil
}

// ValidateSetup verifies that the root is an accessible directory.
func (b *FileSystemBackend) ValidateSetup() error {
	info, err := os.Stat(b.root)
	if err != nil {
		return fmt.Errorf("%w: object root not accessible: %v", ErrMisconfigured, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: object root is not a directory: %s", ErrMisconfigured, b.root)
	}
	return nil
}

// filePath maps key to a path under root, rejecting keys that would escape it.
func (b *FileSystemBackend) filePath(key string) (string, error) {
	if key == "" || strings.HasSuffix(key, "/") || strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("%w: bad key %q", ErrInvalidRequest, key)
	}
	if path.Clean(key) != key {
		return "", fmt.Errorf("%w: key %q is not canonical", ErrInvalidRequest, key)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == ".." {
			return "", fmt.Errorf("%w: key %q escapes the root", ErrInvalidRequest, key)
		}
	}
	return filepath.Join(b.root, filepath.FromSlash(key)), nil
}

func (b *FileSystemBackend) PutObject(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	dest, err := b.filePath(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return writeFile(dest, r, size)
}

func (b *FileSystemBackend) GetObject(ctx context.Context, key string) (io.ReadCloser, error) {
	src, err := b.filePath(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(src)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		return nil, fmt.Errorf("failed to open object: %w", err)
	}
	return f, nil
}

func (b *FileSystemBackend) HeadObject(ctx context.Context, key string) (bool, error) {
	src, err := b.filePath(key)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(src)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat object: %w", err)
	}
	return info.Mode().IsRegular(), nil
}

// ListObjects walks the deepest directory the prefix names and filters by the
// full prefix.
func (b *FileSystemBackend) ListObjects(ctx context.Context, prefix, token string) ([]string, string, error) {
	start := b.root
	if i := strings.LastIndex(prefix, "/"); i >= 0 {
		start = filepath.Join(b.root, filepath.FromSlash(prefix[:i]))
	}

	var keys []string
	err := filepath.WalkDir(start, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if ok, _ := filepath.Match(tmpPattern, d.Name()); ok {
			return nil
		}
		rel, err := filepath.Rel(b.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) && key > token {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to list objects: %w", err)
	}

	sort.Strings(keys)
	if len(keys) <= b.pageSize {
		return keys, "", nil
	}
	page := keys[:b.pageSize]
	return page, page[len(page)-1], nil
}

func (b *FileSystemBackend) CopyObject(ctx context.Context, srcKey, dstKey string) error {
	rc, err := b.GetObject(ctx, srcKey)
	if err != nil {
		return err
	}
	defer rc.Close()

	info, err := rc.(*os.File).Stat()
	if err != nil {
		return fmt.Errorf("failed to stat object: %w", err)
	}
	return b.PutObject(ctx, dstKey, rc, info.Size(), "")
}

// DeleteObject removes the file and prunes directories it leaves empty.
// Missing keys are not an error.
func (b *FileSystemBackend) DeleteObject(ctx context.Context, key string) error {
	p, err := b.filePath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	b.pruneEmptyDirs(filepath.Dir(p))
	return nil
}

func (b *FileSystemBackend) DeleteObjects(ctx context.Context, keys []string) (map[string]error, error) {
	if len(keys) > MaxDeleteBatch {
		return nil, fmt.Errorf("%w: %d keys exceeds batch limit %d", ErrInvalidRequest, len(keys), MaxDeleteBatch)
	}
	failed := make(map[string]error)
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return failed, err
		}
		if err := b.DeleteObject(ctx, key); err != nil {
			failed[key] = err
		}
	}
	return failed, nil
}

// PresignGetObject returns a file URL. There is no signing; the query carries
// the download name and expiry for callers that serve it.
func (b *FileSystemBackend) PresignGetObject(ctx context.Context, key, filename string, ttl time.Duration) (string, error) {
	p, err := b.filePath(key)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("failed to resolve object path: %w", err)
	}
	q := url.Values{}
	q.Set("filename", filename)
	q.Set("expires", strconv.FormatInt(time.Now().Add(ttl).Unix(), 10))
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs), RawQuery: q.Encode()}
	return u.String(), nil
}

func (b *FileSystemBackend) pruneEmptyDirs(dir string) {
	root := filepath.Clean(b.root)
	for dir != root && strings.HasPrefix(dir, root) {
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

// writeFile writes r to destPath using an atomic write (temp file + rename).
func writeFile(destPath string, r io.Reader, expectedSize int64) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), tmpPattern)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if written != expectedSize {
		return fmt.Errorf("%w: size mismatch: expected %d bytes, got %d", ErrInvalidRequest, expectedSize, written)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

var _ Backend = (*FileSystemBackend)(nil)
