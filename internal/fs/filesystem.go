// Package fs turns local paths into upload sources for the drive CLI.
package fs

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
)

// ErrIsDirectory is returned when a directory is given without recursion.
var ErrIsDirectory = errors.New("is a directory")

// SourceFile is one local file to upload. RelativePath uses '/' and places
// the file below the upload target; for a file given directly it is just
// the base name.
type SourceFile struct {
	LocalPath    string
	RelativePath string
	Size         int64
}

// Scanner discovers regular files under the paths given on the command line.
type Scanner struct {
	ignore *IgnoreMatcher
}

// NewScanner creates a scanner applying the configured ignore patterns.
func NewScanner(ignorePatterns []string) *Scanner {
	return &Scanner{ignore: NewIgnoreMatcher(ignorePatterns)}
}

// checkMode rejects the special file types an upload cannot carry.
func checkMode(p string, info fs.FileInfo) error {
	mode := info.Mode()
	switch {
	case mode&os.ModeSymlink != 0:
		return fmt.Errorf("symlinks not supported: %s", p)
	case mode&os.ModeDevice != 0:
		return fmt.Errorf("device files not supported: %s", p)
	case mode&os.ModeNamedPipe != 0:
		return fmt.Errorf("named pipes not supported: %s", p)
	case mode&os.ModeSocket != 0:
		return fmt.Errorf("sockets not supported: %s", p)
	}
	return nil
}

// Collect resolves each raw path. A file becomes one source named by its
// base name. A directory requires recursive and contributes every regular
// file below it, prefixed with the directory's own name, minus anything
// matched by the ignore patterns or the directory's .driveignore.
func (s *Scanner) Collect(rawPaths []string, recursive bool) ([]SourceFile, error) {
	var out []SourceFile
	for _, raw := range rawPaths {
		absPath, err := filepath.Abs(raw)
		if err != nil {
			return nil, fmt.Errorf("resolving absolute path: %w", err)
		}
		info, err := os.Lstat(absPath)
		if err != nil {
			return nil, fmt.Errorf("stat path: %w", err)
		}
		if err := checkMode(absPath, info); err != nil {
			return nil, err
		}

		if !info.IsDir() {
			out = append(out, SourceFile{LocalPath: absPath, RelativePath: filepath.Base(absPath), Size: info.Size()})
			continue
		}
		if !recursive {
			return nil, fmt.Errorf("%s: %w (use --recursive)", raw, ErrIsDirectory)
		}
		files, err := s.walk(absPath)
		if err != nil {
			return nil, err
		}
		out = append(out, files...)
	}
	return out, nil
}

func (s *Scanner) walk(root string) ([]SourceFile, error) {
	local, err := ParseIgnoreFile(filepath.Join(root, IgnoreFileName))
	if err != nil {
		return nil, err
	}
	matcher := s.ignore.With(local)
	base := filepath.Base(root)

	var files []SourceFile
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == root {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		if matcher.Match(rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", p, err)
		}
		files = append(files, SourceFile{
			LocalPath:    p,
			RelativePath: path.Join(base, filepath.ToSlash(rel)),
			Size:         info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking directory: %w", err)
	}
	return files, nil
}

// LazyFile opens its file on the first Read and closes it at EOF, so a
// large batch does not hold every descriptor open at once.
type LazyFile struct {
	path string
	f    *os.File
	done bool
}

func OpenLazy(name string) *LazyFile {
	return &LazyFile{path: name}
}

func (l *LazyFile) Read(p []byte) (int, error) {
	if l.done {
		return 0, io.EOF
	}
	if l.f == nil {
		f, err := os.Open(l.path)
		if err != nil {
			return 0, err
		}
		l.f = f
	}
	n, err := l.f.Read(p)
	if err == io.EOF {
		l.Close()
	}
	return n, err
}

// Close releases the file if it is still open. Safe to call more than once.
func (l *LazyFile) Close() error {
	l.done = true
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}
