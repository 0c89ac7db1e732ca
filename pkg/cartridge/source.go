package cartridge

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Source reads archive components by relative path. A cartridge archive
// is either a plain directory or a zip file; everything above this
// interface is format-agnostic.
type Source interface {
	// Open returns a reader for the named component.
	Open(name string) (io.ReadCloser, error)
	// Has reports whether the named component exists.
	Has(name string) bool
	// Names lists every component, sorted.
	Names() ([]string, error)
	Close() error
}

// OpenSource opens path as an archive source: a directory is read
// directly, anything else is treated as a zip file.
func OpenSource(path string) (Source, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("cartridge: opening archive %s: %w", path, err)
	}
	if info.IsDir() {
		return &dirSource{root: path}, nil
	}
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, &CorruptArchiveError{Msg: fmt.Sprintf("not a readable zip archive: %v", err)}
	}
	return &zipSource{reader: zr}, nil
}

type dirSource struct {
	root string
}

func (s *dirSource) Open(name string) (io.ReadCloser, error) {
	return os.Open(filepath.Join(s.root, filepath.FromSlash(name)))
}

func (s *dirSource) Has(name string) bool {
	info, err := os.Stat(filepath.Join(s.root, filepath.FromSlash(name)))
	return err == nil && !info.IsDir()
}

func (s *dirSource) Names() ([]string, error) {
	var names []string
	err := filepath.Walk(s.root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		names = append(names, filepath.ToSlash(rel))
		return nil
	})
	sort.Strings(names)
	return names, err
}

func (s *dirSource) Close() error { return nil }

type zipSource struct {
	reader *zip.ReadCloser
}

func (s *zipSource) Open(name string) (io.ReadCloser, error) {
	for _, f := range s.reader.File {
		if f.Name == name {
			return f.Open()
		}
	}
	return nil, fmt.Errorf("cartridge: %s not in archive", name)
}

func (s *zipSource) Has(name string) bool {
	for _, f := range s.reader.File {
		if f.Name == name {
			return true
		}
	}
	return false
}

func (s *zipSource) Names() ([]string, error) {
	var names []string
	for _, f := range s.reader.File {
		if !strings.HasSuffix(f.Name, "/") {
			names = append(names, f.Name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *zipSource) Close() error { return s.reader.Close() }

// readAll drains one component into memory.
func readAll(src Source, name string) ([]byte, error) {
	rc, err := src.Open(name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
