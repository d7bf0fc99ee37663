package blob

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// LocalFS stores objects as files under Root, one file per key.
type LocalFS struct {
	Root string
}

func (l LocalFS) path(key string) (string, error) {
	clean := path.Clean("/" + key)
	if key == "" || clean == "/" || strings.Contains(key, "..") || strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(l.Root, filepath.FromSlash(strings.TrimPrefix(clean, "/"))), nil
}

// Put writes r to key through a temp file so readers never see a partial object.
func (l LocalFS) Put(key string, r io.Reader) (int64, error) {
	abs, err := l.path(key)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return 0, err
	}
	f, err := os.CreateTemp(filepath.Dir(abs), ".upload-*")
	if err != nil {
		return 0, err
	}
	defer os.Remove(f.Name())

	n, err := io.Copy(f, r)
	if err != nil {
		f.Close()
		return 0, err
	}
	if err := f.Close(); err != nil {
		return 0, err
	}
	if err := os.Rename(f.Name(), abs); err != nil {
		return 0, err
	}
	return n, nil
}

func (l LocalFS) Open(key string) (*os.File, error) {
	abs, err := l.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(abs)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return f, err
}

func (l LocalFS) Exists(key string) bool {
	abs, err := l.path(key)
	if err != nil {
		return false
	}
	_, err = os.Stat(abs)
	return err == nil
}
