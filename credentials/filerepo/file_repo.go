// Package filerepo persists the credential in a single encrypted file on the device.
package filerepo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/jrsteele09/go-auth-client/credentials"
	"github.com/jrsteele09/go-auth-client/internal/sealer"
)

var _ credentials.Repo = (*FileRepo)(nil)

// FileRepo keeps every key in one JSON document whose values are sealed.
// Writes go to a temporary file that is renamed over the original.
type FileRepo struct {
	path   string
	sealer *sealer.Sealer
	lock   sync.Mutex
}

func New(path string, s *sealer.Sealer) (*FileRepo, error) {
	if path == "" {
		return nil, errors.New("filerepo: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("filerepo: create directory: %w", err)
	}
	return &FileRepo{path: path, sealer: s}, nil
}

func (r *FileRepo) Get(_ context.Context, key string) (string, bool, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	doc, err := r.read()
	if err != nil {
		return "", false, err
	}
	sealed, ok := doc[key]
	if !ok {
		return "", false, nil
	}
	plain, err := r.sealer.Open(sealed, []byte(key))
	if err != nil {
		return "", false, fmt.Errorf("filerepo: %s: %w", key, err)
	}
	return string(plain), true, nil
}

func (r *FileRepo) Put(_ context.Context, entries map[string]string) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	doc, err := r.read()
	if err != nil {
		return err
	}
	for k, v := range entries {
		sealed, err := r.sealer.Seal([]byte(v), []byte(k))
		if err != nil {
			return fmt.Errorf("filerepo: %s: %w", k, err)
		}
		doc[k] = sealed
	}
	return r.write(doc)
}

func (r *FileRepo) Delete(_ context.Context, keys ...string) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	doc, err := r.read()
	if err != nil {
		return err
	}
	for _, k := range keys {
		delete(doc, k)
	}
	if len(doc) == 0 {
		if err := os.Remove(r.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("filerepo: remove: %w", err)
		}
		return nil
	}
	return r.write(doc)
}

func (r *FileRepo) read() (map[string]string, error) {
	doc := make(map[string]string)
	data, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("filerepo: read: %w", err)
	}
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("filerepo: decode: %w", err)
	}
	return doc, nil
}

func (r *FileRepo) write(doc map[string]string) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("filerepo: encode: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(r.path), ".credentials-*")
	if err != nil {
		return fmt.Errorf("filerepo: temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("filerepo: chmod: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("filerepo: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("filerepo: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("filerepo: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), r.path); err != nil {
		return fmt.Errorf("filerepo: rename: %w", err)
	}
	return nil
}
