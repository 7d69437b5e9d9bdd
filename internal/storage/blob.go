// Package storage holds uploaded attachments and avatars.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

var ErrInvalidPath = errors.New("storage: invalid object path")

type BlobStore interface {
	Upload(ctx context.Context, objectPath string, data []byte, contentType string) error
	PublicURL(objectPath string) string
}

// LocalStore writes objects under a root directory. The router serves that
// directory at baseURL.
type LocalStore struct {
	root    string
	baseURL string
}

func NewLocalStore(root, baseURL string) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &LocalStore{
		root:    root,
		baseURL: strings.TrimRight(baseURL, "/"),
	}, nil
}

func (s *LocalStore) Root() string {
	return s.root
}

func (s *LocalStore) Upload(ctx context.Context, objectPath string, data []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	clean, err := cleanObjectPath(objectPath)
	if err != nil {
		return err
	}

	full := filepath.Join(s.root, filepath.FromSlash(clean))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("create object dir: %w", err)
	}

	// Write to a temp file first so readers never see a partial object.
	tmp, err := os.CreateTemp(filepath.Dir(full), ".upload-*")
	if err != nil {
		return fmt.Errorf("create temp object: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close object: %w", err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		return fmt.Errorf("commit object: %w", err)
	}
	return nil
}

func (s *LocalStore) PublicURL(objectPath string) string {
	clean, err := cleanObjectPath(objectPath)
	if err != nil {
		return ""
	}
	return s.baseURL + "/" + clean
}

func cleanObjectPath(p string) (string, error) {
	p = strings.TrimLeft(p, "/")
	if p == "" {
		return "", ErrInvalidPath
	}
	clean := path.Clean(p)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", ErrInvalidPath
	}
	return clean, nil
}
