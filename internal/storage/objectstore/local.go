// Package objectstore provides the document upload capability used by
// merchant onboarding.
package objectstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Store uploads a blob and returns its public URL.
type Store interface {
	Upload(ctx context.Context, name string, r io.Reader) (publicURL string, err error)
}

// Local implements Store on the local filesystem behind a static file
// server. Suitable for single-node deployments; swap for an S3-style
// implementation behind the same interface when the documents need to
// survive the node.
type Local struct {
	root    string
	baseURL string
}

// NewLocal creates a Local store writing under root and serving files at
// baseURL.
func NewLocal(root, baseURL string) (*Local, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating object store root %q: %w", root, err)
	}
	return &Local{root: root, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Upload writes the blob and returns its public URL. The name is cleaned to
// a flat, slash-free form so callers cannot escape the root.
func (l *Local) Upload(ctx context.Context, name string, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	clean := sanitize(name)
	if clean == "" {
		return "", fmt.Errorf("invalid object name %q", name)
	}

	dst := filepath.Join(l.root, clean)
	f, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("creating object %q: %w", clean, err)
	}
	defer func() { _ = f.Close() }()

	if _, err := io.Copy(f, r); err != nil {
		_ = os.Remove(dst)
		return "", fmt.Errorf("writing object %q: %w", clean, err)
	}

	return l.baseURL + "/" + clean, nil
}

// sanitize reduces a requested object name to its base name with path
// separators and parent references stripped.
func sanitize(name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == ".." || base == "/" {
		return ""
	}
	return base
}
