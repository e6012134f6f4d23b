// Package output copies transform artifacts into the durable output store.
//
// Artifacts are laid out as <root>/<YYMM>/<ticket>/<file name>, where YYMM is
// the month the artifact was materialized in. Paths handed out to clients are
// relative to the root.
package output

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// bucketLayout formats the coarse time bucket of the output layout.
const bucketLayout = "0601"

// ErrInvalidPath is returned when a relative output path escapes the root.
var ErrInvalidPath = errors.New("invalid output path")

// Materializer copies artifacts into the output store and builds their links.
type Materializer struct {
	root    string
	baseURL string
	now     func() time.Time
}

// NewMaterializer returns a Materializer writing under root. baseURL prefixes
// public links, e.g. "https://geo.example.org/output".
func NewMaterializer(root, baseURL string) *Materializer {
	return &Materializer{
		root:    root,
		baseURL: strings.TrimRight(baseURL, "/"),
		now:     time.Now,
	}
}

// Root returns the output store root directory.
func (m *Materializer) Root() string {
	return m.root
}

// Materialize copies artifact into <root>/<YYMM>/<ticket>/ and returns the
// path relative to root. The artifact itself is left in place.
func (m *Materializer) Materialize(ticketID, artifact string) (string, error) {
	name := filepath.Base(artifact)
	rel := path.Join(m.now().Format(bucketLayout), ticketID, name)
	dst := filepath.Join(m.root, filepath.FromSlash(rel))

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	if err := copyFile(artifact, dst); err != nil {
		return "", fmt.Errorf("copy artifact: %w", err)
	}
	return rel, nil
}

// Link returns the public download link for a relative output path.
func (m *Materializer) Link(rel string) string {
	segments := strings.Split(rel, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return m.baseURL + "/" + strings.Join(segments, "/")
}

// Resolve maps a relative output path to its absolute location, rejecting
// paths that would leave the output root.
func (m *Materializer) Resolve(rel string) (string, error) {
	clean := path.Clean("/" + rel)
	if clean == "/" || strings.Contains(rel, "\\") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, rel)
	}
	return filepath.Join(m.root, filepath.FromSlash(strings.TrimPrefix(clean, "/"))), nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
