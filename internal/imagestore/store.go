package imagestore

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9]`)

// Store persists reference face images on disk. Filenames are derived from
// the subject name with everything outside [A-Za-z0-9] replaced by '_', so
// a hostile name can never escape the image directory.
type Store struct {
	dir string
}

func New(dir string) *Store {
	return &Store{dir: dir}
}

// Staged is an image written to a temp path but not yet published. The
// registration flow stages the image, inserts the subject row referencing
// the final path, then commits; any earlier failure aborts and removes the
// temp file.
type Staged struct {
	tmpPath   string
	finalPath string
}

// Path returns the final path the image will occupy after Commit.
func (st *Staged) Path() string {
	return st.finalPath
}

// Commit renames the temp file into place. On failure the temp is removed.
func (st *Staged) Commit() error {
	if err := os.Rename(st.tmpPath, st.finalPath); err != nil {
		os.Remove(st.tmpPath)
		return fmt.Errorf("publish image: %w", err)
	}
	return nil
}

// Abort removes the temp file. Safe to call after Commit (no-op then).
func (st *Staged) Abort() {
	os.Remove(st.tmpPath)
}

// Stage writes the image bytes to a temp file in the target directory and
// syncs it to disk. The final filename is <sanitized-name>_<epochms>.<ext>.
func (s *Store) Stage(name string, data []byte, mimeType string) (*Staged, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create image dir: %w", err)
	}

	fileName := fmt.Sprintf("%s_%d%s", Sanitize(name), time.Now().UnixMilli(), extFor(mimeType))
	finalPath := filepath.Join(s.dir, fileName)

	tmp, err := os.CreateTemp(s.dir, fileName+".tmp*")
	if err != nil {
		return nil, fmt.Errorf("create temp image: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("write image: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("sync image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("close image: %w", err)
	}
	return &Staged{tmpPath: tmpPath, finalPath: finalPath}, nil
}

// Save stages and immediately commits, returning the final path.
func (s *Store) Save(name string, data []byte, mimeType string) (string, error) {
	st, err := s.Stage(name, data, mimeType)
	if err != nil {
		return "", err
	}
	if err := st.Commit(); err != nil {
		return "", err
	}
	return st.finalPath, nil
}

// Remove deletes an image artifact. A missing file is not an error; the
// subject row may outlive a manually pruned image.
func (s *Store) Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove image: %w", err)
	}
	return nil
}

// Sanitize maps a subject name to a path-safe filename fragment.
func Sanitize(name string) string {
	return unsafeChars.ReplaceAllString(name, "_")
}

func extFor(mimeType string) string {
	switch strings.ToLower(mimeType) {
	case "image/png":
		return ".png"
	default:
		return ".jpg"
	}
}
