package recorder

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ClipSink stores finalized clips and releases them again. The returned URL
// is what an AudioEntry records.
type ClipSink interface {
	Save(id, ext string, data []byte) (url string, err error)
	Remove(url string) error
}

// ClipDir keeps clips as <dir>/<entry id>.<ext>.
type ClipDir struct {
	Dir string
}

func (c ClipDir) Save(id, ext string, data []byte) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return "", fmt.Errorf("invalid clip id %q", id)
	}
	if err := os.MkdirAll(c.Dir, 0755); err != nil {
		return "", fmt.Errorf("creating clip directory: %w", err)
	}
	path := filepath.Join(c.Dir, id+"."+ext)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("writing clip: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return path, nil
	}
	return abs, nil
}

// Remove deletes a clip written by Save. URLs outside the clip directory
// (imported or legacy references) are left alone, as are missing files.
func (c ClipDir) Remove(url string) error {
	if !c.owns(url) {
		return nil
	}
	if err := os.Remove(url); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing clip: %w", err)
	}
	return nil
}

func (c ClipDir) owns(url string) bool {
	if url == "" || !filepath.IsAbs(url) {
		return false
	}
	dir, err := filepath.Abs(c.Dir)
	if err != nil {
		return false
	}
	return filepath.Dir(filepath.Clean(url)) == dir
}
