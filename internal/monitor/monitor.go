// Package monitor exposes a watched directory of G-code files to clients.
// All access is confined to the configured root.
package monitor

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// File is one entry in the watched directory listing.
type File struct {
	Name    string `json:"name"`
	Size    int64  `json:"size"`
	ModTime int64  `json:"mtime"`
}

type Monitor struct {
	root string
}

// New returns a monitor rooted at dir. An empty dir yields a nil monitor,
// which callers treat as "no watch directory configured".
func New(dir string) *Monitor {
	if dir == "" {
		return nil
	}
	return &Monitor{root: filepath.Clean(dir)}
}

// Root returns the watched directory.
func (m *Monitor) Root() string {
	return m.root
}

// resolve maps a client-supplied name onto the root, rejecting anything
// that would escape it.
func (m *Monitor) resolve(name string) (string, error) {
	path := filepath.Join(m.root, filepath.Clean("/"+name))
	if path != m.root && !strings.HasPrefix(path, m.root+string(filepath.Separator)) {
		return "", fmt.Errorf("monitor: %q escapes the watch directory", name)
	}
	return path, nil
}

// ReadFile returns the contents of name, resolved inside the root.
func (m *Monitor) ReadFile(name string) (string, error) {
	path, err := m.resolve(name)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("monitor: read %q: %w", name, err)
	}
	return string(data), nil
}

// Files lists the G-code files under the root, sorted by name.
func (m *Monitor) Files() ([]File, error) {
	var files []File
	err := filepath.WalkDir(m.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !isGcodeFile(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(m.root, path)
		if err != nil {
			return err
		}
		files = append(files, File{
			Name:    filepath.ToSlash(rel),
			Size:    info.Size(),
			ModTime: info.ModTime().Unix(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("monitor: list %q: %w", m.root, err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

func isGcodeFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".gcode", ".gc", ".nc", ".ngc", ".tap", ".txt":
		return true
	}
	return false
}
