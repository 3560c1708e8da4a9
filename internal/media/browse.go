package media

import (
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
)

type Entry struct {
	Name  string `json:"name"`
	Path  string `json:"path"`
	IsDir bool   `json:"isDir"`
	Video bool   `json:"isVideo"`
	Size  int64  `json:"size,omitempty"`
}

// ListDirectory returns the browsable entries of dir: directories and video
// files only, hidden entries excluded, directories first then lexicographic.
func ListDirectory(dir string) ([]Entry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	result := make([]Entry, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if isHidden(name) {
			continue
		}

		full := filepath.Join(dir, name)
		if e.IsDir() {
			result = append(result, Entry{Name: name, Path: full, IsDir: true})
			continue
		}

		if !IsVideo(name) {
			continue
		}

		var size int64
		if info, err := e.Info(); err == nil {
			size = info.Size()
		}
		result = append(result, Entry{Name: name, Path: full, Video: true, Size: size})
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].IsDir != result[j].IsDir {
			return result[i].IsDir
		}
		return strings.ToLower(result[i].Name) < strings.ToLower(result[j].Name)
	})

	return result, nil
}

// ListDrives returns the filesystem roots available for browsing. On Windows
// that is every mounted drive letter, elsewhere the single root.
func ListDrives() []Entry {
	if runtime.GOOS != "windows" {
		return []Entry{{Name: "/", Path: "/", IsDir: true}}
	}

	var drives []Entry
	for c := 'A'; c <= 'Z'; c++ {
		root := string(c) + `:\`
		if _, err := os.Stat(root); err == nil {
			drives = append(drives, Entry{Name: root, Path: root, IsDir: true})
		}
	}
	return drives
}

func isHidden(name string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	switch strings.ToLower(name) {
	case "$recycle.bin", "system volume information", "thumbs.db", "desktop.ini":
		return true
	}
	return false
}
