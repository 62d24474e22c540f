// Package cache keeps the on-disk species image cache in step with the
// current species list. It only ever adds images; entries for species that
// drop out of the list stay on disk for devices that move back and forth.
package cache

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/i474232898/birdnet-display/internal/common"
)

var imageExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
	".gif":  true,
}

// Entry is the set of cached images for one species directory.
type Entry struct {
	Slug  string   `json:"slug"`
	Dir   string   `json:"dir"`
	Files []string `json:"files"`
}

// Count returns the number of cached images.
func (e Entry) Count() int { return len(e.Files) }

// Complete reports whether the entry holds at least target images.
func (e Entry) Complete(target int) bool { return len(e.Files) >= target }

// usedIndices returns the numeric file stems already taken.
func (e Entry) usedIndices() map[int]bool {
	used := make(map[int]bool, len(e.Files))
	for _, f := range e.Files {
		stem := strings.TrimSuffix(f, filepath.Ext(f))
		if n, err := strconv.Atoi(stem); err == nil {
			used[n] = true
		}
	}
	return used
}

// Manifest maps species slug to its cache entry. It is always rebuilt from
// disk by Scan and never written anywhere.
type Manifest map[string]Entry

// Lookup finds the entry for a species identifier.
func (m Manifest) Lookup(species string) (Entry, bool) {
	e, ok := m[common.Slug(species)]
	return e, ok
}

// CompleteCount returns how many entries hold at least target images.
func (m Manifest) CompleteCount(target int) int {
	n := 0
	for _, e := range m {
		if e.Complete(target) {
			n++
		}
	}
	return n
}

// Scan walks one level of species directories under root. A missing root is
// an empty manifest. In-flight temp files are ignored.
func Scan(root string) (Manifest, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Manifest{}, nil
		}
		return nil, err
	}

	m := make(Manifest, len(entries))
	for _, d := range entries {
		if !d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			continue
		}
		dir := filepath.Join(root, d.Name())
		files, err := os.ReadDir(dir)
		if err != nil {
			return nil, err
		}

		entry := Entry{Slug: d.Name(), Dir: dir}
		for _, f := range files {
			name := f.Name()
			if f.IsDir() || strings.HasPrefix(name, common.TempPrefix) {
				continue
			}
			if !imageExts[strings.ToLower(filepath.Ext(name))] {
				continue
			}
			info, err := f.Info()
			if err != nil || info.Size() == 0 {
				continue
			}
			entry.Files = append(entry.Files, name)
		}
		sort.Strings(entry.Files)
		m[entry.Slug] = entry
	}
	return m, nil
}
