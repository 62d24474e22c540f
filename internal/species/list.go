package species

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/i474232898/birdnet-display/internal/common"
)

// ErrNoList is returned by ListFile.Load when no list has been saved yet.
var ErrNoList = errors.New("no saved species list")

// ListFile is the species list persisted next to the image cache.
type ListFile struct {
	path string
}

type listDocument struct {
	UpdatedAt time.Time `json:"updated_at"`
	Latitude  float64   `json:"latitude,omitempty"`
	Longitude float64   `json:"longitude,omitempty"`
	Species   Set       `json:"species"`
}

func NewListFile(path string) *ListFile {
	return &ListFile{path: path}
}

func (l *ListFile) Path() string { return l.path }

// Load returns the saved list, or ErrNoList.
func (l *ListFile) Load() (Set, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoList
		}
		return nil, err
	}
	var doc listDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", l.path, err)
	}
	if len(doc.Species) == 0 {
		return nil, ErrNoList
	}
	return doc.Species, nil
}

// Save writes the list atomically together with the location it was fetched for.
func (l *ListFile) Save(set Set, lat, lon float64) error {
	data, err := json.MarshalIndent(listDocument{
		UpdatedAt: time.Now().UTC(),
		Latitude:  lat,
		Longitude: lon,
		Species:   set,
	}, "", "  ")
	if err != nil {
		return err
	}
	return common.WriteFileAtomic(l.path, data, 0o644)
}
