// Package appconfig reads and updates the BirdNET-Go config.yaml.
//
// Only birdnet.latitude and birdnet.longitude are rewritten by the location
// manager. When both keys already exist their scalar text is patched in place,
// so every other byte of the file survives unchanged. When a key has to be
// added, the document tree is re-encoded instead.
package appconfig

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/i474232898/birdnet-display/internal/common"
	"github.com/i474232898/birdnet-display/internal/location"
)

const (
	DefaultPath = "/root/birdnet-go-app/config/config.yaml"

	sectionKey   = "birdnet"
	latitudeKey  = "latitude"
	longitudeKey = "longitude"

	backupInfix      = ".backup_"
	backupTimeLayout = "20060102_150405"
)

var (
	// ErrConfigUnavailable is returned when the config cannot be read or parsed.
	ErrConfigUnavailable = errors.New("config unavailable")

	// ErrConfigWrite is returned when a save could not complete. The live
	// file is left as it was.
	ErrConfigWrite = errors.New("config write failed")

	errNotLoaded = errors.New("configuration not loaded")
)

// scalarEdit records a value change to a scalar that exists in the raw file.
type scalarEdit struct {
	line, column int
	oldText      string
	newText      string
}

// Store holds one loaded config.yaml.
type Store struct {
	path string
	mode os.FileMode
	raw  []byte
	doc  *yaml.Node

	edits      []scalarEdit
	structural bool
	lastBackup string

	now        func() time.Time
	openBackup func(name string, flag int, perm os.FileMode) (*os.File, error)
}

// NewStore returns a Store for path. Call Load before anything else.
func NewStore(path string) *Store {
	if path == "" {
		path = DefaultPath
	}
	return &Store{path: path, mode: 0o644, now: time.Now, openBackup: os.OpenFile}
}

// Path returns the file path used by this store.
func (s *Store) Path() string { return s.path }

// LastBackup returns the backup written by the most recent Save, if any.
func (s *Store) LastBackup() string { return s.lastBackup }

// Load reads and parses the config file.
func (s *Store) Load() error {
	info, err := os.Stat(s.path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfigUnavailable, err)
	}
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfigUnavailable, err)
	}
	doc, err := parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrConfigUnavailable, s.path, err)
	}

	s.mode = info.Mode().Perm()
	s.raw = raw
	s.doc = doc
	s.edits = nil
	s.structural = false
	log.Info().Str("path", s.path).Msg("config: loaded")
	return nil
}

func parse(raw []byte) (*yaml.Node, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, fmt.Errorf("top level is not a mapping")
	}
	return &doc, nil
}

func (s *Store) root() *yaml.Node {
	if s.doc == nil {
		return nil
	}
	return s.doc.Content[0]
}

// Location returns the configured location, or nil when it is unset, 0,0,
// non-numeric or out of range.
func (s *Store) Location() *location.Reading {
	section := lookup(s.root(), sectionKey)
	lat, okLat := floatValue(lookup(section, latitudeKey))
	lon, okLon := floatValue(lookup(section, longitudeKey))
	if !okLat || !okLon || !location.ValidCoordinates(lat, lon) {
		return nil
	}
	return &location.Reading{
		Latitude:  lat,
		Longitude: lon,
		Source:    location.SourceExisting,
		Provider:  "config",
	}
}

// SetLocation updates birdnet.latitude and birdnet.longitude in memory.
func (s *Store) SetLocation(lat, lon float64) error {
	if s.doc == nil {
		return errNotLoaded
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return fmt.Errorf("invalid coordinates: %f, %f", lat, lon)
	}

	section := lookup(s.root(), sectionKey)
	if section == nil || section.Kind != yaml.MappingNode {
		section = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		setKey(s.root(), sectionKey, section)
		s.structural = true
	}
	s.setFloat(section, latitudeKey, lat)
	s.setFloat(section, longitudeKey, lon)
	log.Info().Float64("latitude", lat).Float64("longitude", lon).Msg("config: updated location")
	return nil
}

func (s *Store) setFloat(section *yaml.Node, key string, v float64) {
	text := formatFloat(v)
	node := lookup(section, key)
	if node == nil || node.Kind != yaml.ScalarNode {
		setKey(section, key, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!float", Value: text})
		s.structural = true
		return
	}
	if node.Style == 0 && node.Line > 0 {
		s.edits = append(s.edits, scalarEdit{line: node.Line, column: node.Column, oldText: node.Value, newText: text})
	} else {
		s.structural = true
	}
	node.Tag = "!!float"
	node.Style = 0
	node.Value = text
}

// Setting returns the value at the given key path.
func (s *Store) Setting(keys ...string) (any, bool) {
	node := s.root()
	for _, k := range keys {
		node = lookup(node, k)
		if node == nil {
			return nil, false
		}
	}
	if node == nil {
		return nil, false
	}
	var v any
	if err := node.Decode(&v); err != nil {
		return nil, false
	}
	return v, true
}

// SetSetting sets the value at the given key path, creating intermediate
// mappings as needed.
func (s *Store) SetSetting(value any, keys ...string) error {
	if s.doc == nil {
		return errNotLoaded
	}
	if len(keys) == 0 {
		return fmt.Errorf("empty key path")
	}

	parent := s.root()
	for _, k := range keys[:len(keys)-1] {
		next := lookup(parent, k)
		if next == nil || next.Kind != yaml.MappingNode {
			next = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
			setKey(parent, k, next)
		}
		parent = next
	}

	var node yaml.Node
	if err := node.Encode(value); err != nil {
		return err
	}
	setKey(parent, keys[len(keys)-1], &node)
	s.structural = true
	return nil
}

// Save writes the config. With backup set, the current on-disk file is copied
// to a timestamped backup first, and a failed backup aborts the save. The
// new content goes to a temp file that is renamed over the target.
func (s *Store) Save(backup bool) error {
	if s.doc == nil {
		return fmt.Errorf("%w: %w", ErrConfigWrite, errNotLoaded)
	}

	data, err := s.render()
	if err != nil {
		return fmt.Errorf("%w: render: %w", ErrConfigWrite, err)
	}

	s.lastBackup = ""
	if backup {
		path, err := s.writeBackup()
		if err != nil {
			return fmt.Errorf("%w: backup: %w", ErrConfigWrite, err)
		}
		s.lastBackup = path
		if path != "" {
			log.Info().Str("path", path).Msg("config: created backup")
		}
	}

	if err := common.WriteFileAtomic(s.path, data, s.mode); err != nil {
		return fmt.Errorf("%w: %w", ErrConfigWrite, err)
	}

	doc, err := parse(data)
	if err != nil {
		return fmt.Errorf("%w: reparse: %w", ErrConfigWrite, err)
	}
	s.raw = data
	s.doc = doc
	s.edits = nil
	s.structural = false
	log.Info().Str("path", s.path).Msg("config: saved")
	return nil
}

// render patches the raw bytes when only existing scalars changed and falls
// back to encoding the whole tree otherwise.
func (s *Store) render() ([]byte, error) {
	if !s.structural {
		if len(s.edits) == 0 {
			return s.raw, nil
		}
		if patched, ok := applyEdits(s.raw, s.edits); ok {
			if doc, err := parse(patched); err == nil && sameLocation(doc, s.doc) {
				return patched, nil
			}
		}
		log.Debug().Msg("config: in-place patch not possible, re-encoding document")
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(s.doc); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func sameLocation(a, b *yaml.Node) bool {
	sa := lookup(a.Content[0], sectionKey)
	sb := lookup(b.Content[0], sectionKey)
	for _, k := range []string{latitudeKey, longitudeKey} {
		va, okA := floatValue(lookup(sa, k))
		vb, okB := floatValue(lookup(sb, k))
		if !okA || !okB || va != vb {
			return false
		}
	}
	return true
}

func applyEdits(raw []byte, edits []scalarEdit) ([]byte, bool) {
	lines := bytes.SplitAfter(raw, []byte("\n"))

	sorted := append([]scalarEdit(nil), edits...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].line != sorted[j].line {
			return sorted[i].line > sorted[j].line
		}
		return sorted[i].column > sorted[j].column
	})

	for _, e := range sorted {
		if e.line < 1 || e.line > len(lines) {
			return nil, false
		}
		line := lines[e.line-1]
		off, ok := byteOffset(line, e.column-1)
		if !ok || !bytes.HasPrefix(line[off:], []byte(e.oldText)) {
			return nil, false
		}
		patched := make([]byte, 0, len(line)-len(e.oldText)+len(e.newText))
		patched = append(patched, line[:off]...)
		patched = append(patched, e.newText...)
		patched = append(patched, line[off+len(e.oldText):]...)
		lines[e.line-1] = patched
	}
	return bytes.Join(lines, nil), true
}

// byteOffset converts a 0-based character column into a byte offset.
func byteOffset(line []byte, col int) (int, bool) {
	off := 0
	for i := 0; i < col; i++ {
		if off >= len(line) {
			return 0, false
		}
		_, size := utf8.DecodeRune(line[off:])
		off += size
	}
	return off, off <= len(line)
}

func (s *Store) writeBackup() (string, error) {
	current, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", err
	}

	base := s.path + backupInfix + s.now().Format(backupTimeLayout)
	for i := 0; ; i++ {
		path := base
		if i > 0 {
			path = fmt.Sprintf("%s_%d", base, i)
		}
		f, err := s.openBackup(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, s.mode)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", err
		}
		if _, err := f.Write(current); err != nil {
			f.Close()
			os.Remove(path)
			return "", err
		}
		if err := f.Sync(); err != nil {
			f.Close()
			os.Remove(path)
			return "", err
		}
		if err := f.Close(); err != nil {
			os.Remove(path)
			return "", err
		}
		return path, nil
	}
}

// Backups lists backups of path, newest first.
func Backups(path string) ([]string, error) {
	dir := filepath.Dir(path)
	prefix := filepath.Base(path) + backupInfix
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), prefix) {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(out)))
	return out, nil
}

// RestoreLatestBackup copies the newest backup over path and returns its name.
func RestoreLatestBackup(path string) (string, error) {
	backups, err := Backups(path)
	if err != nil {
		return "", err
	}
	if len(backups) == 0 {
		return "", fmt.Errorf("no backups found for %s", path)
	}
	data, err := os.ReadFile(backups[0])
	if err != nil {
		return "", err
	}
	mode := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}
	if err := common.WriteFileAtomic(path, data, mode); err != nil {
		return "", err
	}
	log.Info().Str("backup", backups[0]).Str("path", path).Msg("config: restored from backup")
	return backups[0], nil
}

// Summary formats the settings an operator usually wants to see.
func (s *Store) Summary() string {
	if s.doc == nil {
		return "Configuration not loaded"
	}
	lines := []string{"=== BirdNET-Go Configuration ==="}
	if loc := s.Location(); loc != nil {
		lines = append(lines, fmt.Sprintf("Location: %.6f, %.6f", loc.Latitude, loc.Longitude))
	} else {
		lines = append(lines, "Location: Not set (0.0, 0.0)")
	}
	for _, item := range []struct {
		label string
		keys  []string
	}{
		{"Confidence Threshold", []string{"birdnet", "threshold"}},
		{"Sensitivity", []string{"birdnet", "sensitivity"}},
		{"Locale", []string{"birdnet", "locale"}},
		{"Audio Source", []string{"realtime", "audio", "source"}},
	} {
		if v, ok := s.Setting(item.keys...); ok && v != nil && v != "" {
			lines = append(lines, fmt.Sprintf("%s: %v", item.label, v))
		}
	}
	return strings.Join(lines, "\n")
}

func lookup(mapping *yaml.Node, key string) *yaml.Node {
	if mapping == nil || mapping.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return mapping.Content[i+1]
		}
	}
	return nil
}

func setKey(mapping *yaml.Node, key string, value *yaml.Node) {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			mapping.Content[i+1] = value
			return
		}
	}
	mapping.Content = append(mapping.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
		value,
	)
}

func floatValue(n *yaml.Node) (float64, bool) {
	if n == nil || n.Kind != yaml.ScalarNode {
		return 0, false
	}
	if n.Tag != "!!float" && n.Tag != "!!int" {
		return 0, false
	}
	v, err := strconv.ParseFloat(n.Value, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func formatFloat(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}
