// Package store keeps the deduplicated tender record collection: an id-keyed
// map in memory and a gzip-compressed JSON array on disk.
package store

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"time"

	"github.com/google/renameio/v2"

	"github.com/jonathan/tender-monitor/internal/types"
)

// ErrNotFound is returned by Load when the store file does not exist.
var ErrNotFound = errors.New("record store not found")

// CorruptError reports a store file that exists but cannot be decoded.
type CorruptError struct {
	Path    string
	Message string
	Cause   error
}

func (e *CorruptError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("corrupt record store %s: %s: %v", e.Path, e.Message, e.Cause)
	}
	return fmt.Sprintf("corrupt record store %s: %s", e.Path, e.Message)
}

func (e *CorruptError) Unwrap() error {
	return e.Cause
}

// Store maps composite tender id to record. It is not safe for concurrent
// mutation; runs funnel all merges through a single aggregating goroutine.
type Store struct {
	path    string
	records map[string]types.TenderRecord
}

// New returns an empty store bound to path.
func New(path string) *Store {
	return &Store{path: path, records: make(map[string]types.TenderRecord)}
}

// Load reads the store file at path.
// It returns ErrNotFound when the file is missing and a *CorruptError when it cannot be decoded.
func Load(path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to open record store %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	records, err := Decode(f)
	if err != nil {
		var ce *CorruptError
		if errors.As(err, &ce) {
			ce.Path = path
		}
		return nil, err
	}

	s := New(path)
	for _, rec := range records {
		s.put(rec)
	}
	return s, nil
}

// LoadOrEmpty is Load for callers that may start from nothing. A missing or
// corrupt file yields an empty store; the load error is still returned so it
// can be reported, and is nil only when the file was read successfully or did not exist.
func LoadOrEmpty(path string) (*Store, error) {
	s, err := Load(path)
	switch {
	case err == nil:
		return s, nil
	case errors.Is(err, ErrNotFound):
		return New(path), nil
	default:
		return New(path), err
	}
}

// Quarantine moves an unreadable store file aside so a fresh store does not overwrite it.
func Quarantine(path string) (string, error) {
	dest := fmt.Sprintf("%s.corrupt-%s", path, time.Now().UTC().Format("20060102T150405"))
	if err := os.Rename(path, dest); err != nil {
		return "", fmt.Errorf("failed to quarantine record store %s: %w", path, err)
	}
	return dest, nil
}

// Decode reads a store stream. Gzip is detected by its magic bytes; plain JSON is
// accepted too. The canonical shape is an array of records; an object keyed by
// id is accepted and converted, taking the key as id when a record lacks one.
func Decode(r io.Reader) ([]types.TenderRecord, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, &CorruptError{Message: "read failed", Cause: err}
	}

	if len(raw) >= 2 && raw[0] == 0x1f && raw[1] == 0x8b {
		gz, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, &CorruptError{Message: "bad gzip header", Cause: err}
		}
		raw, err = io.ReadAll(gz)
		if err != nil {
			return nil, &CorruptError{Message: "bad gzip stream", Cause: err}
		}
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, &CorruptError{Message: "empty document"}
	}

	switch trimmed[0] {
	case '[':
		var records []types.TenderRecord
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, &CorruptError{Message: "bad record list", Cause: err}
		}
		for i, rec := range records {
			if rec.ID == "" {
				return nil, &CorruptError{Message: fmt.Sprintf("record %d has no id", i)}
			}
		}
		return records, nil
	case '{':
		var byID map[string]types.TenderRecord
		if err := json.Unmarshal(trimmed, &byID); err != nil {
			return nil, &CorruptError{Message: "bad record mapping", Cause: err}
		}
		records := make([]types.TenderRecord, 0, len(byID))
		for id, rec := range byID {
			if rec.ID == "" {
				rec.ID = id
			}
			records = append(records, rec)
		}
		sortByID(records)
		return records, nil
	default:
		return nil, &CorruptError{Message: "document is neither a list nor a mapping"}
	}
}

// Encode writes records as compact JSON without HTML escaping.
func Encode(w io.Writer, records []types.TenderRecord) error {
	if records == nil {
		records = []types.TenderRecord{}
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(records)
}

// Path returns the file the store persists to.
func (s *Store) Path() string {
	return s.path
}

// Len returns the number of records.
func (s *Store) Len() int {
	return len(s.records)
}

// Get returns the record stored under id.
func (s *Store) Get(id string) (types.TenderRecord, bool) {
	rec, ok := s.records[id]
	return rec, ok
}

// Merge stores rec under its id, replacing any previous record entirely.
// It reports whether the stored value changed.
func (s *Store) Merge(rec types.TenderRecord) bool {
	old, existed := s.records[rec.ID]
	s.put(rec)
	return !existed || !reflect.DeepEqual(old, s.records[rec.ID])
}

func (s *Store) put(rec types.TenderRecord) {
	if rec.Items == nil {
		rec.Items = []types.LineItem{}
	}
	s.records[rec.ID] = rec
}

// IDs returns every id in ascending order.
func (s *Store) IDs() []string {
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Records returns every record ordered by id.
func (s *Store) Records() []types.TenderRecord {
	out := make([]types.TenderRecord, 0, len(s.records))
	for _, id := range s.IDs() {
		out = append(out, s.records[id])
	}
	return out
}

// Persist rewrites the whole store file. Data goes to a temporary file in the
// same directory which is then renamed over the target, so readers never see a partial write.
func (s *Store) Persist() error {
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create store directory %s: %w", dir, err)
		}
	}

	pf, err := renameio.NewPendingFile(s.path, renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf("failed to create temporary store file: %w", err)
	}
	defer func() { _ = pf.Cleanup() }()

	gz := gzip.NewWriter(pf)
	if err := Encode(gz, s.Records()); err != nil {
		return fmt.Errorf("failed to encode record store: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("failed to compress record store: %w", err)
	}
	if err := pf.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("failed to replace record store %s: %w", s.path, err)
	}
	return nil
}

func sortByID(records []types.TenderRecord) {
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
}
