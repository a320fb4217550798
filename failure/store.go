package failure

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DefaultLogDir is where error logs are written when Options.LogDir is empty.
const DefaultLogDir = "error_logs"

// FileStore persists records as one JSON array per UTC day, in files named
// errors_YYYYMMDD.json.
//
// Contract:
//   - Concurrency: safe for concurrent use within one process. Appends are
//     read-modify-write under a mutex and land through a rename.
//   - Errors: a day file that is not a JSON array is moved aside with a
//     ".corrupt" suffix and a fresh array is started.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates a store rooted at dir. The directory is created on the
// first Append.
func NewFileStore(dir string) *FileStore {
	if dir == "" {
		dir = DefaultLogDir
	}
	return &FileStore{dir: dir}
}

// Dir returns the store's directory.
func (s *FileStore) Dir() string { return s.dir }

// Path returns the file holding records for the UTC day of t.
func (s *FileStore) Path(t time.Time) string {
	return filepath.Join(s.dir, "errors_"+t.UTC().Format("20060102")+".json")
}

// Append adds rec to the file for its timestamp's day.
func (s *FileStore) Append(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failure: create log dir: %w", err)
	}

	path := s.Path(rec.Timestamp)
	records, err := readDay(path)
	if err != nil {
		if !errors.Is(err, errCorruptDay) {
			return err
		}
		if err := os.Rename(path, path+".corrupt"); err != nil {
			return fmt.Errorf("failure: move corrupt log aside: %w", err)
		}
		records = nil
	}

	records = append(records, rec)
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failure: encode log: %w", err)
	}
	return writeFileAtomic(path, data)
}

// Load returns the records persisted for the UTC day of t. A missing file
// yields no records and no error.
func (s *FileStore) Load(t time.Time) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return readDay(s.Path(t))
}

var errCorruptDay = errors.New("failure: corrupt day file")

func readDay(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failure: read log: %w", err)
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errCorruptDay, filepath.Base(path), err)
	}
	return records, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failure: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failure: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failure: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failure: rename temp file: %w", err)
	}
	return nil
}
