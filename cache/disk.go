package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	recordExt     = ".json"
	tempPrefix    = ".tmp-"
	dirPermission = 0o755
)

// diskTier stores one JSON file per record in dir.
//
// Files are replaced atomically by rename. mu serializes every rename and
// removal so the entry and byte counters always match the directory.
type diskTier struct {
	dir string

	mu      sync.Mutex
	entries int
	bytes   int64
}

func newDiskTier(dir string) (*diskTier, error) {
	if err := os.MkdirAll(dir, dirPermission); err != nil {
		return nil, fmt.Errorf("cache: create directory: %w", err)
	}
	d := &diskTier{dir: dir}

	names, err := d.recordFiles()
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		if info, err := os.Stat(filepath.Join(dir, name)); err == nil {
			d.entries++
			d.bytes += info.Size()
		}
	}
	return d, nil
}

func (d *diskTier) path(key string) string {
	return filepath.Join(d.dir, FileKey(key)+recordExt)
}

// recordFiles lists the record file names in dir. Temp files are skipped.
func (d *diskTier) recordFiles() ([]string, error) {
	dirEntries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, fmt.Errorf("cache: read directory: %w", err)
	}
	names := make([]string, 0, len(dirEntries))
	for _, e := range dirEntries {
		name := e.Name()
		if !e.Type().IsRegular() || strings.HasPrefix(name, tempPrefix) || filepath.Ext(name) != recordExt {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

// load reads the record stored for key. A missing file is (nil, nil).
// Unreadable or undecodable files return an error wrapping ErrCorruptRecord.
func (d *diskTier) load(key string) (*Record, error) {
	data, err := os.ReadFile(d.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	return decodeRecord(data)
}

// save writes rec to a temp file and renames it over the record file.
func (d *diskTier) save(rec *Record) error {
	data, err := encodeRecord(rec)
	if err != nil {
		return fmt.Errorf("cache: encode record: %w", err)
	}
	tmpName, err := d.writeTemp(data)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.commitLocked(tmpName, d.path(rec.Key), int64(len(data)))
}

// touch records a read of key in its file. The file is only rewritten while
// it still holds the generation the caller loaded (same key and CreatedAt)
// and has not expired; otherwise touch returns (nil, nil).
func (d *diskTier) touch(key string, createdAt, now time.Time) (*Record, error) {
	target := d.path(key)

	d.mu.Lock()
	defer d.mu.Unlock()

	data, err := os.ReadFile(target)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	rec, err := decodeRecord(data)
	if err != nil {
		return nil, err
	}
	if rec.Key != key || !rec.CreatedAt.Equal(createdAt) || rec.Expired(now) {
		return nil, nil
	}
	rec.touch(now)

	if data, err = encodeRecord(rec); err != nil {
		return nil, fmt.Errorf("cache: encode record: %w", err)
	}
	tmpName, err := d.writeTemp(data)
	if err != nil {
		return nil, err
	}
	if err := d.commitLocked(tmpName, target, int64(len(data))); err != nil {
		return nil, err
	}
	return rec, nil
}

func (d *diskTier) writeTemp(data []byte) (string, error) {
	tmp, err := os.CreateTemp(d.dir, tempPrefix+"*")
	if err != nil {
		return "", fmt.Errorf("cache: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("cache: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("cache: close temp file: %w", err)
	}
	return tmpName, nil
}

// commitLocked renames tmpName over target and updates the counters.
// d.mu must be held.
func (d *diskTier) commitLocked(tmpName, target string, size int64) error {
	oldSize, existed := int64(0), false
	if info, err := os.Stat(target); err == nil {
		oldSize, existed = info.Size(), true
	}
	if err := os.Rename(tmpName, target); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("cache: rename record: %w", err)
	}
	if !existed {
		d.entries++
	}
	d.bytes += size - oldSize
	return nil
}

// removeIf deletes the record file at path when pred reports true for its
// current contents. pred receives the decode error for corrupt files.
func (d *diskTier) removeIf(path string, pred func(*Record, error) bool) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	var rec *Record
	if err == nil {
		rec, err = decodeRecord(data)
	} else {
		err = fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	if !pred(rec, err) {
		return false, nil
	}

	info, statErr := os.Stat(path)
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("cache: remove record: %w", err)
	}
	d.entries--
	if statErr == nil {
		d.bytes -= info.Size()
	}
	return true, nil
}

// removeKey deletes the file for key unless it belongs to a colliding key.
func (d *diskTier) removeKey(key string) (bool, error) {
	return d.removeIf(d.path(key), func(rec *Record, err error) bool {
		return err != nil || rec.Key == key
	})
}

func (d *diskTier) removeCorrupt(key string) (bool, error) {
	return d.removeIf(d.path(key), func(_ *Record, err error) bool {
		return err != nil
	})
}

func (d *diskTier) removeExpired(key string, now time.Time) (bool, error) {
	return d.removeIf(d.path(key), func(rec *Record, err error) bool {
		return err == nil && rec.Key == key && rec.Expired(now)
	})
}

// sweep removes expired and corrupt record files.
func (d *diskTier) sweep(now time.Time) (int, error) {
	names, err := d.recordFiles()
	if err != nil {
		return 0, err
	}

	var (
		n    int
		errs []error
	)
	for _, name := range names {
		removed, err := d.removeIf(filepath.Join(d.dir, name), func(rec *Record, err error) bool {
			return err != nil || rec.Expired(now)
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if removed {
			n++
		}
	}
	return n, errors.Join(errs...)
}

// purge removes every record file in dir.
func (d *diskTier) purge() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	names, err := d.recordFiles()
	if err != nil {
		return err
	}

	var errs []error
	for _, name := range names {
		if err := os.Remove(filepath.Join(d.dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}

	// Recount whatever could not be removed.
	d.entries, d.bytes = 0, 0
	if remaining, err := d.recordFiles(); err == nil {
		for _, name := range remaining {
			if info, err := os.Stat(filepath.Join(d.dir, name)); err == nil {
				d.entries++
				d.bytes += info.Size()
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("cache: clear directory: %w", errors.Join(errs...))
	}
	return nil
}

func (d *diskTier) usage() (entries int, bytes int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.entries, d.bytes
}
