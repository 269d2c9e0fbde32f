package internal

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

const fileKVExt = ".json"

// FileKV keeps each record in its own file under dir
type FileKV struct {
	dir string
}

// NewFileKV creates a file-backed KVStore rooted at dir
func NewFileKV(dir string) *FileKV {
	return &FileKV{dir: dir}
}

// EnsureDir ensures the store directory exists
func (f *FileKV) EnsureDir() error {
	return os.MkdirAll(f.dir, 0755)
}

// Dir returns the store directory path
func (f *FileKV) Dir() string {
	return f.dir
}

// PathFor returns the file that holds key
func (f *FileKV) PathFor(key string) string {
	return filepath.Join(f.dir, url.PathEscape(key)+fileKVExt)
}

func (f *FileKV) Get(key string) (string, bool, error) {
	path := f.PathFor(key)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, &StorageError{Path: path, Op: "read", Err: err}
	}
	return string(data), true, nil
}

func (f *FileKV) Set(key, value string) error {
	if err := f.EnsureDir(); err != nil {
		return &StorageError{Path: f.dir, Op: "open", Err: err}
	}

	path := f.PathFor(key)
	// Write to a temp file first so a crash mid-write never leaves half a record.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(value), 0644); err != nil {
		return &StorageError{Path: tmp, Op: "write", Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return &StorageError{Path: path, Op: "write", Err: err}
	}
	return nil
}

func (f *FileKV) Delete(key string) error {
	path := f.PathFor(key)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return &StorageError{Path: path, Op: "delete", Err: err}
	}
	return nil
}

func (f *FileKV) List(prefix string) ([]KeyValuePair, error) {
	entries, err := os.ReadDir(f.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, &StorageError{Path: f.dir, Op: "read", Err: err}
	}

	var pairs []KeyValuePair
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, fileKVExt) {
			continue
		}
		key, err := url.PathUnescape(strings.TrimSuffix(name, fileKVExt))
		if err != nil || !strings.HasPrefix(key, prefix) {
			continue
		}
		value, ok, err := f.Get(key)
		if err != nil {
			LogWarn("Skipping unreadable checkpoint file %s: %v", name, err)
			continue
		}
		if ok {
			pairs = append(pairs, KeyValuePair{Key: key, Value: value})
		}
	}
	return pairs, nil
}

// Clear removes every record in the store
func (f *FileKV) Clear() error {
	pairs, err := f.List("")
	if err != nil {
		return err
	}
	for _, pair := range pairs {
		if err := f.Delete(pair.Key); err != nil {
			return err
		}
	}
	return nil
}

func (f *FileKV) Close() error { return nil }

// MemoryKV is an in-process KVStore.
type MemoryKV struct {
	mu   sync.Mutex
	data map[string]string
}

// NewMemoryKV creates an empty in-memory store.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string]string)}
}

func (m *MemoryKV) Get(key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *MemoryKV) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *MemoryKV) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *MemoryKV) List(prefix string) ([]KeyValuePair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var pairs []KeyValuePair
	for k, v := range m.data {
		if strings.HasPrefix(k, prefix) {
			pairs = append(pairs, KeyValuePair{Key: k, Value: v})
		}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Key < pairs[j].Key })
	return pairs, nil
}

func (m *MemoryKV) Close() error { return nil }

// OpenKVStore opens the backend named in cfg.
func OpenKVStore(cfg CheckpointConfig) (KVStore, error) {
	switch cfg.Backend {
	case "sqlite":
		kv, err := NewSQLiteKV(cfg.Path)
		if err != nil {
			return nil, err
		}
		return kv, nil
	case "file":
		// The default path names the sqlite file; the file backend uses a directory beside it.
		return NewFileKV(strings.TrimSuffix(cfg.Path, filepath.Ext(cfg.Path))), nil
	case "memory":
		return NewMemoryKV(), nil
	default:
		return nil, fmt.Errorf("unsupported checkpoint backend: %s", cfg.Backend)
	}
}
