// bridge_file.go: File-backed platform bridge
//
// FileBridge stores every bridge key in one JSON, YAML or TOML document,
// nesting keys by their dot-separated components. Writes are atomic
// (temporary file + rename) and skipped when the document hash is unchanged.
// External edits are picked up through a cached stat, and Watch polls for
// them so a store can refresh itself.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package themis

import (
	"context"
	"fmt"
	"hash"
	"hash/fnv"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/agilira/go-errors"
	"github.com/agilira/go-timecache"
)

// DefaultStatCacheTTL bounds how long a cached os.Stat result is trusted.
const DefaultStatCacheTTL = 250 * time.Millisecond

// FileBridgeOptions tunes a FileBridge. The zero value is usable.
type FileBridgeOptions struct {
	// StatCacheTTL defaults to DefaultStatCacheTTL.
	StatCacheTTL time.Duration

	// FileMode is used for new documents. Defaults to 0600.
	FileMode os.FileMode

	// Audit receives a file_bridge_write event per committed write.
	Audit *AuditLogger
}

type fileStat struct {
	modTime  time.Time
	size     int64
	exists   bool
	cachedAt int64
}

func (fs fileStat) isExpired(ttl time.Duration) bool {
	return timecache.CachedTimeNano()-fs.cachedAt > int64(ttl)
}

func (fs fileStat) sameAs(other fileStat) bool {
	return fs.exists == other.exists && fs.size == other.size && fs.modTime.Equal(other.modTime)
}

// FileBridge is a Bridge persisting to a single document on disk.
type FileBridge struct {
	path   string
	format Format
	opts   FileBridgeOptions

	mu        sync.RWMutex
	doc       map[string]any
	savedHash uint64
	lastStat  fileStat // stat of the document as last read or written by us

	statMu    sync.Mutex
	statCache *fileStat
}

// NewFileBridge opens path, reading it if it exists. FormatUnknown selects
// the format from the file extension.
func NewFileBridge(path string, format Format, opts FileBridgeOptions) (*FileBridge, error) {
	if err := validateSecurePath(path); err != nil {
		return nil, errors.Wrap(err, ErrCodeFileBridgeError, "invalid bridge document path")
	}
	if format == FormatUnknown {
		format = DetectFormat(path)
	}
	if format == FormatUnknown {
		return nil, errors.New(ErrCodeInvalidFormat, "cannot detect document format of "+path)
	}
	if opts.StatCacheTTL <= 0 {
		opts.StatCacheTTL = DefaultStatCacheTTL
	}
	if opts.FileMode == 0 {
		opts.FileMode = 0600
	}

	b := &FileBridge{path: path, format: format, opts: opts, doc: make(map[string]any)}
	if _, err := b.reload(true); err != nil {
		return nil, err
	}
	return b, nil
}

// Path returns the document location.
func (b *FileBridge) Path() string { return b.path }

// Format returns the document format.
func (b *FileBridge) Format() Format { return b.format }

// Get implements Bridge.
func (b *FileBridge) Get(ctx context.Context, key string) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if key == "" {
		return nil, errors.New(ErrCodeKeyNotFound, "key cannot be empty")
	}
	// A document that no longer parses keeps serving the last good state.
	_, _ = b.reload(false)

	b.mu.RLock()
	defer b.mu.RUnlock()
	v := getNestedValue(b.doc, parseDotNotation(key, nil))
	if v == nil {
		return nil, errors.New(ErrCodeKeyNotFound, fmt.Sprintf("key %q is not set", key)).WithContext("path", b.path)
	}
	return deepCopyValue(v), nil
}

// Set implements Bridge. The document is written before Set returns; a
// failed write leaves memory and disk unchanged and is reported through
// SetResult.
func (b *FileBridge) Set(ctx context.Context, key string, value any) (SetResult, error) {
	if err := ctx.Err(); err != nil {
		return SetResult{}, err
	}
	if key == "" {
		return SetResult{Error: "key cannot be empty"}, nil
	}
	plain, err := toPlain(value)
	if err != nil {
		return SetResult{Error: err.Error()}, nil
	}
	_, _ = b.reload(false)

	path := parseDotNotation(key, nil)

	b.mu.Lock()
	defer b.mu.Unlock()

	previous := getNestedValue(b.doc, path)
	if err := setNestedValue(b.doc, path, plain); err != nil {
		return SetResult{Error: err.Error()}, nil
	}

	current := hashDocument(b.doc)
	if current == b.savedHash {
		return SetResult{Success: true}, nil
	}

	if err := b.writeLocked(); err != nil {
		if previous == nil {
			deleteNestedValue(b.doc, path)
		} else {
			_ = setNestedValue(b.doc, path, previous)
		}
		return SetResult{Error: err.Error()}, nil
	}
	b.savedHash = current

	section, _, _ := strings.Cut(key, ".")
	b.opts.Audit.Log(AuditInfo, EventFileBridgeWrite, "file_bridge", section, nil, nil,
		map[string]any{"path": b.path, "key": key})
	return SetResult{Success: true}, nil
}

// Probe implements Prober by checking that the document directory accepts
// new files.
func (b *FileBridge) Probe(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := filepath.Dir(b.path)
	f, err := os.CreateTemp(dir, ".themis-probe-*")
	if err != nil {
		return errors.Wrap(err, ErrCodeBridgeUnavailable, "bridge directory is not writable").WithContext("dir", dir)
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	return nil
}

// Keys lists every stored key in dot notation, sorted.
func (b *FileBridge) Keys() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var keys []string
	collectKeys(b.doc, "", &keys)
	sort.Strings(keys)
	return keys
}

// Document returns a deep copy of the stored document.
func (b *FileBridge) Document() map[string]any {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return deepCopy(b.doc)
}

// Watch polls the document every interval and calls onChange after an
// external modification has been loaded. Writes made through this bridge
// do not trigger onChange. The returned function stops the watcher and
// waits for it to exit; calling it more than once is safe.
func (b *FileBridge) Watch(interval time.Duration, onChange func()) (stop func()) {
	if interval <= 0 {
		interval = time.Second
	}
	stopCh := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				changed, err := b.reload(true)
				if err != nil {
					b.opts.Audit.LogWarning("file_bridge", EventBridgeError, err.Error(), map[string]any{"path": b.path})
					continue
				}
				if changed && onChange != nil {
					onChange()
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stopCh)
			<-done
		})
	}
}

// reload re-reads the document when its stat differs from the one recorded
// at the last read or write. bypassCache forces a fresh os.Stat.
func (b *FileBridge) reload(bypassCache bool) (bool, error) {
	stat, err := b.getStat(bypassCache)
	if err != nil && !os.IsNotExist(err) {
		return false, errors.Wrap(err, ErrCodeIOError, "failed to stat bridge document").WithContext("path", b.path)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if stat.sameAs(b.lastStat) && b.lastStat.cachedAt != 0 {
		return false, nil
	}
	b.lastStat = stat

	if !stat.exists {
		changed := len(b.doc) > 0
		b.doc = make(map[string]any)
		b.savedHash = hashDocument(b.doc)
		return changed, nil
	}

	data, err := os.ReadFile(b.path)
	if err != nil {
		return false, errors.Wrap(err, ErrCodeIOError, "failed to read bridge document").WithContext("path", b.path)
	}
	doc, err := decodeDocument(data, b.format)
	if err != nil {
		return false, errors.Wrap(err, ErrCodeFileBridgeError, "failed to parse bridge document").WithContext("path", b.path)
	}
	b.doc = doc
	b.savedHash = hashDocument(doc)
	return true, nil
}

func (b *FileBridge) getStat(bypassCache bool) (fileStat, error) {
	b.statMu.Lock()
	defer b.statMu.Unlock()

	if !bypassCache && b.statCache != nil && !b.statCache.isExpired(b.opts.StatCacheTTL) {
		return *b.statCache, nil
	}

	info, err := os.Stat(b.path)
	stat := fileStat{cachedAt: timecache.CachedTimeNano(), exists: err == nil}
	if err == nil {
		stat.modTime = info.ModTime()
		stat.size = info.Size()
	}
	b.statCache = &stat
	return stat, err
}

// writeLocked serializes the document and replaces the file atomically.
// The caller holds b.mu.
func (b *FileBridge) writeLocked() error {
	data, err := encodeDocument(b.doc, b.format)
	if err != nil {
		return err
	}
	if err := atomicWrite(b.path, data, b.opts.FileMode); err != nil {
		return errors.Wrap(err, ErrCodeIOError, "atomic write failed").WithContext("path", b.path)
	}

	stat, _ := b.getStat(true)
	b.lastStat = stat
	return nil
}

// atomicWrite writes data to a temporary file in the target directory and
// renames it over path.
func atomicWrite(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	tempPath := filepath.Join(dir, "."+filepath.Base(path)+".tmp."+strconv.FormatInt(time.Now().UnixNano(), 10))

	if err := os.WriteFile(tempPath, data, mode); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// parseDotNotation splits a dot-notation key into its non-empty components,
// appending to buffer.
func parseDotNotation(key string, buffer []string) []string {
	if !strings.Contains(key, ".") {
		return append(buffer, key)
	}
	for _, part := range strings.Split(key, ".") {
		part = strings.TrimSpace(part)
		if part != "" {
			buffer = append(buffer, part)
		}
	}
	return buffer
}

// setNestedValue sets value at keyPath, creating intermediate maps.
func setNestedValue(doc map[string]any, keyPath []string, value any) error {
	if len(keyPath) == 0 {
		return errors.New(ErrCodeFileBridgeError, "empty key path")
	}
	current := doc
	for _, key := range keyPath[:len(keyPath)-1] {
		next, exists := current[key]
		if !exists {
			next = make(map[string]any)
			current[key] = next
		}
		nextMap, ok := next.(map[string]any)
		if !ok {
			return errors.New(ErrCodeFileBridgeError, fmt.Sprintf("key '%s' is not a map, cannot set nested value", key))
		}
		current = nextMap
	}
	current[keyPath[len(keyPath)-1]] = value
	return nil
}

// getNestedValue returns the value at keyPath, or nil.
func getNestedValue(doc map[string]any, keyPath []string) any {
	if len(keyPath) == 0 {
		return nil
	}
	current := doc
	for i, key := range keyPath {
		value, exists := current[key]
		if !exists {
			return nil
		}
		if i == len(keyPath)-1 {
			return value
		}
		nextMap, ok := value.(map[string]any)
		if !ok {
			return nil
		}
		current = nextMap
	}
	return nil
}

// deleteNestedValue removes the value at keyPath and reports whether it existed.
func deleteNestedValue(doc map[string]any, keyPath []string) bool {
	if len(keyPath) == 0 {
		return false
	}
	current := doc
	for _, key := range keyPath[:len(keyPath)-1] {
		nextMap, ok := current[key].(map[string]any)
		if !ok {
			return false
		}
		current = nextMap
	}
	last := keyPath[len(keyPath)-1]
	if _, exists := current[last]; !exists {
		return false
	}
	delete(current, last)
	return true
}

// collectKeys appends the bridge keys stored in doc. Bridge keys have the
// form section.group, so the walk descends one level only.
func collectKeys(doc map[string]any, prefix string, keys *[]string) {
	for key, value := range doc {
		full := key
		if prefix != "" {
			full = prefix + "." + key
		}
		if nested, ok := value.(map[string]any); ok && prefix == "" {
			collectKeys(nested, full, keys)
			continue
		}
		*keys = append(*keys, full)
	}
}

func deepCopy(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = deepCopyValue(v)
	}
	return dst
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopy(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return val
	}
}

// hashDocument computes an FNV-1a hash of doc for change detection.
func hashDocument(doc map[string]any) uint64 {
	h := fnv.New64a()
	hashValue(h, doc)
	return h.Sum64()
}

func hashValue(h hash.Hash64, v any) {
	switch val := v.(type) {
	case nil:
		_, _ = h.Write([]byte("nil"))
	case bool:
		_, _ = h.Write([]byte(strconv.FormatBool(val)))
	case float64:
		_, _ = h.Write([]byte(strconv.FormatFloat(val, 'g', -1, 64)))
	case string:
		_, _ = h.Write([]byte(strconv.Quote(val)))
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		_, _ = h.Write([]byte("{"))
		for _, k := range keys {
			_, _ = h.Write([]byte(k))
			hashValue(h, val[k])
		}
		_, _ = h.Write([]byte("}"))
	case []any:
		_, _ = h.Write([]byte("["))
		for _, item := range val {
			hashValue(h, item)
		}
		_, _ = h.Write([]byte("]"))
	default:
		_, _ = fmt.Fprintf(h, "%v", val)
	}
}
