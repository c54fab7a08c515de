package storage

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/vjranagit/historian/pkg/types"
)

const walFlushInterval = time.Second

// WAL implements a Write-Ahead Log for durability. Each line is the hex
// xxhash of the entry followed by the JSON entry.
type WAL struct {
	path       string
	file       *os.File
	writer     *bufio.Writer
	mu         sync.Mutex
	flushTimer *time.Timer
	closed     bool
	log        *zap.Logger
}

// WALEntry represents a single WAL entry
type WALEntry struct {
	Timestamp time.Time          `json:"timestamp"`
	Data      []types.SeriesData `json:"data"`
}

// NewWAL creates a new Write-Ahead Log
func NewWAL(dataPath string, log *zap.Logger) (*WAL, error) {
	if log == nil {
		log = zap.NewNop()
	}
	walPath := filepath.Join(dataPath, "wal")
	if err := os.MkdirAll(walPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create WAL directory: %w", err)
	}

	// Open or create WAL file
	filename := filepath.Join(walPath, fmt.Sprintf("wal-%d.log", time.Now().UnixNano()))
	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAL file: %w", err)
	}

	wal := &WAL{
		path:   walPath,
		file:   file,
		writer: bufio.NewWriter(file),
		log:    log,
	}

	wal.flushTimer = time.AfterFunc(walFlushInterval, wal.autoFlush)

	return wal, nil
}

// Append appends a write request to the WAL
func (w *WAL) Append(req *types.WriteRequest) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("WAL closed")
	}

	entry := WALEntry{
		Timestamp: time.Now(),
		Data:      req.Data,
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal WAL entry: %w", err)
	}

	sum := strconv.FormatUint(xxhash.Sum64(data), 16)
	if _, err := w.writer.WriteString(sum); err != nil {
		return fmt.Errorf("failed to write to WAL: %w", err)
	}
	if err := w.writer.WriteByte(' '); err != nil {
		return fmt.Errorf("failed to write to WAL: %w", err)
	}
	if _, err := w.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write to WAL: %w", err)
	}
	if err := w.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

// Flush flushes the WAL to disk
func (w *WAL) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked()
}

func (w *WAL) flushLocked() error {
	if w.closed {
		return nil
	}

	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush WAL: %w", err)
	}

	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync WAL: %w", err)
	}

	return nil
}

// autoFlush periodically flushes the WAL
func (w *WAL) autoFlush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	if err := w.flushLocked(); err != nil {
		w.log.Warn("WAL auto flush failed", zap.Error(err))
	}
	w.flushTimer.Reset(walFlushInterval)
}

// Close closes the WAL
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	if w.flushTimer != nil {
		w.flushTimer.Stop()
	}

	if err := w.writer.Flush(); err != nil {
		return err
	}

	if err := w.file.Sync(); err != nil {
		return err
	}

	w.closed = true
	return w.file.Close()
}

// ReplayWAL replays WAL entries for recovery, oldest file first. Replayed
// files are removed. The current file of an open WAL must not be passed.
func ReplayWAL(dataPath string, log *zap.Logger, handler func(*types.WriteRequest) error) (int, error) {
	if log == nil {
		log = zap.NewNop()
	}
	walPath := filepath.Join(dataPath, "wal")

	entries, err := os.ReadDir(walPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil // No WAL to replay
		}
		return 0, fmt.Errorf("failed to read WAL directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	replayed := 0
	for _, name := range names {
		filename := filepath.Join(walPath, name)
		n, err := replayWALFile(filename, log, handler)
		replayed += n
		if err != nil {
			return replayed, fmt.Errorf("failed to replay %s: %w", filename, err)
		}

		if err := os.Remove(filename); err != nil {
			log.Warn("failed to remove replayed WAL file", zap.String("file", filename), zap.Error(err))
		}
	}

	return replayed, nil
}

// replayWALFile replays a single WAL file. A line failing its checksum is a
// torn tail write and ends the file.
func replayWALFile(filename string, log *zap.Logger, handler func(*types.WriteRequest) error) (int, error) {
	file, err := os.Open(filename)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	replayed := 0
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 64*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		sum, data, ok := bytes.Cut(line, []byte{' '})
		want, perr := strconv.ParseUint(string(sum), 16, 64)
		if !ok || perr != nil || want != xxhash.Sum64(data) {
			log.Warn("WAL checksum mismatch, skipping rest of file",
				zap.String("file", filename), zap.Int("replayed", replayed))
			break
		}

		var entry WALEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			return replayed, fmt.Errorf("failed to unmarshal WAL entry: %w", err)
		}

		if err := handler(&types.WriteRequest{Data: entry.Data}); err != nil {
			return replayed, fmt.Errorf("failed to replay entry: %w", err)
		}
		replayed++
	}

	return replayed, scanner.Err()
}
