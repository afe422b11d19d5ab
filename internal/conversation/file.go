package conversation

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// FileStore keeps one JSONL file per conversation under a directory.
type FileStore struct {
	dir string
	// sync flushes a log after each append. Replaced in tests.
	syncFile func(*os.File) error

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewFileStore creates the directory if needed and returns a store rooted at it.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create conversations directory %s: %w", dir, err)
	}
	return &FileStore{dir: dir, syncFile: (*os.File).Sync, locks: make(map[string]*sync.Mutex)}, nil
}

// Dir returns the storage directory.
func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) path(conversationID string) (string, error) {
	if !ValidID(conversationID) {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, conversationID)
	}
	return filepath.Join(s.dir, conversationID+".jsonl"), nil
}

func (s *FileStore) lockFor(conversationID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[conversationID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[conversationID] = l
	}
	return l
}

// Append encodes all records and writes them with a single write call.
// A torn final line left by an earlier crash is cut off first. If the write
// or the sync fails the file is truncated back to its prior length.
func (s *FileStore) Append(conversationID string, records ...Record) error {
	if len(records) == 0 {
		return nil
	}
	path, err := s.path(conversationID)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i := range records {
		rec := records[i]
		if rec.ConversationID == "" {
			rec.ConversationID = conversationID
		}
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("encode record %s: %w", rec.ID, err)
		}
	}

	l := s.lockFor(conversationID)
	l.Lock()
	defer l.Unlock()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open conversation log %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat conversation log %s: %w", path, err)
	}
	size, err := completeLength(f, info.Size())
	if err != nil {
		return fmt.Errorf("scan conversation log %s: %w", path, err)
	}
	if size != info.Size() {
		if err := f.Truncate(size); err != nil {
			return fmt.Errorf("drop torn tail of %s: %w", path, err)
		}
	}

	if _, err := f.Write(buf.Bytes()); err != nil {
		return rollback(f, size, fmt.Errorf("append to %s: %w", path, err))
	}
	if err := s.syncFile(f); err != nil {
		return rollback(f, size, fmt.Errorf("sync conversation log %s: %w", path, err))
	}
	return nil
}

func rollback(f *os.File, size int64, cause error) error {
	if err := f.Truncate(size); err != nil {
		return fmt.Errorf("%w (rollback failed: %v)", cause, err)
	}
	return cause
}

// completeLength returns the offset just past the last newline of a file of
// the given size, so a torn final line can be cut off.
func completeLength(f *os.File, size int64) (int64, error) {
	const block = 4096
	buf := make([]byte, block)
	for end := size; end > 0; {
		start := end - block
		if start < 0 {
			start = 0
		}
		n, err := f.ReadAt(buf[:end-start], start)
		if err != nil && !errors.Is(err, io.EOF) {
			return 0, err
		}
		if i := bytes.LastIndexByte(buf[:n], '\n'); i >= 0 {
			return start + int64(i) + 1, nil
		}
		end = start
	}
	return 0, nil
}

// Load reads every record of the conversation. A missing log is an empty
// conversation. A final line without a newline is a torn write and is skipped.
func (s *FileStore) Load(conversationID string) ([]Record, error) {
	path, err := s.path(conversationID)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return []Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open conversation log %s: %w", path, err)
	}
	defer f.Close()
	return decodeRecords(f, path)
}

func decodeRecords(r io.Reader, path string) ([]Record, error) {
	records := []Record{}
	br := bufio.NewReaderSize(r, 64*1024)
	for lineNo := 1; ; lineNo++ {
		line, err := br.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			// Anything left without a terminator never finished writing.
			return records, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read conversation log %s: %w", path, err)
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("decode %s line %d: %w", path, lineNo, err)
		}
		records = append(records, rec)
	}
}

// Latest scans the conversation from newest to oldest.
func (s *FileStore) Latest(conversationID string, match func(Record) bool) (Record, bool, error) {
	records, err := s.Load(conversationID)
	if err != nil {
		return Record{}, false, err
	}
	rec, ok := latest(records, match)
	return rec, ok, nil
}

func latest(records []Record, match func(Record) bool) (Record, bool) {
	for i := len(records) - 1; i >= 0; i-- {
		if match(records[i]) {
			return records[i], true
		}
	}
	return Record{}, false
}
