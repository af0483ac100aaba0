package store

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/ladiesman540/crane-platform/internal/domain"
	"github.com/ladiesman540/crane-platform/internal/ports"
)

const recordHeaderLen = 12

// JournalStore is a MemoryStore whose acceptances are appended to a local
// journal and replayed on open, so duplicates stay duplicates across
// restarts.
//
// Record format: [8 bytes id][4 bytes len][len bytes json].
type JournalStore struct {
	*MemoryStore
	path   string
	file   *os.File
	writer *bufio.Writer
	sync   bool
}

// OpenJournal opens (or creates) dir/readings.journal. With syncWrites every
// append is fsynced before the acceptance is acknowledged.
func OpenJournal(dir string, retention int, syncWrites bool) (*JournalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, "readings.journal")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	j := &JournalStore{
		MemoryStore: NewMemoryStore(retention),
		path:        path,
		file:        f,
		sync:        syncWrites,
	}
	if err := j.replay(); err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return nil, err
	}
	j.writer = bufio.NewWriter(f)
	j.MemoryStore.persist = j.append
	return j, nil
}

// replay restores every complete record and cuts off a torn tail.
func (j *JournalStore) replay() error {
	reader := bufio.NewReader(j.file)
	var offset int64
	for {
		var hdr [recordHeaderLen]byte
		if _, err := io.ReadFull(reader, hdr[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return fmt.Errorf("journal scan header: %w", err)
		}
		length := binary.BigEndian.Uint32(hdr[8:12])
		body := make([]byte, length)
		if _, err := io.ReadFull(reader, body); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return fmt.Errorf("journal scan body: %w", err)
		}
		var a domain.AcceptedReading
		if err := json.Unmarshal(body, &a); err != nil {
			return fmt.Errorf("corrupt journal entry at %d: %w", offset, err)
		}
		j.MemoryStore.restore(a)
		offset += recordHeaderLen + int64(length)
	}
	return j.file.Truncate(offset)
}

func (j *JournalStore) append(a domain.AcceptedReading) error {
	id, err := strconv.ParseUint(string(a.ID), 10, 64)
	if err != nil {
		return fmt.Errorf("journal id %q: %w", a.ID, err)
	}
	b, err := json.Marshal(a)
	if err != nil {
		return err
	}
	var hdr [recordHeaderLen]byte
	binary.BigEndian.PutUint64(hdr[0:8], id)
	binary.BigEndian.PutUint32(hdr[8:12], uint32(len(b)))

	if _, err := j.writer.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := j.writer.Write(b); err != nil {
		return err
	}
	if err := j.writer.Flush(); err != nil {
		return err
	}
	if j.sync {
		return j.file.Sync()
	}
	return nil
}

func (j *JournalStore) Close() error {
	j.MemoryStore.mu.Lock()
	defer j.MemoryStore.mu.Unlock()
	return errors.Join(j.writer.Flush(), j.file.Close())
}

var _ ports.ReadingStore = (*JournalStore)(nil)
