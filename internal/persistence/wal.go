// Package persistence holds the durable pieces of the storage layer: the JSON-lines journal
// used by the in-memory store and the bolt-backed storage backend.
package persistence

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"

	"github.com/pkg/errors"
)

// maxLineSize bounds a single journal line. A Mutate batch with large rows is one line.
const maxLineSize = 16 << 20

// WAL is an append-only, fsynced log of JSON commands.
type WAL struct {
	mu   sync.Mutex
	file *os.File
}

func NewWAL(path string) (*WAL, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "open wal %s", path)
	}
	return &WAL{file: file}, nil
}

// WriteCommand appends cmd as one line and syncs the file before returning.
func (w *WAL) WriteCommand(cmd interface{}) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.file.Write(append(data, '\n')); err != nil {
		return err
	}
	return w.file.Sync()
}

func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

// Replay calls applyFunc for every line of the log at path. A missing file is an empty log.
func Replay(path string, applyFunc func(cmdBytes []byte) error) error {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		if err := applyFunc(scanner.Bytes()); err != nil {
			return err
		}
	}
	return scanner.Err()
}
