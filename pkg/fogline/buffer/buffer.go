// Package buffer provides the edge node's durable backstop: events that
// failed delivery are appended to a local JSONL file and retried later.
//
// The file is the last line of defense against data loss, so its own write
// failures are categorized as fatal and must be surfaced loudly by callers.
package buffer

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fogline/fogline/pkg/fogline/errors"
	"github.com/fogline/fogline/pkg/fogline/event"
)

// Disposition is what a delivery attempt decided about one buffered event.
type Disposition int

const (
	// Sent means the event was delivered and leaves the buffer.
	Sent Disposition = iota

	// Retain means the attempt failed transiently; the event stays for
	// the next flush.
	Retain

	// Drop means the event was permanently rejected; retrying cannot
	// succeed, so it leaves the buffer undelivered.
	Drop
)

// SendFunc attempts one delivery and reports what to do with the event.
type SendFunc func(ctx context.Context, evt event.Event) Disposition

// DiskBuffer persists undelivered events, bounded to the most recent
// maxPending entries (oldest dropped first). Save and Flush are serialized
// by a single mutex; the buffer is per-process local state.
type DiskBuffer struct {
	mu         sync.Mutex
	path       string
	maxPending int
}

// New creates a disk buffer at path, creating parent directories as needed.
func New(path string, maxPending int) (*DiskBuffer, error) {
	if maxPending <= 0 {
		maxPending = 1000
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Fatal(fmt.Errorf("create buffer directory: %w", err), "buffer init")
		}
	}
	return &DiskBuffer{path: path, maxPending: maxPending}, nil
}

// Save appends an event for later retry, trimming to the retention bound.
func (b *DiskBuffer) Save(evt event.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	events, err := b.readAll()
	if err != nil {
		return err
	}
	events = append(events, evt)
	if len(events) > b.maxPending {
		events = events[len(events)-b.maxPending:]
	}
	return b.writeAll(events)
}

// Flush attempts to deliver every buffered event in original order and
// retains, still in order, only those that failed transiently. Dropped
// events leave the buffer without delivery. The retained set replaces
// the file in one atomic rewrite after all attempts complete, so a crash
// mid-flush re-sends rather than loses. Returns the number delivered.
//
// When ctx is cancelled, remaining unattempted events are retained.
func (b *DiskBuffer) Flush(ctx context.Context, send SendFunc) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	events, err := b.readAll()
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}

	var remaining []event.Event
	sent := 0
	for i, evt := range events {
		if ctx.Err() != nil {
			remaining = append(remaining, events[i:]...)
			break
		}
		switch send(ctx, evt) {
		case Sent:
			sent++
		case Retain:
			remaining = append(remaining, evt)
		case Drop:
		}
	}

	if err := b.writeAll(remaining); err != nil {
		return sent, err
	}
	return sent, nil
}

// Pending returns the buffered events in retention order.
func (b *DiskBuffer) Pending() ([]event.Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.readAll()
}

// Len returns the number of buffered events.
func (b *DiskBuffer) Len() (int, error) {
	events, err := b.Pending()
	if err != nil {
		return 0, err
	}
	return len(events), nil
}

// readAll loads the buffered events. A missing file means an empty buffer.
// Lines that fail to decode (torn writes from a crash) are skipped; the
// atomic rewrite keeps this to at most the final line.
func (b *DiskBuffer) readAll() ([]event.Event, error) {
	f, err := os.Open(b.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Fatal(fmt.Errorf("open buffer file: %w", err), "buffer read")
	}
	defer f.Close()

	var events []event.Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var evt event.Event
		if err := json.Unmarshal(line, &evt); err != nil {
			continue
		}
		events = append(events, evt)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Fatal(fmt.Errorf("scan buffer file: %w", err), "buffer read")
	}
	return events, nil
}

// writeAll rewrites the whole retained set through a temp file + rename so
// readers never observe a partially written buffer.
func (b *DiskBuffer) writeAll(events []event.Event) error {
	tmp, err := os.CreateTemp(filepath.Dir(b.path), ".buffer-*.tmp")
	if err != nil {
		return errors.Fatal(fmt.Errorf("create temp buffer file: %w", err), "buffer write")
	}
	tmpPath := tmp.Name()

	w := bufio.NewWriter(tmp)
	for _, evt := range events {
		line, err := json.Marshal(evt)
		if err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return errors.Fatal(fmt.Errorf("encode buffered event: %w", err), "buffer write")
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return errors.Fatal(fmt.Errorf("write buffer file: %w", err), "buffer write")
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errors.Fatal(fmt.Errorf("flush buffer file: %w", err), "buffer write")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errors.Fatal(fmt.Errorf("sync buffer file: %w", err), "buffer write")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return errors.Fatal(fmt.Errorf("close buffer file: %w", err), "buffer write")
	}
	if err := os.Rename(tmpPath, b.path); err != nil {
		os.Remove(tmpPath)
		return errors.Fatal(fmt.Errorf("replace buffer file: %w", err), "buffer write")
	}
	return nil
}
