// SPDX-License-Identifier: MIT

package sink

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/chponte/libreeye/internal/rerror"
)

// FileSink writes each segment to "<root>/<segment-timestamp>.<ext>". It has
// no background worker: open/write/close map directly onto the underlying
// *os.File, so failures surface synchronously to the caller.
//
// Reference: surveillance/sinks/file.py and storage/local.py's LocalWriter.
type FileSink struct {
	stateBox

	name string
	root string

	mu   sync.Mutex
	file *os.File
}

// NewFileSink creates a FileSink rooted at root, which is created with mode
// 0755 immediately (per the sink's on-construction contract).
func NewFileSink(name, root string) (*FileSink, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, rerror.Wrap(rerror.KindIO, fmt.Sprintf("create sink root %q", root), err)
	}
	return &FileSink{name: name, root: root}, nil
}

func (f *FileSink) Name() string { return f.name }

func (f *FileSink) IsOpened() bool { return f.isOpened() }

func (f *FileSink) Open(ext string) error {
	if f.isOpened() {
		return nil
	}
	if !f.casOpening() {
		// Another goroutine is mid-transition; the pipeline never calls
		// Open concurrently with itself, so treat this as already open.
		return nil
	}

	path := filepath.Join(f.root, segmentName(now(), ext))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		f.set(StateClosed)
		return rerror.Wrap(rerror.KindIO, fmt.Sprintf("open segment %q", path), err)
	}

	f.mu.Lock()
	f.file = file
	f.mu.Unlock()
	f.set(StateOpen)
	return nil
}

func (f *FileSink) Write(block []byte) error {
	f.mu.Lock()
	file := f.file
	f.mu.Unlock()

	if file == nil || !f.isOpened() {
		return rerror.New(rerror.KindInternal, "write on unopened file sink")
	}
	if _, err := file.Write(block); err != nil {
		return rerror.Wrap(rerror.KindIO, "write segment", err)
	}
	return nil
}

func (f *FileSink) Close() error {
	if f.get() == StateClosed {
		return nil
	}
	f.set(StateClosing)

	f.mu.Lock()
	file := f.file
	f.file = nil
	f.mu.Unlock()

	f.set(StateClosed)
	if file == nil {
		return nil
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		return rerror.Wrap(rerror.KindIO, "flush segment", err)
	}
	if err := file.Close(); err != nil {
		return rerror.Wrap(rerror.KindIO, "close segment", err)
	}
	return nil
}
