package inspector

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"runtime"
)

// bodyBuffer accumulates a request body until end-of-stream. Small bodies
// stay in memory; bodies crossing the threshold spill to a temp file so
// large uploads do not pin memory while waiting for the full document.
type bodyBuffer struct {
	threshold   int64
	size        int64
	buffer      bytes.Buffer
	file        *os.File
	tempPath    string
	transferred bool
}

func newBodyBuffer(threshold int64) *bodyBuffer {
	if threshold <= 0 {
		threshold = 1 * 1024 * 1024 // default 1MB
	}
	b := &bodyBuffer{threshold: threshold}
	// Finalizer covers abandonment on error paths before Reader() runs.
	runtime.SetFinalizer(b, func(b *bodyBuffer) {
		b.Cleanup()
	})
	return b
}

func (b *bodyBuffer) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	if b.file != nil {
		n, err := b.file.Write(p)
		b.size += int64(n)
		return n, err
	}

	projected := b.size + int64(len(p))
	if projected <= b.threshold {
		n, err := b.buffer.Write(p)
		b.size += int64(n)
		return n, err
	}

	if err := b.promoteToFile(); err != nil {
		return 0, err
	}

	n, err := b.file.Write(p)
	b.size += int64(n)
	return n, err
}

func (b *bodyBuffer) promoteToFile() error {
	if b.file != nil {
		return nil
	}

	file, err := os.CreateTemp("", "leukocyte-body-*")
	if err != nil {
		return fmt.Errorf("inspector: create temp buffer: %w", err)
	}
	b.tempPath = file.Name()

	if b.buffer.Len() > 0 {
		if _, err := file.Write(b.buffer.Bytes()); err != nil {
			_ = file.Close()
			_ = os.Remove(b.tempPath)
			b.tempPath = ""
			return fmt.Errorf("inspector: persist buffer: %w", err)
		}
		b.buffer.Reset()
	}

	b.file = file
	return nil
}

// Peek rewinds the buffer and returns a reader over the accumulated bytes
// without transferring ownership. Valid until Reader or Cleanup is called.
func (b *bodyBuffer) Peek() (io.Reader, error) {
	if b.file != nil {
		if _, err := b.file.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("inspector: rewind buffer: %w", err)
		}
		return b.file, nil
	}
	return bytes.NewReader(b.buffer.Bytes()), nil
}

// Reader rewinds the buffer and hands its contents off as a replayable body.
// Ownership of any temp file transfers to the returned ReadCloser.
func (b *bodyBuffer) Reader() (io.ReadCloser, error) {
	if b.file != nil {
		if _, err := b.file.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("inspector: rewind buffer: %w", err)
		}
		replay := &tempReplayBody{file: b.file, path: b.tempPath}
		b.transferred = true
		b.file = nil
		b.tempPath = ""
		runtime.SetFinalizer(b, nil)
		return replay, nil
	}

	return io.NopCloser(bytes.NewReader(b.buffer.Bytes())), nil
}

func (b *bodyBuffer) Cleanup() {
	if b.file != nil && !b.transferred {
		path := b.tempPath
		if path == "" {
			path = b.file.Name()
		}
		_ = b.file.Close()
		_ = os.Remove(path)
		b.file = nil
		b.tempPath = ""
	}
	b.buffer.Reset()
	b.size = 0
	runtime.SetFinalizer(b, nil)
}

func (b *bodyBuffer) Len() int {
	if b.size < 0 {
		return 0
	}
	return int(b.size)
}

// joinBodies concatenates replay parts into a single body; Close closes
// every part.
func joinBodies(parts ...io.ReadCloser) io.ReadCloser {
	readers := make([]io.Reader, len(parts))
	for i, part := range parts {
		readers[i] = part
	}
	return &joinedBody{reader: io.MultiReader(readers...), parts: parts}
}

type joinedBody struct {
	reader io.Reader
	parts  []io.ReadCloser
}

func (j *joinedBody) Read(p []byte) (int, error) {
	return j.reader.Read(p)
}

func (j *joinedBody) Close() error {
	var err error
	for _, part := range j.parts {
		if cerr := part.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

type tempReplayBody struct {
	file *os.File
	path string
}

func (t *tempReplayBody) Read(p []byte) (int, error) {
	return t.file.Read(p)
}

func (t *tempReplayBody) Close() error {
	err := t.file.Close()
	errRemove := os.Remove(t.path)
	if err == nil {
		err = errRemove
	}
	return err
}

// Len returns the buffered size, allowing Content-Length restoration.
func (t *tempReplayBody) Len() int {
	info, err := t.file.Stat()
	if err != nil {
		return 0
	}
	return int(info.Size())
}
