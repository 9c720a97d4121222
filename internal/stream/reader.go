// Package stream turns an upstream response body into a sequence of bounded,
// non-empty chunks for forwarding to a client.
package stream

import (
	"fmt"
	"io"
	"sync"
)

// DefaultChunkSize is the chunk bound used when none is configured.
const DefaultChunkSize = 1024 * 1024

var bufPool sync.Pool

func getBuffer(size int) *[]byte {
	if bp, ok := bufPool.Get().(*[]byte); ok && cap(*bp) >= size {
		return bp
	}
	b := make([]byte, size)
	return &b
}

func putBuffer(bp *[]byte) {
	bufPool.Put(bp)
}

// Options configures a Reader.
type Options struct {
	// ChunkSize bounds every chunk returned by Next. Zero means DefaultChunkSize.
	ChunkSize int
	// Watchdog, if set, is kicked on every successful read and stopped on Close.
	Watchdog *Watchdog
	// OnClose, if set, runs once after the body is closed. Use it to release the
	// request's timeout context.
	OnClose func()
}

// Reader yields the body in order as chunks of at most ChunkSize bytes.
// It is not safe for concurrent use.
type Reader struct {
	body    io.ReadCloser
	buf     *[]byte
	size    int
	wd      *Watchdog
	onClose func()

	total  int64
	err    error
	closed bool
}

// NewReader wraps body. The Reader owns body from now on.
func NewReader(body io.ReadCloser, opts Options) *Reader {
	size := opts.ChunkSize
	if size <= 0 {
		size = DefaultChunkSize
	}
	return &Reader{
		body:    body,
		buf:     getBuffer(size),
		size:    size,
		wd:      opts.Watchdog,
		onClose: opts.OnClose,
	}
}

// Next returns the next chunk. Chunks are never empty. The returned slice is only
// valid until the following call to Next or Close.
//
// Next returns io.EOF once the body ended cleanly. Any other error means the
// transfer was cut short; bytes received before the failure have already been
// returned by earlier calls.
func (r *Reader) Next() ([]byte, error) {
	if r.closed {
		return nil, fmt.Errorf("stream: read after close")
	}
	if r.err != nil {
		return nil, r.err
	}

	buf := (*r.buf)[:r.size]
	n := 0
	for n < len(buf) {
		m, err := r.body.Read(buf[n:])
		if m > 0 {
			n += m
			if r.wd != nil {
				r.wd.Kick()
			}
		}
		if err != nil {
			r.err = r.translate(err)
			break
		}
	}

	if n == 0 {
		return nil, r.err
	}
	r.total += int64(n)
	return buf[:n], nil
}

func (r *Reader) translate(err error) error {
	if err == io.EOF {
		return io.EOF
	}
	if r.wd != nil && r.wd.Stalled() {
		return fmt.Errorf("%w: %v", ErrStalled, err)
	}
	return err
}

// Total returns the number of bytes returned by Next so far.
func (r *Reader) Total() int64 {
	return r.total
}

// Close releases the body, the watchdog and the chunk buffer. It is safe to call
// more than once.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	err := r.body.Close()
	if r.wd != nil {
		r.wd.Stop()
	}
	if r.onClose != nil {
		r.onClose()
	}
	putBuffer(r.buf)
	r.buf = nil
	return err
}
