package rtmp

import (
	"io"
	"sync/atomic"
)

// Reader counts the bytes read from an underlying reader. Unlike
// io.ReadFull it returns whatever a single Read produced, so the chunk
// reader can work with partial input.
type Reader struct {
	reader io.Reader
	n      atomic.Uint64
}

func NewReader(reader io.Reader) (*Reader, error) {
	if reader == nil {
		return nil, ErrNilReader
	}
	return &Reader{reader: reader}, nil
}

func (r *Reader) Read(p []byte) (n int, err error) {
	n, err = r.reader.Read(p)
	r.n.Add(uint64(n))
	return n, err
}

// ReadBytes returns the number of bytes read so far from the underlying reader.
func (r *Reader) ReadBytes() uint64 {
	return r.n.Load()
}
