package rtmp

import (
	"bufio"
	"io"
)

// Writer buffers frames for the socket.
type Writer struct {
	writer *bufio.Writer
}

func NewWriter(w io.Writer, size int) (*Writer, error) {
	if w == nil {
		return nil, ErrNilWriter
	}
	return &Writer{writer: bufio.NewWriterSize(w, size)}, nil
}

// Write writes the contents of p into the underlying bufio.Writer.
// It returns the number of bytes written.
// If n < len(p), it also returns an error explaining
// why the write is short.
func (w *Writer) Write(p []byte) (n int, err error) {
	return w.writer.Write(p)
}

// Flush writes any buffered data in the underlying bufio.Writer.
func (w *Writer) Flush() error {
	return w.writer.Flush()
}

