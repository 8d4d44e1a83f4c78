package fsmux

import (
	"io"

	"github.com/stratusworks/fsmux/stats"
)

// countingReader feeds the shared per-scheme byte counter as data is read.
type countingReader struct {
	r io.ReadCloser
	c *stats.Counters
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	if n > 0 {
		cr.c.AddBytesRead(int64(n))
	}
	return n, err
}

func (cr *countingReader) Close() error {
	return cr.r.Close()
}

// countingWriter feeds the shared per-scheme byte counter as data is written.
type countingWriter struct {
	w io.WriteCloser
	c *stats.Counters
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	if n > 0 {
		cw.c.AddBytesWritten(int64(n))
	}
	return n, err
}

func (cw *countingWriter) Close() error {
	return cw.w.Close()
}
