package fetch

import (
	"errors"
	"io"
)

// ProgressReader counts bytes read from a body and reports the running total
// every step bytes. The first read error other than io.EOF is kept so a
// consumer can tell a failing source from a failing sink.
type ProgressReader struct {
	r        io.Reader
	step     int64
	fn       func(n int64)
	n        int64
	reported int64
	err      error
}

func NewProgressReader(r io.Reader, step int64, fn func(n int64)) *ProgressReader {
	if step <= 0 {
		step = 1 << 20
	}
	return &ProgressReader{r: r, step: step, fn: fn}
}

func (p *ProgressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.n += int64(n)
	if p.fn != nil && p.n-p.reported >= p.step {
		p.reported = p.n
		p.fn(p.n)
	}
	if err != nil && !errors.Is(err, io.EOF) && p.err == nil {
		p.err = &Error{Code: classify(err, true), Err: err}
		return n, p.err
	}
	return n, err
}

// N is the number of bytes read so far.
func (p *ProgressReader) N() int64 {
	return p.n
}

// Err is the first source read failure, already classified.
func (p *ProgressReader) Err() error {
	return p.err
}
