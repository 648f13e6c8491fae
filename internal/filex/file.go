// Package filex holds local-disk helpers.
package filex

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// Spooled is a seekable on-disk copy of a stream.
type Spooled struct {
	*os.File
	Size int64
}

// Spool copies r into a new file in dir (the system temp dir when empty),
// creating dir if needed, and rewinds it for reading.
func Spool(dir, pattern string, r io.Reader) (*Spooled, error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o770); err != nil {
			return nil, fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}

	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return nil, fmt.Errorf("create spool file: %w", err)
	}
	s := &Spooled{File: f}

	n, err := io.Copy(f, r)
	if err == nil {
		_, err = f.Seek(0, io.SeekStart)
	}
	if err != nil {
		_ = s.Remove()
		return nil, err
	}
	s.Size = n
	return s, nil
}

// Remove closes and deletes the spool file.
func (s *Spooled) Remove() error {
	cerr := s.Close()
	if errors.Is(cerr, os.ErrClosed) {
		cerr = nil
	}
	return errors.Join(cerr, os.Remove(s.Name()))
}
