package fetch

import (
	"bytes"
	"errors"
	"io"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const sniffLen = 3072

// Sniff returns the content type to store a body under. A declared type is
// kept unless it is empty or the generic octet-stream, in which case the
// first bytes are inspected. The returned reader yields the full body.
func Sniff(body io.Reader, declared string) (io.Reader, string, error) {
	if declared != "" && !strings.HasPrefix(declared, "application/octet-stream") {
		return body, declared, nil
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(body, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, "", err
	}
	head = head[:n]

	return io.MultiReader(bytes.NewReader(head), body), mimetype.Detect(head).String(), nil
}
