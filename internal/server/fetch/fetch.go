// Package fetch streams remote sources over HTTP for the download worker and
// classifies transfer failures into download error codes.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"

	"github.com/dmitrijs2005/fileflow/internal/server/models"
)

// CodeInvalidSource marks a source URL that cannot be requested at all.
const CodeInvalidSource = "INVALID_SOURCE"

// Error carries the download error code of a failed fetch.
type Error struct {
	Code string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Code returns the download error code for err. Errors that did not come
// from this package are treated as network errors.
func Code(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return classify(err, false)
}

// Response is an open source body. ContentLength is -1 when the origin did
// not announce it.
type Response struct {
	Body          io.ReadCloser
	ContentLength int64
	ContentType   string
}

type Client struct {
	http *http.Client
}

func New(client *http.Client) *Client {
	if client == nil {
		client = &http.Client{}
	}
	return &Client{http: client}
}

// Open issues a GET for url. A non-2xx status fails with the status code as
// the error code, so upstream 5xx responses stay retryable.
func (c *Client) Open(ctx context.Context, url string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &Error{Code: CodeInvalidSource, Err: err}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &Error{Code: classify(err, false), Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		_ = resp.Body.Close()
		return nil, &Error{Code: strconv.Itoa(resp.StatusCode), Err: fmt.Errorf("source responded %s", resp.Status)}
	}

	return &Response{
		Body:          resp.Body,
		ContentLength: resp.ContentLength,
		ContentType:   resp.Header.Get("Content-Type"),
	}, nil
}

func classify(err error, reading bool) string {
	timeout := errors.Is(err, context.DeadlineExceeded)
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		timeout = true
	}
	switch {
	case timeout && reading:
		return models.CodeReadTimeout
	case timeout:
		return models.CodeTimeout
	default:
		return models.CodeNetworkError
	}
}
