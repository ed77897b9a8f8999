package feed

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNoItems reports an index that listed nothing. It is an empty result, not
// a failure: the feed shows a message and never arms the sentinel.
var ErrNoItems = errors.New("no items found")

// ConfigError reports a mount attribute that prevents the feed from starting.
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Field, e.Msg)
}

// FetchError reports a network failure or a non-2xx response.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	switch {
	case e.Err != nil && e.StatusCode > 0:
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	default:
		return fmt.Sprintf("fetch %s: status %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
	}
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IndexError reports a tag index that could not be fetched or parsed. It is
// fatal for the feed instance.
type IndexError struct {
	Tag string
	Err error
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("load index for tag %q: %v", e.Tag, e.Err)
}

func (e *IndexError) Unwrap() error {
	return e.Err
}

// ContentError reports a single entry whose content could not be loaded. It
// never leaves the entry it belongs to.
type ContentError struct {
	Reference string
	Err       error
}

func (e *ContentError) Error() string {
	return fmt.Sprintf("load content %s: %v", e.Reference, e.Err)
}

func (e *ContentError) Unwrap() error {
	return e.Err
}

// Successful reports whether code is a 2xx status.
func Successful(code int) bool {
	return code >= 200 && code < 300
}
