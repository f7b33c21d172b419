// Package parser extracts listing rows and detail fields from catalog markup.
package parser

import (
	"errors"
	"fmt"
)

var (
	// ErrNoRows means a listing table was present but no row carried an identifier.
	ErrNoRows = errors.New("listing rows carry no identifiers")
	// ErrNotDetailPage means the document lacks every detail-page landmark.
	ErrNotDetailPage = errors.New("document is not a detail page")
)

// ParseError reports markup that could not be interpreted. It is never retried.
type ParseError struct {
	URL string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.URL, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// IsParseError reports whether err wraps a ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}
