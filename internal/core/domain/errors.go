package domain

import (
	"errors"
	"fmt"
)

var (
	ErrDocumentNotFound      = errors.New("document not found")
	ErrInvalidInput          = errors.New("invalid input")
	ErrInvalidConfiguration  = errors.New("invalid configuration")
	ErrFileNotFound          = errors.New("file not found")
	ErrUnsupportedFormat     = errors.New("unsupported format")
	ErrParseFailure          = errors.New("parse failure")
	ErrEmptyIndex            = errors.New("empty index")
	ErrGenerationUnavailable = errors.New("generation unavailable")
	ErrStorageFailure        = errors.New("storage failure")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrTemporary             = errors.New("temporary failure")
	ErrCanceled              = errors.New("canceled")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
