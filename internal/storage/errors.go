package storage

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyBlob    = errors.New("blob is empty")
	ErrBlobTooLarge = errors.New("blob exceeds maximum file size")

	// ErrPrivateAddress means a remote import resolved to an address the server will not fetch.
	ErrPrivateAddress = errors.New("address is not publicly routable")
)

// TransferError means the object store rejected or failed a write. Nothing was recorded.
type TransferError struct {
	Key string
	Err error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer of %s failed: %v", e.Key, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// FetchError means a remote source could not be read; no storage write was attempted.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s failed with status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s failed: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

type UnsupportedTypeError struct {
	MimeType string
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("unsupported media type %q: only image/* and video/* are accepted", e.MimeType)
}
