package domain

import "fmt"

// ReadError reports a failed query against the document store.
type ReadError struct {
	Op         string
	Collection string
	Err        error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read %s %s: %v", e.Collection, e.Op, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// WriteError reports a rejected or failed mutation.
type WriteError struct {
	Op         string
	Collection string
	ID         string
	Err        error
}

func (e *WriteError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("write %s %s: %v", e.Collection, e.Op, e.Err)
	}
	return fmt.Sprintf("write %s %s %s: %v", e.Collection, e.Op, e.ID, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// UploadError reports a failed blob upload or URL resolution.
type UploadError struct {
	Path string
	Err  error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload %s: %v", e.Path, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }
