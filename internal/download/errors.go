package download

import "fmt"

// SegmentExhaustedError is returned when every attempt for a segment failed.
type SegmentExhaustedError struct {
	Index    int
	Attempts int

	// Err is the failure of the last attempt
	Err error
}

func (e *SegmentExhaustedError) Error() string {
	return fmt.Sprintf("segment %d failed after %d attempts: %v", e.Index, e.Attempts, e.Err)
}

func (e *SegmentExhaustedError) Unwrap() error {
	return e.Err
}

// PersistError is returned when a segment file cannot be written.
type PersistError struct {
	Path string
	Err  error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("failed to write segment file %s: %v", e.Path, e.Err)
}

func (e *PersistError) Unwrap() error {
	return e.Err
}
