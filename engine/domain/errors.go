package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the load pipeline.
var (
	ErrMalformedRecord   = errors.New("malformed record")
	ErrEmbeddingFailure  = errors.New("embedding failure")
	ErrDimensionMismatch = errors.New("dimension mismatch")
	ErrIndexLoad         = errors.New("index load failure")
)

// RecordError wraps a sentinel with the position and identity of one record.
type RecordError struct {
	Offset  int    // position in the source
	ID      string // identifier field value, if any
	Wrapped error  // one of the sentinels above
	Cause   error  // underlying error, may be nil
}

func (e *RecordError) Error() string {
	msg := fmt.Sprintf("record %d", e.Offset)
	if e.ID != "" {
		msg += fmt.Sprintf(" (id=%q)", e.ID)
	}
	msg += ": " + e.Wrapped.Error()
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *RecordError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Wrapped}
	}
	return []error{e.Wrapped, e.Cause}
}

// NewRecordError creates a RecordError.
func NewRecordError(offset int, id string, wrapped, cause error) *RecordError {
	return &RecordError{Offset: offset, ID: id, Wrapped: wrapped, Cause: cause}
}

// BatchError reports the first batch that failed. Loaded is the number of
// records loaded by earlier batches; Offset is the source position where the
// failed batch starts, which is also the resume point.
type BatchError struct {
	Batch   int
	Offset  int
	Loaded  int
	Wrapped error
	Records []*RecordError
	Cause   error
}

func (e *BatchError) Error() string {
	msg := fmt.Sprintf("batch %d (offset %d): %s", e.Batch, e.Offset, e.Wrapped)
	switch {
	case len(e.Records) == 1:
		msg += ": " + e.Records[0].Error()
	case len(e.Records) > 1:
		msg += fmt.Sprintf(": %d records rejected, first: %s", len(e.Records), e.Records[0])
	case e.Cause != nil:
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *BatchError) Unwrap() []error {
	errs := []error{e.Wrapped}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	for _, r := range e.Records {
		errs = append(errs, r)
	}
	return errs
}
