package domain

import "fmt"

// ValidateRecord checks that a record carries embeddable text.
func ValidateRecord(rec Record, offset int, textField, idField string) error {
	if rec == nil {
		return NewRecordError(offset, "", ErrMalformedRecord, fmt.Errorf("record is nil"))
	}
	if rec.Text(textField) == "" {
		return NewRecordError(offset, rec.ID(idField), ErrMalformedRecord, fmt.Errorf("field %q is empty", textField))
	}
	return nil
}

// CheckDims verifies an embedding has the declared dimensionality. The
// returned error is the cause to attach to ErrDimensionMismatch.
func CheckDims(vec []float32, dims int) error {
	if len(vec) != dims {
		return fmt.Errorf("expected %d dims, got %d", dims, len(vec))
	}
	return nil
}
