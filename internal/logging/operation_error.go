package logging

import (
	"fmt"
	"strings"
)

// OperationError records which infrastructure operation failed, for which subject
// and after how many attempts.
type OperationError struct {
	Operation string
	SubjectID string
	Attempts  int
	Err       error
}

func (e *OperationError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(e.Operation)
	if e.SubjectID != "" {
		fmt.Fprintf(&b, " [subject %s]", e.SubjectID)
	}
	if e.Attempts > 1 {
		fmt.Fprintf(&b, " after %d attempts", e.Attempts)
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	return b.String()
}

func (e *OperationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewOperationError wraps err with the failing operation. A nil err yields nil.
func NewOperationError(operation, subjectID string, err error) error {
	if err == nil {
		return nil
	}
	return &OperationError{Operation: operation, SubjectID: subjectID, Attempts: 1, Err: err}
}

// RetriesExhausted wraps the last error of an operation that was attempted several times.
func RetriesExhausted(operation string, attempts int, err error) error {
	if err == nil {
		return nil
	}
	return &OperationError{Operation: operation, Attempts: attempts, Err: err}
}
