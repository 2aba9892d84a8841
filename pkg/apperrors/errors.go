package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrConflict               = errors.New("conflict")
	ErrIngest                 = errors.New("ingest failed")
	ErrEmptyFile              = errors.New("file has no data rows")
	ErrDisconnectedFile       = errors.New("file is not connected to the join graph")
	ErrInvalidColumn          = errors.New("join references unknown column")
	ErrInvalidStateTransition = errors.New("invalid dataset state transition")
	ErrMergeCapacity          = errors.New("merge exceeds row capacity")
	ErrMergeInProgress        = errors.New("merge already in progress")
)

// IngestError wraps a parse or read failure for a named file.
type IngestError struct {
	File  string
	Cause error
}

func (e *IngestError) Error() string {
	return fmt.Sprintf("ingest failed for %q: %v", e.File, e.Cause)
}

func (e *IngestError) Unwrap() error { return ErrIngest }

// EmptyFileError names a file that parsed but contained no data rows.
type EmptyFileError struct {
	File string
}

func (e *EmptyFileError) Error() string {
	return fmt.Sprintf("file %q has no data rows", e.File)
}

func (e *EmptyFileError) Unwrap() error { return ErrEmptyFile }

// DisconnectedFileError names a file unreachable from the join graph root.
type DisconnectedFileError struct {
	File string
}

func (e *DisconnectedFileError) Error() string {
	return fmt.Sprintf("file %q is not connected to the join graph", e.File)
}

func (e *DisconnectedFileError) Unwrap() error { return ErrDisconnectedFile }

// InvalidColumnError names a join column that does not exist in its file.
type InvalidColumnError struct {
	File   string
	Column string
}

func (e *InvalidColumnError) Error() string {
	return fmt.Sprintf("column %q does not exist in file %q", e.Column, e.File)
}

func (e *InvalidColumnError) Unwrap() error { return ErrInvalidColumn }

// InvalidStateTransitionError records a disallowed lifecycle move.
type InvalidStateTransitionError struct {
	From string
	To   string
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("invalid dataset state transition %s -> %s", e.From, e.To)
}

func (e *InvalidStateTransitionError) Unwrap() error { return ErrInvalidStateTransition }

// MergeCapacityError reports a merge whose estimated output exceeds the
// configured row cap.
type MergeCapacityError struct {
	Limit int64
	Rows  int64
}

func (e *MergeCapacityError) Error() string {
	return fmt.Sprintf("merge would produce %d rows, over the limit of %d", e.Rows, e.Limit)
}

func (e *MergeCapacityError) Unwrap() error { return ErrMergeCapacity }
