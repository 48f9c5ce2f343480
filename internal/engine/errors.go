package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/syllabus/internal/course"
)

// SyncError is a failure observed during a run.
//
// Every kind except ErrCodeConnectivity is non-fatal: it is recorded on
// the Report and the run continues.
type SyncError struct {
	// Code identifies the error category.
	Code ErrorCode `json:"code"`

	// Stage is the state the run was in.
	Stage State `json:"stage"`

	// Level is the hierarchy level concerned, if any.
	Level course.Level `json:"level,omitempty"`

	// Key is the natural key concerned, rendered "unit::chapter::topic".
	Key string `json:"key,omitempty"`

	// Row is the 1-based source row, 0 when not row-specific.
	Row int `json:"row,omitempty"`

	// Message is a human-readable description.
	Message string `json:"message"`

	// Err is the underlying cause.
	Err error `json:"-"`
}

// ErrorCode categorizes sync errors.
type ErrorCode string

const (
	// ErrCodeSourceFormat marks a malformed source row.
	ErrCodeSourceFormat ErrorCode = "SOURCE_FORMAT"

	// ErrCodeKeyResolution marks a candidate or row whose parent has no id.
	ErrCodeKeyResolution ErrorCode = "KEY_RESOLUTION"

	// ErrCodeSlugConflict marks a lesson slug held by another course or
	// repeated in the source.
	ErrCodeSlugConflict ErrorCode = "SLUG_CONFLICT"

	// ErrCodePersistence marks a single gateway call that failed.
	ErrCodePersistence ErrorCode = "PERSISTENCE"

	// ErrCodeConnectivity marks an unreachable gateway. Fatal.
	ErrCodeConnectivity ErrorCode = "CONNECTIVITY"
)

// Error implements the error interface.
func (e *SyncError) Error() string {
	var loc string
	switch {
	case e.Row > 0 && e.Key != "":
		loc = fmt.Sprintf(" (row=%d, key=%s)", e.Row, e.Key)
	case e.Row > 0:
		loc = fmt.Sprintf(" (row=%d)", e.Row)
	case e.Key != "":
		loc = fmt.Sprintf(" (key=%s)", e.Key)
	}
	return fmt.Sprintf("%s: %s%s", e.Code, e.Message, loc)
}

// Unwrap exposes the cause for errors.Is and errors.As.
func (e *SyncError) Unwrap() error {
	return e.Err
}

// Fatal reports whether the error aborts a run.
func (e *SyncError) Fatal() bool {
	return e.Code == ErrCodeConnectivity
}

// IsConnectivityError returns true if err is a fatal connectivity error.
// Uses errors.As to handle wrapped errors.
func IsConnectivityError(err error) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code == ErrCodeConnectivity
	}
	return false
}

// IsPersistenceError returns true if err is a single failed gateway call.
func IsPersistenceError(err error) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code == ErrCodePersistence
	}
	return false
}

func newError(code ErrorCode, stage State, err error) *SyncError {
	return &SyncError{Code: code, Stage: stage, Message: err.Error(), Err: err}
}

// connectivityError creates the fatal error for an aborted stage.
func connectivityError(stage State, err error) *SyncError {
	return &SyncError{
		Code:    ErrCodeConnectivity,
		Stage:   stage,
		Message: fmt.Sprintf("store unreachable: %v", err),
		Err:     err,
	}
}
