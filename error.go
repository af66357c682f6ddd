package kvfs

import "fmt"

// ErrorCode enumerates the error taxonomy from spec §7.
type ErrorCode int

const (
	// Unknown is an unspecified error condition.
	Unknown ErrorCode = iota
	// CodeNotFound marks a lookup miss. Per spec, this is surfaced to
	// callers as a nil pointer, not as a returned error, except where an
	// operation (e.g. unlink of an absent name) has nothing else to return.
	CodeNotFound
	// CodeAlreadyExists marks a link/add of a name that already exists.
	CodeAlreadyExists
	// CodeNameTooLong marks a name longer than dir.MaxNameLen.
	CodeNameTooLong
	// CodeBadState marks an on-disk bucket tag other than 'D'/'I' — corruption.
	CodeBadState
	// CodeInconsistentVersions marks a KV backend returning more than one
	// live version for a key.
	CodeInconsistentVersions
	// CodeConflict marks a rejected root-inode CAS. Engines retry on this
	// and only this code; every other code aborts the operation.
	CodeConflict
	// CodeBackend marks a transport/auth/other KV failure, propagated unchanged.
	CodeBackend
)

// Error is a kvfs-specific error carrying a taxonomy code and the wrapped
// backend error, modeled on the teacher's error.go in the retrieval pack.
type Error struct {
	Code ErrorCode
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("kvfs: error code %d", e.Code)
	}
	return fmt.Sprintf("kvfs: error code %d: %v", e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is compares by Code only, so errors.Is(err, kvfs.ErrConflict) matches any
// *Error of that code regardless of the wrapped detail.
func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == te.Code
}

// Wrap builds an *Error of the given code around err.
func Wrap(code ErrorCode, err error) *Error {
	return &Error{Code: code, Err: err}
}

// Sentinels usable with errors.Is; their Err field is always nil, the Is
// method above ignores it.
var (
	ErrNotFound             = &Error{Code: CodeNotFound}
	ErrAlreadyExists        = &Error{Code: CodeAlreadyExists}
	ErrNameTooLong          = &Error{Code: CodeNameTooLong}
	ErrBadState             = &Error{Code: CodeBadState}
	ErrInconsistentVersions = &Error{Code: CodeInconsistentVersions}
	ErrConflict             = &Error{Code: CodeConflict}
	ErrBackend              = &Error{Code: CodeBackend}
)
