package snapshot

import "github.com/pkg/errors"

// DecodeError is returned by every path that decodes bytes from an
// untrusted source (spec.md §7 class 2): Parse and UnpackDelta. Code
// is one of the negative integers from spec.md §6; a caller that sees
// a non-nil error must drop the packet and continue serving, never
// retry the same bytes.
type DecodeError struct {
	Code int
	err  error
}

func (e *DecodeError) Error() string { return e.err.Error() }

// Unwrap exposes the underlying pkg/errors stack trace to errors.Is
// and errors.As chains that walk past the §6 code.
func (e *DecodeError) Unwrap() error { return e.err }

func decodeErr(code int, msg string) error {
	return &DecodeError{Code: code, err: errors.New(msg)}
}

// errTruncated reports a buffer that ran out of bytes mid-field.
// Generic callers (Parse) that don't carry a specific §6 code of their
// own use -103 ("remaining src too short"); UnpackDelta uses the more
// specific codes directly.
func errTruncated(field string) error {
	return decodeErr(-103, "snapshot: truncated "+field)
}

// errMalformed reports a structurally invalid but not-simply-truncated
// blob (bad counts, offsets, or sizes). Generic callers use -201; only
// UnpackDelta's own malformed-field checks use the other §6 codes.
func errMalformed(reason string) error {
	return decodeErr(-201, "snapshot: malformed: "+reason)
}
