package mediasan

import (
	"errors"
	"fmt"
)

// Sentinel errors classifying every failure the sanitizers can report.
// Match with [errors.Is]; the concrete error value is always an [*Error]
// carrying the offset and element path where the failure was raised.
var (
	// ErrUnexpectedEOF means the input ended mid-box/chunk or mid-header.
	ErrUnexpectedEOF = errors.New("unexpected end of input")
	// ErrInvalidBoxSize means a declared box size is smaller than its
	// header or exceeds its parent.
	ErrInvalidBoxSize = errors.New("invalid box size")
	// ErrInvalidChunkSize is the RIFF analogue of ErrInvalidBoxSize.
	ErrInvalidChunkSize = errors.New("invalid chunk size")
	// ErrInvalidBoxLayout means a required box is duplicated or appears
	// in a forbidden order.
	ErrInvalidBoxLayout = errors.New("invalid box layout")
	// ErrInvalidChunkLayout is the RIFF analogue of ErrInvalidBoxLayout.
	ErrInvalidChunkLayout = errors.New("invalid chunk layout")
	// ErrUnsupportedBoxVersion means a full box declares a version or
	// flags outside the handled set.
	ErrUnsupportedBoxVersion = errors.New("unsupported box version")
	// ErrUnsupportedFormat means the input lacks the required compatible
	// brand or container magic.
	ErrUnsupportedFormat = errors.New("unsupported format")
	// ErrUnsupportedFragmented means fragmentation constructs (moof,
	// mfra, sidx, styp, mvex) are present.
	ErrUnsupportedFragmented = errors.New("unsupported fragmented input")
	// ErrUnsupportedDiscontiguousMediaData means multiple mdat boxes are
	// not byte-adjacent.
	ErrUnsupportedDiscontiguousMediaData = errors.New("unsupported discontiguous media data")
	// ErrMissingRequiredBox means a mandatory box or chunk is absent.
	ErrMissingRequiredBox = errors.New("missing required box")
	// ErrInvalidCrossReference means a consistency invariant between
	// elements is violated: sample counts or chunk indexes between
	// parallel MP4 tables, or WebP stream dimensions against their
	// declared canvas.
	ErrInvalidCrossReference = errors.New("invalid cross reference")
	// ErrArithmeticOverflow means offset arithmetic, size recomputation,
	// or a count multiplication overflowed.
	ErrArithmeticOverflow = errors.New("arithmetic overflow")
	// ErrIO wraps an underlying byte-source failure.
	ErrIO = errors.New("input error")
)

// Error is the concrete error type returned by the sanitizers. It pairs
// one of the sentinel kinds above with the absolute file offset at which
// it was raised and, when known, the nested box/chunk path (for example
// "moov/trak[2]/mdia/minf/stbl/stco").
type Error struct {
	Kind   error
	Offset uint64
	Path   string
	Detail string
	Cause  error
}

// Errorf constructs an [*Error] of the given kind raised at offset.
func Errorf(kind error, offset uint64, format string, args ...any) *Error {
	return &Error{Kind: kind, Offset: offset, Detail: fmt.Sprintf(format, args...)}
}

// IOError wraps an underlying byte-source failure at offset.
func IOError(offset uint64, cause error) *Error {
	return &Error{Kind: ErrIO, Offset: offset, Cause: cause}
}

func (e *Error) Error() string {
	s := fmt.Sprintf("%s at offset 0x%x", e.Kind, e.Offset)
	if e.Path != "" {
		s += " (" + e.Path + ")"
	}
	if e.Detail != "" {
		s += ": " + e.Detail
	}
	if e.Cause != nil {
		s += ": " + e.Cause.Error()
	}
	return s
}

// Is reports whether target is this error's kind, so that
// errors.Is(err, mediasan.ErrInvalidBoxSize) matches.
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// WithPath returns err with the given element path attached, if err is
// an [*Error] without one. Other errors pass through unchanged.
func WithPath(err error, path string) error {
	var me *Error
	if errors.As(err, &me) && me.Path == "" {
		me.Path = path
	}
	return err
}
