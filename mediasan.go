// Package mediasan provides structural sanitizers for media containers.
//
// The sanitizers validate the box/chunk syntax of an input against a
// strict subset of the container specification, so that downstream
// parsers only ever see inputs whose structure has been proven
// well-formed. Two formats are supported by the subpackages:
//
//   - mp4san validates ISO Base Media File Format (MP4) inputs and
//     rewrites their metadata into a canonical contiguous prefix.
//   - webpsan validates WebP (RIFF) inputs.
//
// This package holds the pieces shared by both: the forward-only
// [Input] abstraction, the [FourCC] tag type, and the error taxonomy.
package mediasan

// FourCC is a 4-byte type identifier, used both for MP4 box types and
// RIFF chunk types.
type FourCC [4]byte

func (c FourCC) String() string {
	return string(c[:])
}

// InputSpan is a byte range within the input, identified by absolute
// offset and length.
type InputSpan struct {
	Offset uint64
	Len    uint64
}

// End returns the offset one past the last byte of the span.
func (s InputSpan) End() uint64 {
	return s.Offset + s.Len
}
