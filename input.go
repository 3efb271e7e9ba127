package mediasan

import (
	"bufio"
	"io"
)

// Input is a forward-only byte source. Implementations track an
// absolute position; the position is monotonically non-decreasing and
// there is no way to seek backward.
type Input interface {
	// ReadInto fills p completely or fails. On a short read the bytes
	// that were available are consumed (the position advances past
	// them) before ErrUnexpectedEOF is returned, so callers can
	// distinguish a clean end of input (position unchanged) from a
	// truncated element.
	ReadInto(p []byte) error

	// Skip advances the position by n bytes. Skipping past the end of
	// the input fails with ErrUnexpectedEOF after consuming what was
	// available.
	Skip(n uint64) error

	// Drain skips to the end of the input and returns the number of
	// bytes discarded. It is how boxes with the to-end-of-file size
	// sentinel are measured; calling it is only legal during top-level
	// framing.
	Drain() (uint64, error)

	// Pos returns the absolute offset of the next byte to be read.
	Pos() uint64
}

// BytesInput is an Input over an in-memory buffer.
type BytesInput struct {
	buf []byte
	pos uint64
}

// NewBytesInput creates an Input reading from buf.
func NewBytesInput(buf []byte) *BytesInput {
	return &BytesInput{buf: buf}
}

func (in *BytesInput) ReadInto(p []byte) error {
	n := copy(p, in.buf[in.pos:])
	in.pos += uint64(n)
	if n < len(p) {
		return Errorf(ErrUnexpectedEOF, in.pos, "wanted %d more bytes", len(p)-n)
	}
	return nil
}

func (in *BytesInput) Skip(n uint64) error {
	rem := uint64(len(in.buf)) - in.pos
	if n > rem {
		in.pos = uint64(len(in.buf))
		return Errorf(ErrUnexpectedEOF, in.pos, "wanted to skip %d more bytes", n-rem)
	}
	in.pos += n
	return nil
}

func (in *BytesInput) Drain() (uint64, error) {
	n := uint64(len(in.buf)) - in.pos
	in.pos = uint64(len(in.buf))
	return n, nil
}

func (in *BytesInput) Pos() uint64 {
	return in.pos
}

// StreamInput is an Input over a sequential io.Reader, backed by a
// buffered reader.
type StreamInput struct {
	r   *bufio.Reader
	pos uint64
}

// NewStreamInput creates an Input reading from r.
func NewStreamInput(r io.Reader) *StreamInput {
	return &StreamInput{r: bufio.NewReader(r)}
}

func (in *StreamInput) ReadInto(p []byte) error {
	n, err := io.ReadFull(in.r, p)
	in.pos += uint64(n)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return Errorf(ErrUnexpectedEOF, in.pos, "wanted %d more bytes", len(p)-n)
	}
	if err != nil {
		return IOError(in.pos, err)
	}
	return nil
}

func (in *StreamInput) Skip(n uint64) error {
	for n > 0 {
		step := n
		const maxStep = 1 << 30
		if step > maxStep {
			step = maxStep
		}
		d, err := in.r.Discard(int(step))
		in.pos += uint64(d)
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return Errorf(ErrUnexpectedEOF, in.pos, "wanted to skip %d more bytes", n-uint64(d))
		}
		if err != nil {
			return IOError(in.pos, err)
		}
		n -= uint64(d)
	}
	return nil
}

func (in *StreamInput) Drain() (uint64, error) {
	n, err := io.Copy(io.Discard, in.r)
	in.pos += uint64(n)
	if err != nil {
		return uint64(n), IOError(in.pos, err)
	}
	return uint64(n), nil
}

func (in *StreamInput) Pos() uint64 {
	return in.pos
}
