package mp4san

import (
	"encoding/binary"
	"errors"
	"math"

	"github.com/tetsuo/mediasan"
)

var be = binary.BigEndian

const (
	boxHeaderLen = 8  // 32-bit size + type
	extHeaderLen = 16 // with 64-bit extended size
)

const uint32Max = math.MaxUint32

// BoxHeader describes one framed box: its type, the absolute offset of
// its first byte, and the resolved body length. A box whose 32-bit size
// field is zero extends to the end of the file; its body length is
// unknown until the input is drained.
type BoxHeader struct {
	Type      mediasan.FourCC
	Offset    uint64
	HeaderLen uint64 // 8, or 16 when the 64-bit extended size was used
	BodyLen   uint64
	ToEOF     bool
}

// BodyOffset returns the absolute offset of the box body.
func (h BoxHeader) BodyOffset() uint64 {
	return h.Offset + h.HeaderLen
}

// End returns the absolute offset one past the box. Only meaningful
// when ToEOF is false.
func (h BoxHeader) End() uint64 {
	return h.Offset + h.HeaderLen + h.BodyLen
}

// resolveSize applies the length-encoding rules shared by the
// streaming framer and the in-memory walker: size 1 selects the 64-bit
// extended encoding, size 0 the to-end-of-file sentinel, and sizes
// 2..7 are impossible because they overlap the header itself. The
// sentinel is legal at the top level and for the terminal child of a
// parent whose own length extends to end of file.
func resolveSize(h *BoxHeader, size32 uint32, ext uint64, toEOFOK bool) error {
	switch {
	case size32 == 0:
		if !toEOFOK {
			return mediasan.Errorf(mediasan.ErrInvalidBoxSize, h.Offset,
				"`%s` extends to end of file inside a sized parent", h.Type)
		}
		h.ToEOF = true
	case size32 == 1:
		h.HeaderLen = extHeaderLen
		if ext < extHeaderLen {
			return mediasan.Errorf(mediasan.ErrInvalidBoxSize, h.Offset,
				"`%s` extended size %d smaller than its header", h.Type, ext)
		}
		h.BodyLen = ext - extHeaderLen
	case size32 < boxHeaderLen:
		return mediasan.Errorf(mediasan.ErrInvalidBoxSize, h.Offset,
			"`%s` size %d smaller than its header", h.Type, size32)
	default:
		h.BodyLen = uint64(size32) - boxHeaderLen
	}
	return nil
}

// readTopHeader reads one top-level box header from in. It returns
// ok=false at a clean end of input; a partial header is an error.
func readTopHeader(in mediasan.Input) (BoxHeader, bool, error) {
	var buf [8]byte
	start := in.Pos()
	if err := in.ReadInto(buf[:]); err != nil {
		if errors.Is(err, mediasan.ErrUnexpectedEOF) && in.Pos() == start {
			return BoxHeader{}, false, nil
		}
		return BoxHeader{}, false, err
	}

	h := BoxHeader{Offset: start, HeaderLen: boxHeaderLen}
	size32 := be.Uint32(buf[:4])
	copy(h.Type[:], buf[4:8])

	var ext uint64
	if size32 == 1 {
		if err := in.ReadInto(buf[:]); err != nil {
			return BoxHeader{}, false, err
		}
		ext = be.Uint64(buf[:])
	}
	if err := resolveSize(&h, size32, ext, true); err != nil {
		return BoxHeader{}, false, err
	}
	if !h.ToEOF && h.BodyLen > math.MaxUint64-h.Offset-h.HeaderLen {
		return BoxHeader{}, false, mediasan.Errorf(mediasan.ErrArithmeticOverflow, h.Offset,
			"`%s` extends past the maximum input length", h.Type)
	}
	return h, true, nil
}

// walker is a cursor over an in-memory box body, used to parse the
// moov subtree once its bytes are buffered. It enforces the same size
// rules as the streaming framer: children never exceed the parent's
// remaining length.
type walker struct {
	buf  []byte
	base uint64 // absolute offset of buf[0]
	pos  int
	path string
	eof  bool // parent's encoded length was the to-end-of-file sentinel
}

func newWalker(buf []byte, base uint64, path string) *walker {
	return &walker{buf: buf, base: base, path: path}
}

// next frames the next child box and advances past it. Returns
// ok=false when the parent body is exhausted.
func (w *walker) next() (BoxHeader, bool, error) {
	if w.pos == len(w.buf) {
		return BoxHeader{}, false, nil
	}
	start := w.base + uint64(w.pos)
	rem := len(w.buf) - w.pos
	if rem < boxHeaderLen {
		return BoxHeader{}, false, w.fail(mediasan.Errorf(mediasan.ErrInvalidBoxSize, start,
			"%d trailing bytes cannot hold a box header", rem))
	}

	h := BoxHeader{Offset: start, HeaderLen: boxHeaderLen}
	size32 := be.Uint32(w.buf[w.pos:])
	copy(h.Type[:], w.buf[w.pos+4:w.pos+8])

	var ext uint64
	if size32 == 1 {
		if rem < extHeaderLen {
			return BoxHeader{}, false, w.fail(mediasan.Errorf(mediasan.ErrUnexpectedEOF, start+uint64(rem),
				"`%s` extended size truncated", h.Type))
		}
		ext = be.Uint64(w.buf[w.pos+8:])
	}
	if err := resolveSize(&h, size32, ext, w.eof); err != nil {
		return BoxHeader{}, false, w.fail(err)
	}
	if h.ToEOF {
		// The parent body is buffered, so the sentinel resolves to the
		// remaining bytes. ToEOF stays set to record the encoding.
		h.BodyLen = uint64(rem) - boxHeaderLen
	}
	if h.BodyLen > uint64(rem)-h.HeaderLen {
		return BoxHeader{}, false, w.fail(mediasan.Errorf(mediasan.ErrInvalidBoxSize, start,
			"`%s` body of %d bytes exceeds its parent's remaining %d bytes",
			h.Type, h.BodyLen, uint64(rem)-h.HeaderLen))
	}

	w.pos += int(h.HeaderLen + h.BodyLen)
	return h, true, nil
}

// body returns the current child's body bytes within the parent buffer.
func (w *walker) body(h BoxHeader) []byte {
	return w.buf[h.BodyOffset()-w.base : h.End()-w.base]
}

// raw returns the current child's full encoding, header included.
func (w *walker) raw(h BoxHeader) []byte {
	return w.buf[h.Offset-w.base : h.End()-w.base]
}

// sub returns a walker over the current child's body for descending
// into container boxes.
func (w *walker) sub(h BoxHeader, pathElem string) *walker {
	nw := newWalker(w.body(h), h.BodyOffset(), w.path+"/"+pathElem)
	nw.eof = h.ToEOF
	return nw
}

// encode returns the current child's original encoding. A child framed
// with the to-end-of-file sentinel gets a concrete 32-bit size so it
// can be embedded mid-file.
func (w *walker) encode(h BoxHeader) []byte {
	raw := w.raw(h)
	if !h.ToEOF {
		return raw
	}
	out := make([]byte, len(raw))
	copy(out, raw)
	be.PutUint32(out, uint32(len(out)))
	return out
}

func (w *walker) fail(err error) error {
	return mediasan.WithPath(err, w.path)
}
