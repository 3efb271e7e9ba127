// Package webpsan validates WebP (RIFF) image files. It checks the
// chunk framing and the extended-format grammar without decoding any
// image data; a file that passes contains only well-formed,
// well-ordered chunks.
package webpsan

import (
	"encoding/binary"

	"github.com/tetsuo/mediasan"
)

var le = binary.LittleEndian

// Known chunk types.
var (
	TypeRIFF = mediasan.FourCC{'R', 'I', 'F', 'F'}
	TypeWEBP = mediasan.FourCC{'W', 'E', 'B', 'P'}
	TypeVP8  = mediasan.FourCC{'V', 'P', '8', ' '}
	TypeVP8L = mediasan.FourCC{'V', 'P', '8', 'L'}
	TypeVP8X = mediasan.FourCC{'V', 'P', '8', 'X'}
	TypeALPH = mediasan.FourCC{'A', 'L', 'P', 'H'}
	TypeANIM = mediasan.FourCC{'A', 'N', 'I', 'M'}
	TypeANMF = mediasan.FourCC{'A', 'N', 'M', 'F'}
	TypeICCP = mediasan.FourCC{'I', 'C', 'C', 'P'}
	TypeEXIF = mediasan.FourCC{'E', 'X', 'I', 'F'}
	TypeXMP  = mediasan.FourCC{'X', 'M', 'P', ' '}
)

const chunkHeaderLen = 8

// MaxFileLen is the largest WebP file the format can express.
const MaxFileLen = 1<<32 - 2

// ChunkHeader describes one framed RIFF chunk.
type ChunkHeader struct {
	Type   mediasan.FourCC
	Offset uint64
	Len    uint32
}

// PaddedLen returns the body length including the pad byte that
// follows an odd-length chunk.
func (h ChunkHeader) PaddedLen() uint64 {
	return uint64(h.Len) + uint64(h.Len&1)
}

// chunkReader frames the chunks inside one parent body. Every chunk,
// pad byte included, must fit the parent's remaining length.
type chunkReader struct {
	in        mediasan.Input
	remaining uint64
	path      string
}

func newChunkReader(in mediasan.Input, remaining uint64, path string) *chunkReader {
	return &chunkReader{in: in, remaining: remaining, path: path}
}

// more reports whether the parent has bytes left.
func (r *chunkReader) more() bool {
	return r.remaining > 0
}

// next frames the next chunk. The header is consumed; the body is not.
func (r *chunkReader) next() (ChunkHeader, error) {
	at := r.in.Pos()
	if r.remaining < chunkHeaderLen {
		return ChunkHeader{}, r.fail(mediasan.Errorf(mediasan.ErrInvalidChunkSize, at,
			"%d trailing bytes cannot hold a chunk header", r.remaining))
	}
	var buf [8]byte
	if err := r.in.ReadInto(buf[:]); err != nil {
		return ChunkHeader{}, r.fail(err)
	}
	h := ChunkHeader{Offset: at, Len: le.Uint32(buf[4:])}
	copy(h.Type[:], buf[:4])
	r.remaining -= chunkHeaderLen
	if h.PaddedLen() > r.remaining {
		return ChunkHeader{}, r.fail(mediasan.Errorf(mediasan.ErrInvalidChunkSize, at,
			"`%s` body of %d bytes exceeds its parent's remaining %d bytes",
			h.Type, h.Len, r.remaining))
	}
	r.remaining -= h.PaddedLen()
	return h, nil
}

// bytes reads the chunk body, consuming the pad byte of an odd-length
// chunk.
func (r *chunkReader) bytes(h ChunkHeader) ([]byte, error) {
	body := make([]byte, h.PaddedLen())
	if err := r.in.ReadInto(body); err != nil {
		return nil, r.fail(err)
	}
	return body[:h.Len], nil
}

// prefix reads the first n bytes of the chunk body and skips the rest,
// pad byte included.
func (r *chunkReader) prefix(h ChunkHeader, n int) ([]byte, error) {
	if uint64(n) > uint64(h.Len) {
		return nil, r.fail(mediasan.Errorf(mediasan.ErrInvalidChunkSize, h.Offset,
			"`%s` body of %d bytes is shorter than its %d-byte header", h.Type, h.Len, n))
	}
	buf := make([]byte, n)
	if err := r.in.ReadInto(buf); err != nil {
		return nil, r.fail(err)
	}
	if err := r.in.Skip(h.PaddedLen() - uint64(n)); err != nil {
		return nil, r.fail(err)
	}
	return buf, nil
}

// skip discards the chunk body, pad byte included.
func (r *chunkReader) skip(h ChunkHeader) error {
	if err := r.in.Skip(h.PaddedLen()); err != nil {
		return r.fail(err)
	}
	return nil
}

// readInto fills p from the parent body.
func (r *chunkReader) readInto(p []byte) error {
	if uint64(len(p)) > r.remaining {
		return r.fail(mediasan.Errorf(mediasan.ErrInvalidChunkSize, r.in.Pos(),
			"%d remaining bytes cannot hold a %d-byte field", r.remaining, len(p)))
	}
	if err := r.in.ReadInto(p); err != nil {
		return r.fail(err)
	}
	r.remaining -= uint64(len(p))
	return nil
}

// sub returns a reader over the current chunk's body for descending
// into container chunks. The pad byte of an odd-length container stays
// with the parent's accounting and is consumed by finishSub once the
// children have been read.
func (r *chunkReader) sub(h ChunkHeader, pathElem string) *chunkReader {
	return newChunkReader(r.in, uint64(h.Len), r.path+"/"+pathElem)
}

// finishSub consumes the pad byte of an odd-length container chunk
// after its children have been read.
func (r *chunkReader) finishSub(h ChunkHeader) error {
	if h.Len&1 == 0 {
		return nil
	}
	if err := r.in.Skip(1); err != nil {
		return r.fail(err)
	}
	return nil
}

func (r *chunkReader) fail(err error) error {
	return mediasan.WithPath(err, r.path)
}
