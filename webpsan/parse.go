package webpsan

import "github.com/tetsuo/mediasan"

// VP8X feature flags.
const (
	FlagICCP = 0x20
	FlagALPH = 0x10
	FlagEXIF = 0x08
	FlagXMP  = 0x04
	FlagANIM = 0x02
)

const vp8xBodyLen = 10

// vp8lSignature is the first byte of every lossless bitstream.
const vp8lSignature = 0x2f

func u24le(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
}

// extendedHeader holds the decoded VP8X chunk.
type extendedHeader struct {
	flags   byte
	canvasW uint32
	canvasH uint32
}

// parseVP8X decodes the 10-byte extended-format header. Reserved flag
// bits and bytes must be zero; the canvas dimensions are stored
// minus-one in 24 bits each.
func parseVP8X(body []byte, at uint64, path string) (extendedHeader, error) {
	if len(body) != vp8xBodyLen {
		return extendedHeader{}, mediasan.WithPath(mediasan.Errorf(mediasan.ErrInvalidChunkSize, at,
			"`VP8X` body is %d bytes, not %d", len(body), vp8xBodyLen), path)
	}
	flags := body[0]
	if flags&0xc1 != 0 || body[1] != 0 || body[2] != 0 || body[3] != 0 {
		return extendedHeader{}, mediasan.WithPath(mediasan.Errorf(mediasan.ErrInvalidChunkLayout, at,
			"`VP8X` reserved bits are not zero"), path)
	}
	return extendedHeader{
		flags:   flags,
		canvasW: u24le(body[4:7]) + 1,
		canvasH: u24le(body[7:10]) + 1,
	}, nil
}

// parseVP8L decodes the 5-byte lossless stream header: a signature
// byte, then 14-bit minus-one width and height, an alpha hint bit, and
// a 3-bit version that must be zero.
func parseVP8L(prefix []byte, at uint64, path string) (width, height uint32, err error) {
	if prefix[0] != vp8lSignature {
		return 0, 0, mediasan.WithPath(mediasan.Errorf(mediasan.ErrInvalidChunkLayout, at,
			"`VP8L` signature byte is 0x%02x, not 0x%02x", prefix[0], vp8lSignature), path)
	}
	bits := le.Uint32(prefix[1:5])
	if version := bits >> 29; version != 0 {
		return 0, 0, mediasan.WithPath(mediasan.Errorf(mediasan.ErrUnsupportedBoxVersion, at,
			"`VP8L` stream version %d", version), path)
	}
	return bits&0x3fff + 1, (bits>>14)&0x3fff + 1, nil
}

// checkANIM validates the animation parameters chunk: a background
// color and a loop count, exactly six bytes.
func checkANIM(h ChunkHeader, path string) error {
	if h.Len != 6 {
		return mediasan.WithPath(mediasan.Errorf(mediasan.ErrInvalidChunkSize, h.Offset,
			"`ANIM` body is %d bytes, not 6", h.Len), path)
	}
	return nil
}

// frameHeader holds the decoded 16-byte ANMF frame header. X and Y are
// the actual pixel origin (the stored values are halved).
type frameHeader struct {
	x, y          uint32
	width, height uint32
}

func parseANMF(hdr []byte, at uint64, path string) (frameHeader, error) {
	if hdr[15]&0xfc != 0 {
		return frameHeader{}, mediasan.WithPath(mediasan.Errorf(mediasan.ErrInvalidChunkLayout, at,
			"`ANMF` reserved bits are not zero"), path)
	}
	return frameHeader{
		x:      u24le(hdr[0:3]) * 2,
		y:      u24le(hdr[3:6]) * 2,
		width:  u24le(hdr[6:9]) + 1,
		height: u24le(hdr[9:12]) + 1,
	}, nil
}

// checkALPH validates the alpha chunk's leading flags byte: two
// reserved bits, then preprocessing, filtering and compression fields,
// of which only compression methods 0 and 1 are defined.
func checkALPH(flags byte, at uint64, path string) error {
	if flags&0xc0 != 0 {
		return mediasan.WithPath(mediasan.Errorf(mediasan.ErrInvalidChunkLayout, at,
			"`ALPH` reserved bits are not zero"), path)
	}
	if compression := flags & 0x03; compression > 1 {
		return mediasan.WithPath(mediasan.Errorf(mediasan.ErrInvalidChunkLayout, at,
			"`ALPH` compression method %d", compression), path)
	}
	return nil
}

// isKnownChunk reports whether t is one of the chunk types the grammar
// assigns a position to.
func isKnownChunk(t mediasan.FourCC) bool {
	switch t {
	case TypeVP8, TypeVP8L, TypeVP8X, TypeALPH, TypeANIM, TypeANMF, TypeICCP, TypeEXIF, TypeXMP:
		return true
	}
	return false
}
