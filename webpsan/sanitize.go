package webpsan

import (
	"context"
	"io"

	"github.com/tetsuo/mediasan"
)

// Config adjusts how strict the grammar is.
type Config struct {
	// RejectUnknownChunks fails on chunk types the grammar does not
	// know. By default unknown chunks are allowed in trailing
	// positions, size-checked and skipped.
	RejectUnknownChunks bool
}

// Sanitize reads a WebP file from r and validates it.
func Sanitize(r io.Reader) error {
	return SanitizeInput(mediasan.NewStreamInput(r))
}

// SanitizeContext is Sanitize with ctx checked at every read.
func SanitizeContext(ctx context.Context, r io.Reader) error {
	return SanitizeInput(mediasan.WithContext(ctx, mediasan.NewStreamInput(r)))
}

// SanitizeBytes validates an in-memory WebP file.
func SanitizeBytes(buf []byte) error {
	return SanitizeInput(mediasan.NewBytesInput(buf))
}

// SanitizeInput validates in with the default configuration.
func SanitizeInput(in mediasan.Input) error {
	return SanitizeWithConfig(Config{}, in)
}

// SanitizeWithConfig validates in, consuming it exactly once front to
// back.
func SanitizeWithConfig(cfg Config, in mediasan.Input) error {
	var hdr [12]byte
	if err := in.ReadInto(hdr[:]); err != nil {
		return err
	}
	var tag mediasan.FourCC
	copy(tag[:], hdr[:4])
	if tag != TypeRIFF {
		return mediasan.Errorf(mediasan.ErrUnsupportedFormat, 0, "`%s` is not a RIFF file", tag)
	}
	riffLen := le.Uint32(hdr[4:8])
	if uint64(riffLen)+chunkHeaderLen > MaxFileLen {
		return mediasan.Errorf(mediasan.ErrInvalidChunkSize, 4,
			"RIFF length %d exceeds the maximum file length", riffLen)
	}
	if riffLen < 4 {
		return mediasan.Errorf(mediasan.ErrInvalidChunkSize, 4,
			"RIFF length %d cannot hold a form type", riffLen)
	}
	copy(tag[:], hdr[8:12])
	if tag != TypeWEBP {
		return mediasan.Errorf(mediasan.ErrUnsupportedFormat, 8, "RIFF form type is `%s`, not `WEBP`", tag)
	}

	p := &parser{cfg: cfg, r: newChunkReader(in, uint64(riffLen)-4, "RIFF")}
	if err := p.file(); err != nil {
		return err
	}

	if riffLen&1 == 1 {
		if err := in.Skip(1); err != nil {
			return mediasan.WithPath(err, "RIFF")
		}
	}
	if n, err := in.Drain(); err != nil {
		return err
	} else if n > 0 {
		return mediasan.Errorf(mediasan.ErrInvalidChunkLayout, in.Pos()-n,
			"%d bytes of trailing data after the RIFF chunk", n)
	}
	return nil
}

// parser walks the WebP grammar with one chunk of lookahead.
type parser struct {
	cfg     Config
	r       *chunkReader
	pending *ChunkHeader
}

func (p *parser) next() (ChunkHeader, bool, error) {
	if p.pending != nil {
		h := *p.pending
		p.pending = nil
		return h, true, nil
	}
	if !p.r.more() {
		return ChunkHeader{}, false, nil
	}
	h, err := p.r.next()
	return h, err == nil, err
}

func (p *parser) push(h ChunkHeader) {
	p.pending = &h
}

// expect frames the next chunk and requires it to be of type want.
func (p *parser) expect(want mediasan.FourCC) (ChunkHeader, error) {
	h, ok, err := p.next()
	if err != nil {
		return ChunkHeader{}, err
	}
	if !ok {
		return ChunkHeader{}, p.r.fail(mediasan.Errorf(mediasan.ErrMissingRequiredBox, p.r.in.Pos(),
			"no `%s`", want))
	}
	if h.Type != want {
		return ChunkHeader{}, p.r.fail(mediasan.Errorf(mediasan.ErrInvalidChunkLayout, h.Offset,
			"expected `%s`, found `%s`", want, h.Type))
	}
	return h, nil
}

// file parses the RIFF body: exactly one image form.
func (p *parser) file() error {
	h, ok, err := p.next()
	if err != nil {
		return err
	}
	if !ok {
		return p.r.fail(mediasan.Errorf(mediasan.ErrMissingRequiredBox, p.r.in.Pos(), "no image chunk"))
	}
	switch h.Type {
	case TypeVP8:
		if err := p.r.skip(h); err != nil {
			return err
		}
	case TypeVP8L:
		prefix, err := p.r.prefix(h, 5)
		if err != nil {
			return err
		}
		if _, _, err := parseVP8L(prefix, h.Offset+chunkHeaderLen, p.r.path+"/VP8L"); err != nil {
			return err
		}
	case TypeVP8X:
		return p.extended(h)
	default:
		return p.r.fail(mediasan.Errorf(mediasan.ErrInvalidChunkLayout, h.Offset,
			"first chunk `%s` is not an image chunk", h.Type))
	}
	// Simple formats hold exactly one chunk.
	if h, ok, err := p.next(); err != nil {
		return err
	} else if ok {
		return p.r.fail(mediasan.Errorf(mediasan.ErrInvalidChunkLayout, h.Offset,
			"`%s` after a simple-format image", h.Type))
	}
	return nil
}

// extended parses the VP8X form: flag-promised chunks in their fixed
// order, then trailing metadata and unknown chunks.
func (p *parser) extended(h ChunkHeader) error {
	body, err := p.r.bytes(h)
	if err != nil {
		return err
	}
	x, err := parseVP8X(body, h.Offset+chunkHeaderLen, p.r.path+"/VP8X")
	if err != nil {
		return err
	}

	if x.flags&FlagICCP != 0 {
		h, err := p.expect(TypeICCP)
		if err != nil {
			return err
		}
		if err := p.r.skip(h); err != nil {
			return err
		}
	}

	if x.flags&FlagANIM != 0 {
		h, err := p.expect(TypeANIM)
		if err != nil {
			return err
		}
		if err := checkANIM(h, p.r.path+"/ANIM"); err != nil {
			return err
		}
		if err := p.r.skip(h); err != nil {
			return err
		}
		for {
			h, ok, err := p.next()
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			if h.Type != TypeANMF {
				p.push(h)
				break
			}
			if err := p.frame(h, x); err != nil {
				return err
			}
		}
	} else {
		if err := p.stillImage(p.r, x.flags, x.canvasW, x.canvasH); err != nil {
			return err
		}
	}

	return p.trailing(x.flags)
}

// stillImage parses an optional alpha chunk followed by the bitstream
// chunk. A lossless stream's dimensions must match wantW×wantH.
func (p *parser) stillImage(r *chunkReader, flags byte, wantW, wantH uint32) error {
	if flags&FlagALPH != 0 {
		h, err := p.expect(TypeALPH)
		if err != nil {
			return err
		}
		prefix, err := r.prefix(h, 1)
		if err != nil {
			return err
		}
		if err := checkALPH(prefix[0], h.Offset+chunkHeaderLen, r.path+"/ALPH"); err != nil {
			return err
		}
	}

	h, ok, err := p.next()
	if err != nil {
		return err
	}
	if !ok {
		return r.fail(mediasan.Errorf(mediasan.ErrMissingRequiredBox, r.in.Pos(), "no image chunk"))
	}
	switch h.Type {
	case TypeVP8:
		return r.skip(h)
	case TypeVP8L:
		prefix, err := r.prefix(h, 5)
		if err != nil {
			return err
		}
		w, hgt, err := parseVP8L(prefix, h.Offset+chunkHeaderLen, r.path+"/VP8L")
		if err != nil {
			return err
		}
		if w != wantW || hgt != wantH {
			return mediasan.WithPath(mediasan.Errorf(mediasan.ErrInvalidCrossReference, h.Offset,
				"`VP8L` stream is %dx%d, expected %dx%d", w, hgt, wantW, wantH), r.path+"/VP8L")
		}
		return nil
	default:
		return r.fail(mediasan.Errorf(mediasan.ErrInvalidChunkLayout, h.Offset,
			"expected an image chunk, found `%s`", h.Type))
	}
}

// frame parses one ANMF chunk: the 16-byte frame header, then a nested
// single image, then trailing unknown chunks.
func (p *parser) frame(h ChunkHeader, x extendedHeader) error {
	if h.Len < 16 {
		return p.r.fail(mediasan.Errorf(mediasan.ErrInvalidChunkSize, h.Offset,
			"`ANMF` body of %d bytes cannot hold a frame header", h.Len))
	}
	fr := p.r.sub(h, "ANMF")
	var hdr [16]byte
	if err := fr.readInto(hdr[:]); err != nil {
		return err
	}
	f, err := parseANMF(hdr[:], h.Offset+chunkHeaderLen, fr.path)
	if err != nil {
		return err
	}
	if f.x+f.width > x.canvasW || f.y+f.height > x.canvasH {
		return fr.fail(mediasan.Errorf(mediasan.ErrInvalidCrossReference, h.Offset,
			"frame [%d,%d %dx%d] exceeds the %dx%d canvas",
			f.x, f.y, f.width, f.height, x.canvasW, x.canvasH))
	}

	fp := &parser{cfg: p.cfg, r: fr}
	// Alpha is optional per frame but only legal when the VP8X alpha
	// flag is set; stillImage requires it when the flag passed in is
	// set, so mask the flag off unless an ALPH chunk is actually next.
	flags := byte(0)
	if x.flags&FlagALPH != 0 {
		if h, ok, err := fp.next(); err != nil {
			return err
		} else if ok {
			fp.push(h)
			if h.Type == TypeALPH {
				flags = FlagALPH
			}
		}
	}
	if err := fp.stillImage(fr, flags, f.width, f.height); err != nil {
		return err
	}
	for {
		h, ok, err := fp.next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if isKnownChunk(h.Type) {
			return fr.fail(mediasan.Errorf(mediasan.ErrInvalidChunkLayout, h.Offset,
				"`%s` inside an animation frame", h.Type))
		}
		if p.cfg.RejectUnknownChunks {
			return fr.fail(mediasan.Errorf(mediasan.ErrInvalidChunkLayout, h.Offset,
				"unknown chunk `%s`", h.Type))
		}
		if err := fr.skip(h); err != nil {
			return err
		}
	}
	return p.r.finishSub(h)
}

// trailing parses the metadata chunks promised by the VP8X flags, then
// any unknown chunks, through the end of the file.
func (p *parser) trailing(flags byte) error {
	if flags&FlagEXIF != 0 {
		h, err := p.expect(TypeEXIF)
		if err != nil {
			return err
		}
		if err := p.r.skip(h); err != nil {
			return err
		}
	}
	if flags&FlagXMP != 0 {
		h, err := p.expect(TypeXMP)
		if err != nil {
			return err
		}
		if err := p.r.skip(h); err != nil {
			return err
		}
	}
	for {
		h, ok, err := p.next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if isKnownChunk(h.Type) {
			return p.r.fail(mediasan.Errorf(mediasan.ErrInvalidChunkLayout, h.Offset,
				"`%s` out of order", h.Type))
		}
		if p.cfg.RejectUnknownChunks {
			return p.r.fail(mediasan.Errorf(mediasan.ErrInvalidChunkLayout, h.Offset,
				"unknown chunk `%s`", h.Type))
		}
		if err := p.r.skip(h); err != nil {
			return err
		}
	}
}
