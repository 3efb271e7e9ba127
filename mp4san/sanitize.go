package mp4san

import (
	"context"
	"errors"
	"io"
	"math"

	"github.com/tetsuo/mediasan"
)

// DefaultMaxMetadataLen bounds how much metadata the sanitizer will
// buffer in memory when no limit is configured.
const DefaultMaxMetadataLen = 1 << 30

// Config adjusts sanitizer limits.
type Config struct {
	// MaxMetadataLen caps the total bytes of metadata (ftyp, moov and
	// preserved unknown boxes) buffered in memory. Zero means
	// DefaultMaxMetadataLen.
	MaxMetadataLen uint64
}

// SanitizedMetadata is the sanitizer's output. Concatenating Metadata
// with the Data span of the original input yields the sanitized file:
// all metadata up front, then the media data.
type SanitizedMetadata struct {
	// Metadata holds the rewritten metadata: ftyp, preserved unknown
	// top-level boxes and the moov with adjusted chunk offsets.
	Metadata []byte

	// Data locates the media data in the original input. The span
	// covers the coalesced mdat, header included.
	Data mediasan.InputSpan
}

// Sanitize reads an MP4 file from r, validates it and returns its
// rewritten metadata.
func Sanitize(r io.Reader) (*SanitizedMetadata, error) {
	return SanitizeInput(mediasan.NewStreamInput(r))
}

// SanitizeContext is Sanitize with ctx checked at every read.
func SanitizeContext(ctx context.Context, r io.Reader) (*SanitizedMetadata, error) {
	return SanitizeInput(mediasan.WithContext(ctx, mediasan.NewStreamInput(r)))
}

// SanitizeBytes sanitizes an in-memory MP4 file.
func SanitizeBytes(buf []byte) (*SanitizedMetadata, error) {
	return SanitizeInput(mediasan.NewBytesInput(buf))
}

// SanitizeInput sanitizes in with default limits.
func SanitizeInput(in mediasan.Input) (*SanitizedMetadata, error) {
	return SanitizeWith(Config{}, in)
}

// SanitizeWith sanitizes in, consuming it exactly once front to back.
func SanitizeWith(cfg Config, in mediasan.Input) (*SanitizedMetadata, error) {
	if cfg.MaxMetadataLen == 0 {
		cfg.MaxMetadataLen = DefaultMaxMetadataLen
	}
	s := &sanitizer{in: in, cfg: cfg}
	if err := s.run(); err != nil {
		return nil, err
	}
	return s.finish()
}

type sanitizer struct {
	in  mediasan.Input
	cfg Config

	ftypRaw []byte
	movie   *movie

	mdat     mediasan.InputSpan
	mdatBody uint64
	haveMdat bool

	// Unknown top-level boxes preserved verbatim, partitioned around
	// the media data.
	pre  [][]byte
	post [][]byte

	buffered uint64
}

func (s *sanitizer) run() error {
	for {
		h, ok, err := readTopHeader(s.in)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		if isFragmentOnly(h.Type) {
			return mediasan.Errorf(mediasan.ErrUnsupportedFragmented, h.Offset,
				"`%s` only appears in fragmented files", h.Type)
		}
		if s.ftypRaw == nil && h.Type != TypeFtyp && !isFreeSpace(h.Type) {
			return mediasan.Errorf(mediasan.ErrInvalidBoxLayout, h.Offset,
				"`ftyp` is not the first significant box, found `%s`", h.Type)
		}

		switch h.Type {
		case TypeFtyp:
			err = s.onFtyp(h)
		case TypeMoov:
			err = s.onMoov(h)
		case TypeMdat:
			err = s.onMdat(h)
		case TypeFree, TypeSkip, TypeWide:
			err = s.onFreeSpace(h)
		default:
			err = s.onUnknown(h)
		}
		if err != nil {
			return err
		}
	}
}

func (s *sanitizer) onFtyp(h BoxHeader) error {
	if s.ftypRaw != nil {
		return mediasan.Errorf(mediasan.ErrInvalidBoxLayout, h.Offset, "more than one `ftyp`")
	}
	body, err := s.readBody(h)
	if err != nil {
		return err
	}
	if len(body) < 8 || len(body)%4 != 0 {
		return mediasan.WithPath(mediasan.Errorf(mediasan.ErrInvalidBoxSize, h.BodyOffset(),
			"body of %d bytes is not brands", len(body)), "ftyp")
	}
	compatible := false
	for i := 0; i < len(body); i += 4 {
		if i == 4 {
			continue // minor version
		}
		var brand mediasan.FourCC
		copy(brand[:], body[i:])
		if brand == BrandIsom {
			compatible = true
			break
		}
	}
	if !compatible {
		return mediasan.WithPath(mediasan.Errorf(mediasan.ErrUnsupportedFormat, h.BodyOffset(),
			"no `%s` among the compatible brands", BrandIsom), "ftyp")
	}
	s.ftypRaw = encodeBox(h, body)
	return nil
}

func (s *sanitizer) onMoov(h BoxHeader) error {
	if s.movie != nil {
		return mediasan.Errorf(mediasan.ErrInvalidBoxLayout, h.Offset, "more than one `moov`")
	}
	body, err := s.readBody(h)
	if err != nil {
		return err
	}
	m, err := parseMoov(body, h.BodyOffset(), h.ToEOF)
	if err != nil {
		return err
	}
	s.movie = m
	return nil
}

func (s *sanitizer) onMdat(h BoxHeader) error {
	bodyLen := h.BodyLen
	if h.ToEOF {
		n, err := s.in.Drain()
		if err != nil {
			return err
		}
		bodyLen = n
	} else if err := s.in.Skip(h.BodyLen); err != nil {
		return err
	}
	span := mediasan.InputSpan{Offset: h.Offset, Len: h.HeaderLen + bodyLen}
	switch {
	case !s.haveMdat:
		s.mdat = span
		s.mdatBody = bodyLen
		s.haveMdat = true
	case s.mdat.End() == h.Offset:
		s.mdat.Len += span.Len
		s.mdatBody += bodyLen
	default:
		return mediasan.Errorf(mediasan.ErrUnsupportedDiscontiguousMediaData, h.Offset,
			"`mdat` at 0x%x does not adjoin media data ending at 0x%x", h.Offset, s.mdat.End())
	}
	return nil
}

// onFreeSpace skips a free-space box. Free space is dropped from the
// rewritten metadata; when it directly follows the media data it is
// absorbed into the data span so a later mdat still adjoins it.
func (s *sanitizer) onFreeSpace(h BoxHeader) error {
	bodyLen := h.BodyLen
	if h.ToEOF {
		n, err := s.in.Drain()
		if err != nil {
			return err
		}
		bodyLen = n
	} else if err := s.in.Skip(h.BodyLen); err != nil {
		return err
	}
	if s.haveMdat && s.mdat.End() == h.Offset {
		s.mdat.Len += h.HeaderLen + bodyLen
	}
	return nil
}

func (s *sanitizer) onUnknown(h BoxHeader) error {
	body, err := s.readBody(h)
	if err != nil {
		return err
	}
	raw := encodeBox(h, body)
	if s.haveMdat {
		s.post = append(s.post, raw)
	} else {
		s.pre = append(s.pre, raw)
	}
	return nil
}

// readBody buffers the current box body, charging it against the
// metadata limit.
func (s *sanitizer) readBody(h BoxHeader) ([]byte, error) {
	if h.ToEOF {
		body, err := readToEOF(s.in, s.cfg.MaxMetadataLen-s.buffered)
		if err != nil {
			return nil, mediasan.WithPath(err, h.Type.String())
		}
		s.buffered += uint64(len(body))
		return body, nil
	}
	if h.BodyLen > s.cfg.MaxMetadataLen-s.buffered {
		return nil, mediasan.WithPath(mediasan.Errorf(mediasan.ErrInvalidBoxSize, h.Offset,
			"body of %d bytes exceeds the %d-byte metadata limit", h.BodyLen, s.cfg.MaxMetadataLen),
			h.Type.String())
	}
	body := make([]byte, h.BodyLen)
	if err := s.in.ReadInto(body); err != nil {
		return nil, mediasan.WithPath(err, h.Type.String())
	}
	s.buffered += h.BodyLen
	return body, nil
}

// readToEOF consumes the rest of the input, up to limit bytes.
func readToEOF(in mediasan.Input, limit uint64) ([]byte, error) {
	var out []byte
	var chunk [32 << 10]byte
	for {
		start := in.Pos()
		err := in.ReadInto(chunk[:])
		out = append(out, chunk[:in.Pos()-start]...)
		if uint64(len(out)) > limit {
			return nil, mediasan.Errorf(mediasan.ErrInvalidBoxSize, start,
				"body exceeds the %d-byte metadata limit", limit)
		}
		if err != nil {
			if errors.Is(err, mediasan.ErrUnexpectedEOF) {
				return out, nil
			}
			return nil, err
		}
	}
}

// encodeBox re-encodes a buffered box. Boxes framed with an explicit
// size keep their original header form; a to-end-of-file box gets a
// concrete size so it can be embedded mid-file.
func encodeBox(h BoxHeader, body []byte) []byte {
	headerLen := h.HeaderLen
	if h.ToEOF {
		headerLen = boxHeaderLen
		if uint64(len(body))+boxHeaderLen > uint32Max {
			headerLen = extHeaderLen
		}
	}
	raw := make([]byte, headerLen+uint64(len(body)))
	if headerLen == extHeaderLen {
		be.PutUint32(raw, 1)
		copy(raw[4:], h.Type[:])
		be.PutUint64(raw[8:], uint64(len(raw)))
	} else {
		be.PutUint32(raw, uint32(len(raw)))
		copy(raw[4:], h.Type[:])
	}
	copy(raw[headerLen:], body)
	return raw
}

func (s *sanitizer) finish() (*SanitizedMetadata, error) {
	end := s.in.Pos()
	if s.ftypRaw == nil {
		return nil, mediasan.Errorf(mediasan.ErrMissingRequiredBox, end, "no `ftyp`")
	}
	if s.movie == nil {
		return nil, mediasan.Errorf(mediasan.ErrMissingRequiredBox, end, "no `moov`")
	}
	if !s.haveMdat {
		return nil, mediasan.Errorf(mediasan.ErrMissingRequiredBox, end, "no `mdat`")
	}
	if s.mdatBody == 0 {
		for _, t := range s.movie.tracks {
			if t.sampleCount != 0 {
				return nil, mediasan.Errorf(mediasan.ErrMissingRequiredBox, s.mdat.Offset,
					"`mdat` is empty but `%s` holds %d samples", t.path, t.sampleCount)
			}
		}
	}
	for _, t := range s.movie.tracks {
		if err := validateTrack(t, s.mdat); err != nil {
			return nil, err
		}
	}

	metaLen, delta, err := s.layout()
	if err != nil {
		return nil, err
	}
	return &SanitizedMetadata{
		Metadata: s.emit(metaLen, delta),
		Data:     s.mdat,
	}, nil
}

// layout computes the rewritten metadata length and the chunk-offset
// displacement. Promoting an stco table to co64 grows the metadata,
// which can push further offsets past 32 bits, so promotion iterates
// to a fixed point; each pass only ever widens tables, so it
// terminates.
func (s *sanitizer) layout() (uint64, int64, error) {
	for {
		metaLen := uint64(len(s.ftypRaw))
		for _, raw := range s.pre {
			metaLen += uint64(len(raw))
		}
		moovLen := treeLen(s.movie.root)
		if moovLen > uint32Max {
			return 0, 0, mediasan.Errorf(mediasan.ErrArithmeticOverflow, 0,
				"rewritten `moov` of %d bytes does not fit a 32-bit box size", moovLen)
		}
		metaLen += moovLen
		for _, raw := range s.post {
			metaLen += uint64(len(raw))
		}
		if metaLen > math.MaxInt64 || s.mdat.Offset > math.MaxInt64 {
			return 0, 0, mediasan.Errorf(mediasan.ErrArithmeticOverflow, 0,
				"metadata length does not fit signed offset arithmetic")
		}
		delta := int64(metaLen) - int64(s.mdat.Offset)

		changed := false
		for _, co := range s.movie.coTables() {
			it := co.offsets()
			for {
				off, ok := it.Next()
				if !ok {
					break
				}
				if delta > 0 && off > math.MaxUint64-uint64(delta) {
					return 0, 0, mediasan.WithPath(mediasan.Errorf(mediasan.ErrArithmeticOverflow, off,
						"adjusted chunk offset overflows"), co.path)
				}
				if co.typ == TypeStco && !co.promoted && int64(off)+delta > uint32Max {
					co.promoted = true
					changed = true
					break
				}
			}
		}
		if !changed {
			return metaLen, delta, nil
		}
	}
}

// treeLen returns the encoded length of a parsed moov node.
func treeLen(n *node) uint64 {
	if n.co != nil {
		entrySize := uint64(4)
		if n.co.typ == TypeCo64 || n.co.promoted {
			entrySize = 8
		}
		return boxHeaderLen + 4 + 4 + entrySize*uint64(n.co.count)
	}
	if n.raw != nil {
		return uint64(len(n.raw))
	}
	total := uint64(boxHeaderLen)
	for _, k := range n.kids {
		total += treeLen(k)
	}
	return total
}

func (s *sanitizer) emit(metaLen uint64, delta int64) []byte {
	w := NewWriter(make([]byte, metaLen))
	w.PutBytes(s.ftypRaw)
	for _, raw := range s.pre {
		w.PutBytes(raw)
	}
	writeNode(&w, s.movie.root, delta)
	for _, raw := range s.post {
		w.PutBytes(raw)
	}
	return w.Bytes()
}

func writeNode(w *Writer, n *node, delta int64) {
	switch {
	case n.co != nil:
		wide := n.co.typ == TypeCo64 || n.co.promoted
		typ := TypeStco
		if wide {
			typ = TypeCo64
		}
		w.StartFullBox(typ, 0, 0)
		w.PutUint32(n.co.count)
		it := n.co.offsets()
		for {
			off, ok := it.Next()
			if !ok {
				break
			}
			adjusted := uint64(int64(off) + delta)
			if wide {
				w.PutUint64(adjusted)
			} else {
				w.PutUint32(uint32(adjusted))
			}
		}
		w.EndBox()
	case n.raw != nil:
		w.PutBytes(n.raw)
	default:
		w.StartBox(n.typ)
		for _, k := range n.kids {
			writeNode(w, k, delta)
		}
		w.EndBox()
	}
}
