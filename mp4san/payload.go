package mp4san

import "github.com/tetsuo/mediasan"

// payload is a field cursor over a fully framed box body. Reads past
// the end of the body set a sticky error; callers chain field reads and
// check err once at the end.
type payload struct {
	buf  []byte
	off  uint64 // absolute offset of buf[0]
	pos  int
	path string
	err  error
}

func newPayload(body []byte, off uint64, path string) *payload {
	return &payload{buf: body, off: off, path: path}
}

func (p *payload) abs() uint64 {
	return p.off + uint64(p.pos)
}

func (p *payload) need(n int) bool {
	if p.err != nil {
		return false
	}
	if len(p.buf)-p.pos < n {
		p.err = mediasan.WithPath(mediasan.Errorf(mediasan.ErrInvalidBoxSize, p.abs(),
			"body ends %d bytes short of a declared field", n-(len(p.buf)-p.pos)), p.path)
		return false
	}
	return true
}

func (p *payload) u8() uint8 {
	if !p.need(1) {
		return 0
	}
	v := p.buf[p.pos]
	p.pos++
	return v
}

func (p *payload) u16() uint16 {
	if !p.need(2) {
		return 0
	}
	v := be.Uint16(p.buf[p.pos:])
	p.pos += 2
	return v
}

func (p *payload) u32() uint32 {
	if !p.need(4) {
		return 0
	}
	v := be.Uint32(p.buf[p.pos:])
	p.pos += 4
	return v
}

func (p *payload) u64() uint64 {
	if !p.need(8) {
		return 0
	}
	v := be.Uint64(p.buf[p.pos:])
	p.pos += 8
	return v
}

func (p *payload) fourcc() mediasan.FourCC {
	var v mediasan.FourCC
	if !p.need(4) {
		return v
	}
	copy(v[:], p.buf[p.pos:])
	p.pos += 4
	return v
}

func (p *payload) skip(n int) {
	if p.need(n) {
		p.pos += n
	}
}

func (p *payload) remaining() int {
	return len(p.buf) - p.pos
}

// versionFlags reads the 4-byte full-box prefix and validates the
// version against the allowed set. Flags are returned for the caller
// to interpret.
func (p *payload) versionFlags(allowed ...uint8) (uint8, uint32) {
	at := p.abs()
	vf := p.u32()
	if p.err != nil {
		return 0, 0
	}
	version := uint8(vf >> 24)
	for _, a := range allowed {
		if version == a {
			return version, vf & 0x00ffffff
		}
	}
	p.err = mediasan.WithPath(mediasan.Errorf(mediasan.ErrUnsupportedBoxVersion, at,
		"version %d", version), p.path)
	return 0, 0
}

// table reads a 32-bit entry count and returns it with the raw entry
// bytes, after checking that count entries of entrySize bytes fit in
// the remaining body. The multiplication is done in 64 bits so a huge
// declared count cannot wrap.
func (p *payload) table(entrySize int) (uint32, []byte) {
	at := p.abs()
	count := p.u32()
	if p.err != nil {
		return 0, nil
	}
	want := uint64(count) * uint64(entrySize)
	if want > uint64(p.remaining()) {
		p.err = mediasan.WithPath(mediasan.Errorf(mediasan.ErrInvalidBoxSize, at,
			"%d entries of %d bytes exceed the %d remaining body bytes",
			count, entrySize, p.remaining()), p.path)
		return 0, nil
	}
	entries := p.buf[p.pos : p.pos+int(want)]
	p.pos += int(want)
	return count, entries
}

// fail records a validation error at the cursor's current offset.
func (p *payload) fail(kind error, format string, args ...any) {
	if p.err == nil {
		p.err = mediasan.WithPath(mediasan.Errorf(kind, p.abs(), format, args...), p.path)
	}
}
