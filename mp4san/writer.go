package mp4san

import "github.com/tetsuo/mediasan"

const maxDepth = 16

// writerFrame tracks the start offset of a box for size backpatching.
type writerFrame struct {
	offset int
}

// Writer encodes boxes into a byte buffer. The buffer must be large
// enough for everything written; the sanitizer computes exact output
// lengths before writing, and tests size their fixtures up front.
type Writer struct {
	buf   []byte
	pos   int
	stack [maxDepth]writerFrame
	depth int
}

// NewWriter creates a Writer that writes into buf.
func NewWriter(buf []byte) Writer {
	return Writer{buf: buf[:cap(buf)]}
}

// Bytes returns the written data.
func (w *Writer) Bytes() []byte {
	return w.buf[:w.pos]
}

// Len returns the number of bytes written.
func (w *Writer) Len() int { return w.pos }

// PutUint8 appends a single byte.
func (w *Writer) PutUint8(v byte) {
	w.buf[w.pos] = v
	w.pos++
}

// PutUint16 appends a big-endian uint16.
func (w *Writer) PutUint16(v uint16) {
	be.PutUint16(w.buf[w.pos:], v)
	w.pos += 2
}

// PutUint32 appends a big-endian uint32.
func (w *Writer) PutUint32(v uint32) {
	be.PutUint32(w.buf[w.pos:], v)
	w.pos += 4
}

// PutUint64 appends a big-endian uint64.
func (w *Writer) PutUint64(v uint64) {
	be.PutUint64(w.buf[w.pos:], v)
	w.pos += 8
}

// PutBytes appends raw bytes.
func (w *Writer) PutBytes(p []byte) {
	copy(w.buf[w.pos:], p)
	w.pos += len(p)
}

// PutZeros appends n zero bytes.
func (w *Writer) PutZeros(n int) {
	clear(w.buf[w.pos : w.pos+n])
	w.pos += n
}

// StartBox begins a new box. Write content, then call EndBox.
func (w *Writer) StartBox(t mediasan.FourCC) {
	w.stack[w.depth] = writerFrame{offset: w.pos}
	w.depth++
	w.PutUint32(0) // placeholder size
	w.PutBytes(t[:])
}

// StartFullBox begins a new full box with version and flags.
func (w *Writer) StartFullBox(t mediasan.FourCC, version uint8, flags uint32) {
	w.StartBox(t)
	w.PutUint32((uint32(version) << 24) | (flags & 0x00ffffff))
}

// EndBox finishes the current box by backpatching its size.
func (w *Writer) EndBox() {
	w.depth--
	f := w.stack[w.depth]
	be.PutUint32(w.buf[f.offset:], uint32(w.pos-f.offset))
}

// WriteFtyp writes a complete ftyp box.
func (w *Writer) WriteFtyp(brand mediasan.FourCC, brandVersion uint32, compat []mediasan.FourCC) {
	w.StartBox(TypeFtyp)
	w.PutBytes(brand[:])
	w.PutUint32(brandVersion)
	for _, c := range compat {
		w.PutBytes(c[:])
	}
	w.EndBox()
}
