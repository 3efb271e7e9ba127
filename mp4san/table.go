package mp4san

// Lazy iterators over sample-table entry arrays. The entry bytes have
// already been length-checked against the declared count when the box
// body was parsed, so Next never fails before Count entries.

// SttsEntry is one time-to-sample run.
type SttsEntry struct {
	Count    uint32
	Duration uint32
}

// SttsIter iterates over stts entries.
type SttsIter struct {
	entries []byte
	count   uint32
	index   uint32
}

// NewSttsIter creates an iterator over count stts entries.
func NewSttsIter(entries []byte, count uint32) SttsIter {
	return SttsIter{entries: entries, count: count}
}

// Count returns the total number of entries.
func (it *SttsIter) Count() uint32 { return it.count }

// Next returns the next entry. Returns false when done.
func (it *SttsIter) Next() (SttsEntry, bool) {
	if it.index >= it.count {
		return SttsEntry{}, false
	}
	off := int(it.index) * 8
	e := SttsEntry{
		Count:    be.Uint32(it.entries[off:]),
		Duration: be.Uint32(it.entries[off+4:]),
	}
	it.index++
	return e, true
}

// CttsEntry is one composition-offset run.
type CttsEntry struct {
	Count  uint32
	Offset int32 // unsigned in version 0, signed in version 1
}

// CttsIter iterates over ctts entries.
type CttsIter struct {
	entries []byte
	count   uint32
	index   uint32
}

// NewCttsIter creates an iterator over count ctts entries.
func NewCttsIter(entries []byte, count uint32) CttsIter {
	return CttsIter{entries: entries, count: count}
}

// Count returns the total number of entries.
func (it *CttsIter) Count() uint32 { return it.count }

// Next returns the next entry. Returns false when done.
func (it *CttsIter) Next() (CttsEntry, bool) {
	if it.index >= it.count {
		return CttsEntry{}, false
	}
	off := int(it.index) * 8
	e := CttsEntry{
		Count:  be.Uint32(it.entries[off:]),
		Offset: int32(be.Uint32(it.entries[off+4:])),
	}
	it.index++
	return e, true
}

// StscEntry is one sample-to-chunk run.
type StscEntry struct {
	FirstChunk             uint32
	SamplesPerChunk        uint32
	SampleDescriptionIndex uint32
}

// StscIter iterates over stsc entries.
type StscIter struct {
	entries []byte
	count   uint32
	index   uint32
}

// NewStscIter creates an iterator over count stsc entries.
func NewStscIter(entries []byte, count uint32) StscIter {
	return StscIter{entries: entries, count: count}
}

// Count returns the total number of entries.
func (it *StscIter) Count() uint32 { return it.count }

// Next returns the next entry. Returns false when done.
func (it *StscIter) Next() (StscEntry, bool) {
	if it.index >= it.count {
		return StscEntry{}, false
	}
	off := int(it.index) * 12
	e := StscEntry{
		FirstChunk:             be.Uint32(it.entries[off:]),
		SamplesPerChunk:        be.Uint32(it.entries[off+4:]),
		SampleDescriptionIndex: be.Uint32(it.entries[off+8:]),
	}
	it.index++
	return e, true
}

// SampleSizeIter yields per-sample sizes from either an stsz box (a
// constant size or 32-bit entries) or an stz2 box (4-, 8-, or 16-bit
// packed entries).
type SampleSizeIter struct {
	entries   []byte
	constSize uint32
	fieldBits uint8 // 4, 8, 16 or 32; 0 when constSize applies
	count     uint32
	index     uint32
}

// NewStszIter creates a sample-size iterator from stsz fields. When
// sampleSize is nonzero every sample has that size and entries is
// ignored.
func NewStszIter(sampleSize uint32, entries []byte, count uint32) SampleSizeIter {
	if sampleSize != 0 {
		return SampleSizeIter{constSize: sampleSize, count: count}
	}
	return SampleSizeIter{entries: entries, fieldBits: 32, count: count}
}

// NewStz2Iter creates a sample-size iterator over stz2 packed entries.
// fieldBits must be 4, 8 or 16.
func NewStz2Iter(fieldBits uint8, entries []byte, count uint32) SampleSizeIter {
	return SampleSizeIter{entries: entries, fieldBits: fieldBits, count: count}
}

// Count returns the total number of samples.
func (it *SampleSizeIter) Count() uint32 { return it.count }

// Next returns the next sample size. Returns (0, false) when done.
func (it *SampleSizeIter) Next() (uint32, bool) {
	if it.index >= it.count {
		return 0, false
	}
	var size uint32
	switch it.fieldBits {
	case 0:
		size = it.constSize
	case 4:
		b := it.entries[it.index/2]
		if it.index%2 == 0 {
			size = uint32(b >> 4)
		} else {
			size = uint32(b & 0x0f)
		}
	case 8:
		size = uint32(it.entries[it.index])
	case 16:
		size = uint32(be.Uint16(it.entries[int(it.index)*2:]))
	default:
		size = be.Uint32(it.entries[int(it.index)*4:])
	}
	it.index++
	return size, true
}

// Uint32Iter iterates over 32-bit entries (stco, stss).
type Uint32Iter struct {
	entries []byte
	count   uint32
	index   uint32
}

// NewUint32Iter creates an iterator over count 32-bit entries.
func NewUint32Iter(entries []byte, count uint32) Uint32Iter {
	return Uint32Iter{entries: entries, count: count}
}

// Count returns the total number of entries.
func (it *Uint32Iter) Count() uint32 { return it.count }

// Next returns the next entry. Returns (0, false) when done.
func (it *Uint32Iter) Next() (uint32, bool) {
	if it.index >= it.count {
		return 0, false
	}
	v := be.Uint32(it.entries[int(it.index)*4:])
	it.index++
	return v, true
}

// Co64Iter iterates over 64-bit chunk offsets in a co64 box.
type Co64Iter struct {
	entries []byte
	count   uint32
	index   uint32
}

// NewCo64Iter creates an iterator over count 64-bit entries.
func NewCo64Iter(entries []byte, count uint32) Co64Iter {
	return Co64Iter{entries: entries, count: count}
}

// Count returns the total number of entries.
func (it *Co64Iter) Count() uint32 { return it.count }

// Next returns the next chunk offset. Returns (0, false) when done.
func (it *Co64Iter) Next() (uint64, bool) {
	if it.index >= it.count {
		return 0, false
	}
	v := be.Uint64(it.entries[int(it.index)*8:])
	it.index++
	return v, true
}
