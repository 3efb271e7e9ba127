package mp4san

import (
	"fmt"

	"github.com/tetsuo/mediasan"
)

// node is one box in the parsed moov subtree. Containers on the path
// to the sample tables (moov, trak, mdia, minf, stbl) carry kids and
// are re-encoded with fresh headers during rewriting; everything else
// keeps its original encoding in raw and is copied through verbatim.
// A chunk-offset box carries co instead of raw so its entries can be
// adjusted in place at write time.
type node struct {
	typ  mediasan.FourCC
	raw  []byte
	kids []*node
	co   *coTable
}

// coTable holds a chunk-offset table pending adjustment. The entries
// stay in their original encoding; promoted marks an stco table that
// must be re-emitted as co64 because an adjusted offset no longer fits
// in 32 bits.
type coTable struct {
	typ      mediasan.FourCC
	count    uint32
	entries  []byte
	promoted bool
	path     string
}

// offsets returns an iterator over the table's original offsets,
// widened to 64 bits.
func (t *coTable) offsets() coIter {
	return coIter{t: t}
}

type coIter struct {
	t     *coTable
	index uint32
}

func (it *coIter) Next() (uint64, bool) {
	if it.index >= it.t.count {
		return 0, false
	}
	var v uint64
	if it.t.typ == TypeCo64 {
		v = be.Uint64(it.t.entries[int(it.index)*8:])
	} else {
		v = uint64(be.Uint32(it.t.entries[int(it.index)*4:]))
	}
	it.index++
	return v, true
}

// sampleTable collects one track's parsed sample tables for
// cross-validation. Entry arrays are kept raw and iterated lazily.
type sampleTable struct {
	path string

	descCount uint32 // stsd entry count

	sttsCount   uint32
	sttsEntries []byte

	hasCtts     bool
	cttsCount   uint32
	cttsEntries []byte

	stscCount   uint32
	stscEntries []byte

	sampleCount uint32
	constSize   uint32 // stsz sample_size, 0 when per-sample entries follow
	fieldBits   uint8  // stz2 field size; 0 for stsz
	sizeEntries []byte

	co *coTable

	hasStss     bool
	stssCount   uint32
	stssEntries []byte

	hasStsh     bool
	stshCount   uint32
	stshEntries []byte

	hasSdtp bool
	sdtpLen int
}

// sizes returns an iterator over the track's per-sample sizes.
func (t *sampleTable) sizes() SampleSizeIter {
	if t.fieldBits != 0 {
		return NewStz2Iter(t.fieldBits, t.sizeEntries, t.sampleCount)
	}
	return NewStszIter(t.constSize, t.sizeEntries, t.sampleCount)
}

// movie is the parsed moov box: the rebuildable tree plus the
// per-track sample tables extracted from it.
type movie struct {
	root   *node
	tracks []*sampleTable
}

// coTables returns every chunk-offset table in track order.
func (m *movie) coTables() []*coTable {
	cos := make([]*coTable, len(m.tracks))
	for i, t := range m.tracks {
		cos[i] = t.co
	}
	return cos
}

// parseMoov parses a buffered moov body rooted at absolute offset
// base. toEOF marks a moov framed with the to-end-of-file sentinel,
// whose terminal child may use the sentinel too.
func parseMoov(body []byte, base uint64, toEOF bool) (*movie, error) {
	m := &movie{root: &node{typ: TypeMoov}}
	w := newWalker(body, base, "moov")
	w.eof = toEOF
	sawMvhd := false
	for {
		h, ok, err := w.next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		switch h.Type {
		case TypeMvhd:
			if sawMvhd {
				return nil, w.fail(mediasan.Errorf(mediasan.ErrInvalidBoxLayout, h.Offset,
					"more than one `mvhd`"))
			}
			sawMvhd = true
			if err := checkMvhd(w.body(h), h.BodyOffset(), w.path); err != nil {
				return nil, err
			}
			m.root.kids = append(m.root.kids, &node{typ: h.Type, raw: w.encode(h)})
		case TypeTrak:
			path := fmt.Sprintf("moov/trak[%d]", len(m.tracks))
			trak, table, err := parseTrak(w.sub(h, ""), path)
			if err != nil {
				return nil, err
			}
			m.root.kids = append(m.root.kids, trak)
			m.tracks = append(m.tracks, table)
		case TypeMvex:
			return nil, w.fail(mediasan.Errorf(mediasan.ErrUnsupportedFragmented, h.Offset,
				"`mvex` declares movie fragments"))
		default:
			m.root.kids = append(m.root.kids, &node{typ: h.Type, raw: w.encode(h)})
		}
	}
	if !sawMvhd {
		return nil, mediasan.WithPath(mediasan.Errorf(mediasan.ErrMissingRequiredBox, base, "no `mvhd`"), "moov")
	}
	if len(m.tracks) == 0 {
		return nil, mediasan.WithPath(mediasan.Errorf(mediasan.ErrMissingRequiredBox, base, "no `trak`"), "moov")
	}
	return m, nil
}

func parseTrak(w *walker, path string) (*node, *sampleTable, error) {
	w.path = path
	trak := &node{typ: TypeTrak}
	var table *sampleTable
	sawTkhd := false
	for {
		h, ok, err := w.next()
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			break
		}
		switch h.Type {
		case TypeTkhd:
			if sawTkhd {
				return nil, nil, w.fail(mediasan.Errorf(mediasan.ErrInvalidBoxLayout, h.Offset,
					"more than one `tkhd`"))
			}
			sawTkhd = true
			if err := checkTkhd(w.body(h), h.BodyOffset(), path); err != nil {
				return nil, nil, err
			}
			trak.kids = append(trak.kids, &node{typ: h.Type, raw: w.encode(h)})
		case TypeMdia:
			if table != nil {
				return nil, nil, w.fail(mediasan.Errorf(mediasan.ErrInvalidBoxLayout, h.Offset,
					"more than one `mdia`"))
			}
			mdia, t, err := parseMdia(w.sub(h, "mdia"), path+"/mdia")
			if err != nil {
				return nil, nil, err
			}
			trak.kids = append(trak.kids, mdia)
			table = t
		default:
			trak.kids = append(trak.kids, &node{typ: h.Type, raw: w.encode(h)})
		}
	}
	if !sawTkhd {
		return nil, nil, mediasan.WithPath(mediasan.Errorf(mediasan.ErrMissingRequiredBox, w.base, "no `tkhd`"), path)
	}
	if table == nil {
		return nil, nil, mediasan.WithPath(mediasan.Errorf(mediasan.ErrMissingRequiredBox, w.base, "no `mdia`"), path)
	}
	return trak, table, nil
}

func parseMdia(w *walker, path string) (*node, *sampleTable, error) {
	mdia := &node{typ: TypeMdia}
	var table *sampleTable
	sawMdhd, sawHdlr := false, false
	for {
		h, ok, err := w.next()
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			break
		}
		switch h.Type {
		case TypeMdhd:
			if sawMdhd {
				return nil, nil, w.fail(mediasan.Errorf(mediasan.ErrInvalidBoxLayout, h.Offset,
					"more than one `mdhd`"))
			}
			sawMdhd = true
			if err := checkMdhd(w.body(h), h.BodyOffset(), path); err != nil {
				return nil, nil, err
			}
			mdia.kids = append(mdia.kids, &node{typ: h.Type, raw: w.encode(h)})
		case TypeHdlr:
			if sawHdlr {
				return nil, nil, w.fail(mediasan.Errorf(mediasan.ErrInvalidBoxLayout, h.Offset,
					"more than one `hdlr`"))
			}
			sawHdlr = true
			if err := checkHdlr(w.body(h), h.BodyOffset(), path); err != nil {
				return nil, nil, err
			}
			mdia.kids = append(mdia.kids, &node{typ: h.Type, raw: w.encode(h)})
		case TypeMinf:
			if table != nil {
				return nil, nil, w.fail(mediasan.Errorf(mediasan.ErrInvalidBoxLayout, h.Offset,
					"more than one `minf`"))
			}
			minf, t, err := parseMinf(w.sub(h, "minf"), path+"/minf")
			if err != nil {
				return nil, nil, err
			}
			mdia.kids = append(mdia.kids, minf)
			table = t
		default:
			mdia.kids = append(mdia.kids, &node{typ: h.Type, raw: w.encode(h)})
		}
	}
	if !sawMdhd {
		return nil, nil, mediasan.WithPath(mediasan.Errorf(mediasan.ErrMissingRequiredBox, w.base, "no `mdhd`"), path)
	}
	if !sawHdlr {
		return nil, nil, mediasan.WithPath(mediasan.Errorf(mediasan.ErrMissingRequiredBox, w.base, "no `hdlr`"), path)
	}
	if table == nil {
		return nil, nil, mediasan.WithPath(mediasan.Errorf(mediasan.ErrMissingRequiredBox, w.base, "no `minf`"), path)
	}
	return mdia, table, nil
}

func parseMinf(w *walker, path string) (*node, *sampleTable, error) {
	minf := &node{typ: TypeMinf}
	var table *sampleTable
	for {
		h, ok, err := w.next()
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			break
		}
		if h.Type == TypeStbl {
			if table != nil {
				return nil, nil, w.fail(mediasan.Errorf(mediasan.ErrInvalidBoxLayout, h.Offset,
					"more than one `stbl`"))
			}
			stbl, t, err := parseStbl(w.sub(h, "stbl"), path+"/stbl")
			if err != nil {
				return nil, nil, err
			}
			minf.kids = append(minf.kids, stbl)
			table = t
			continue
		}
		minf.kids = append(minf.kids, &node{typ: h.Type, raw: w.encode(h)})
	}
	if table == nil {
		return nil, nil, mediasan.WithPath(mediasan.Errorf(mediasan.ErrMissingRequiredBox, w.base, "no `stbl`"), path)
	}
	return minf, table, nil
}

func parseStbl(w *walker, path string) (*node, *sampleTable, error) {
	stbl := &node{typ: TypeStbl}
	table := &sampleTable{path: path}
	var sawStsd, sawStts, sawStsc, sawSize, sawCo bool
	for {
		h, ok, err := w.next()
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			break
		}
		child := &node{typ: h.Type, raw: w.encode(h)}
		body, at := w.body(h), h.BodyOffset()
		boxPath := path + "/" + h.Type.String()
		switch h.Type {
		case TypeStsd:
			if sawStsd {
				return nil, nil, dupBox(w, h)
			}
			sawStsd = true
			table.descCount, err = parseStsd(body, at, boxPath, h.ToEOF)
		case TypeStts:
			if sawStts {
				return nil, nil, dupBox(w, h)
			}
			sawStts = true
			p := newPayload(body, at, boxPath)
			p.versionFlags(0)
			table.sttsCount, table.sttsEntries = p.table(8)
			err = p.err
		case TypeCtts:
			if table.hasCtts {
				return nil, nil, dupBox(w, h)
			}
			table.hasCtts = true
			p := newPayload(body, at, boxPath)
			p.versionFlags(0, 1)
			table.cttsCount, table.cttsEntries = p.table(8)
			err = p.err
		case TypeStsc:
			if sawStsc {
				return nil, nil, dupBox(w, h)
			}
			sawStsc = true
			p := newPayload(body, at, boxPath)
			p.versionFlags(0)
			table.stscCount, table.stscEntries = p.table(12)
			err = p.err
		case TypeStsz:
			if sawSize {
				return nil, nil, dupBox(w, h)
			}
			sawSize = true
			err = parseStsz(body, at, boxPath, table)
		case TypeStz2:
			if sawSize {
				return nil, nil, dupBox(w, h)
			}
			sawSize = true
			err = parseStz2(body, at, boxPath, table)
		case TypeStco, TypeCo64:
			if sawCo {
				return nil, nil, dupBox(w, h)
			}
			sawCo = true
			p := newPayload(body, at, boxPath)
			p.versionFlags(0)
			entrySize := 4
			if h.Type == TypeCo64 {
				entrySize = 8
			}
			count, entries := p.table(entrySize)
			if p.err != nil {
				err = p.err
				break
			}
			table.co = &coTable{typ: h.Type, count: count, entries: entries, path: boxPath}
			child.raw = nil
			child.co = table.co
		case TypeStss:
			if table.hasStss {
				return nil, nil, dupBox(w, h)
			}
			table.hasStss = true
			p := newPayload(body, at, boxPath)
			p.versionFlags(0)
			table.stssCount, table.stssEntries = p.table(4)
			err = p.err
		case TypeStsh:
			if table.hasStsh {
				return nil, nil, dupBox(w, h)
			}
			table.hasStsh = true
			p := newPayload(body, at, boxPath)
			p.versionFlags(0)
			table.stshCount, table.stshEntries = p.table(8)
			err = p.err
		case TypeSdtp:
			if table.hasSdtp {
				return nil, nil, dupBox(w, h)
			}
			table.hasSdtp = true
			p := newPayload(body, at, boxPath)
			p.versionFlags(0)
			table.sdtpLen = p.remaining()
			err = p.err
		}
		if err != nil {
			return nil, nil, err
		}
		stbl.kids = append(stbl.kids, child)
	}
	switch {
	case !sawStsd:
		return nil, nil, missingBox(w, path, "stsd")
	case !sawStts:
		return nil, nil, missingBox(w, path, "stts")
	case !sawStsc:
		return nil, nil, missingBox(w, path, "stsc")
	case !sawSize:
		return nil, nil, missingBox(w, path, "stsz")
	case !sawCo:
		return nil, nil, missingBox(w, path, "stco")
	}
	return stbl, table, nil
}

func dupBox(w *walker, h BoxHeader) error {
	return w.fail(mediasan.Errorf(mediasan.ErrInvalidBoxLayout, h.Offset,
		"more than one `%s`", h.Type))
}

func missingBox(w *walker, path, name string) error {
	return mediasan.WithPath(mediasan.Errorf(mediasan.ErrMissingRequiredBox, w.base, "no `%s`", name), path)
}

// parseStsd validates the stsd framing and returns its entry count.
// Sample entries are codec-specific and kept opaque; only their box
// structure and the declared count are checked.
func parseStsd(body []byte, at uint64, path string, toEOF bool) (uint32, error) {
	p := newPayload(body, at, path)
	p.versionFlags(0)
	count := p.u32()
	if p.err != nil {
		return 0, p.err
	}
	ew := newWalker(body[p.pos:], at+uint64(p.pos), path)
	ew.eof = toEOF
	var n uint32
	for {
		_, ok, err := ew.next()
		if err != nil {
			return 0, err
		}
		if !ok {
			break
		}
		n++
	}
	if n != count {
		return 0, mediasan.WithPath(mediasan.Errorf(mediasan.ErrInvalidBoxLayout, at,
			"declares %d entries but contains %d", count, n), path)
	}
	return count, nil
}

func parseStsz(body []byte, at uint64, path string, table *sampleTable) error {
	p := newPayload(body, at, path)
	p.versionFlags(0)
	table.constSize = p.u32()
	table.sampleCount = p.u32()
	if p.err != nil {
		return p.err
	}
	if table.constSize == 0 {
		want := uint64(table.sampleCount) * 4
		if want > uint64(p.remaining()) {
			p.fail(mediasan.ErrInvalidBoxSize,
				"%d size entries exceed the %d remaining body bytes", table.sampleCount, p.remaining())
			return p.err
		}
		table.sizeEntries = body[p.pos : p.pos+int(want)]
	}
	return nil
}

func parseStz2(body []byte, at uint64, path string, table *sampleTable) error {
	p := newPayload(body, at, path)
	p.versionFlags(0)
	p.skip(3) // reserved
	fieldBits := p.u8()
	table.sampleCount = p.u32()
	if p.err != nil {
		return p.err
	}
	switch fieldBits {
	case 4, 8, 16:
	default:
		p.fail(mediasan.ErrInvalidBoxSize, "field size %d is not 4, 8 or 16", fieldBits)
		return p.err
	}
	table.fieldBits = fieldBits
	want := (uint64(table.sampleCount)*uint64(fieldBits) + 7) / 8
	if want > uint64(p.remaining()) {
		p.fail(mediasan.ErrInvalidBoxSize,
			"%d packed size entries exceed the %d remaining body bytes", table.sampleCount, p.remaining())
		return p.err
	}
	table.sizeEntries = body[p.pos : p.pos+int(want)]
	return nil
}

// checkMvhd validates the movie header's version and length.
func checkMvhd(body []byte, at uint64, path string) error {
	p := newPayload(body, at, path+"/mvhd")
	version, _ := p.versionFlags(0, 1)
	if version == 1 {
		p.skip(108)
	} else {
		p.skip(96)
	}
	return p.err
}

func checkTkhd(body []byte, at uint64, path string) error {
	p := newPayload(body, at, path+"/tkhd")
	version, _ := p.versionFlags(0, 1)
	if version == 1 {
		p.skip(92)
	} else {
		p.skip(80)
	}
	return p.err
}

func checkMdhd(body []byte, at uint64, path string) error {
	p := newPayload(body, at, path+"/mdhd")
	version, _ := p.versionFlags(0, 1)
	if version == 1 {
		p.skip(32)
	} else {
		p.skip(20)
	}
	return p.err
}

func checkHdlr(body []byte, at uint64, path string) error {
	p := newPayload(body, at, path+"/hdlr")
	p.versionFlags(0)
	p.skip(20) // predefined, handler type, reserved
	return p.err
}
