package mp4san

import (
	"math"

	"github.com/tetsuo/mediasan"
)

// validateTrack checks one track's sample tables against each other and
// against the media-data span. The stsz/stz2 sample count is the
// authority every other table must agree with.
func validateTrack(t *sampleTable, mdat mediasan.InputSpan) error {
	n := uint64(t.sampleCount)

	if total := sumRunCounts(NewSttsIter(t.sttsEntries, t.sttsCount)); total != n {
		return crossRef(t, "stts", "covers %d samples, sample size table has %d", total, n)
	}
	if t.hasCtts {
		it := NewCttsIter(t.cttsEntries, t.cttsCount)
		var total uint64
		for {
			e, ok := it.Next()
			if !ok {
				break
			}
			total += uint64(e.Count)
		}
		if total != n {
			return crossRef(t, "ctts", "covers %d samples, sample size table has %d", total, n)
		}
	}
	if t.hasStss {
		if err := checkSampleNumbers(t, "stss", NewUint32Iter(t.stssEntries, t.stssCount)); err != nil {
			return err
		}
	}
	if t.hasStsh {
		it := NewUint32Iter(t.stshEntries, t.stshCount*2)
		for {
			num, ok := it.Next()
			if !ok {
				break
			}
			if num == 0 || uint64(num) > n {
				return crossRef(t, "stsh", "references sample %d of %d", num, n)
			}
		}
	}
	if t.hasSdtp && uint64(t.sdtpLen) != n {
		return crossRef(t, "sdtp", "describes %d samples, sample size table has %d", t.sdtpLen, n)
	}

	return walkChunks(t, mdat)
}

// walkChunks expands the sample-to-chunk runs over every chunk,
// checking referential integrity and that each chunk's claimed bytes
// lie inside the media data.
func walkChunks(t *sampleTable, mdat mediasan.InputSpan) error {
	chunkCount := t.co.count

	// Run starts must begin at chunk 1, strictly increase, and stay
	// within the chunk-offset table.
	pre := NewStscIter(t.stscEntries, t.stscCount)
	var prevFirst uint32
	for {
		e, ok := pre.Next()
		if !ok {
			break
		}
		if prevFirst == 0 && e.FirstChunk != 1 {
			return crossRef(t, "stsc", "first run starts at chunk %d, not 1", e.FirstChunk)
		}
		if prevFirst != 0 && e.FirstChunk <= prevFirst {
			return crossRef(t, "stsc", "run starting at chunk %d does not advance past chunk %d",
				e.FirstChunk, prevFirst)
		}
		if e.FirstChunk > chunkCount {
			return crossRef(t, "stsc", "run starting at chunk %d exceeds the %d chunks in the offset table",
				e.FirstChunk, chunkCount)
		}
		if e.SampleDescriptionIndex == 0 || e.SampleDescriptionIndex > t.descCount {
			return crossRef(t, "stsc", "references sample description %d of %d",
				e.SampleDescriptionIndex, t.descCount)
		}
		prevFirst = e.FirstChunk
	}
	if t.stscCount == 0 && (chunkCount != 0 || t.sampleCount != 0) {
		return crossRef(t, "stsc", "empty but there are %d chunks and %d samples", chunkCount, t.sampleCount)
	}

	sizes := t.sizes()
	offsets := t.co.offsets()
	it := NewStscIter(t.stscEntries, t.stscCount)
	cur, _ := it.Next()
	next, haveNext := it.Next()

	var consumed uint64
	for chunk := uint32(1); chunk <= chunkCount; chunk++ {
		if haveNext && chunk == next.FirstChunk {
			cur = next
			next, haveNext = it.Next()
		}

		offset, _ := offsets.Next()
		var chunkBytes uint64
		for s := uint32(0); s < cur.SamplesPerChunk; s++ {
			size, ok := sizes.Next()
			if !ok {
				return crossRef(t, "stsc", "chunks claim more than the %d samples in the size table",
					t.sampleCount)
			}
			chunkBytes += uint64(size)
			consumed++
		}
		if chunkBytes > math.MaxUint64-offset {
			return mediasan.WithPath(mediasan.Errorf(mediasan.ErrArithmeticOverflow, offset,
				"chunk %d extends past the maximum input length", chunk), t.path+"/"+t.co.typ.String())
		}
		if offset < mdat.Offset || offset+chunkBytes > mdat.End() {
			return mediasan.WithPath(mediasan.Errorf(mediasan.ErrInvalidCrossReference, offset,
				"chunk %d [0x%x, 0x%x) lies outside media data [0x%x, 0x%x)",
				chunk, offset, offset+chunkBytes, mdat.Offset, mdat.End()),
				t.path+"/"+t.co.typ.String())
		}
	}
	if consumed != uint64(t.sampleCount) {
		return crossRef(t, "stsc", "chunks hold %d samples, sample size table has %d",
			consumed, t.sampleCount)
	}
	return nil
}

func checkSampleNumbers(t *sampleTable, box string, it Uint32Iter) error {
	var prev uint32
	for {
		num, ok := it.Next()
		if !ok {
			return nil
		}
		if num == 0 || uint64(num) > uint64(t.sampleCount) {
			return crossRef(t, box, "references sample %d of %d", num, t.sampleCount)
		}
		if num <= prev {
			return crossRef(t, box, "sample numbers not strictly increasing at %d", num)
		}
		prev = num
	}
}

func sumRunCounts(it SttsIter) uint64 {
	var total uint64
	for {
		e, ok := it.Next()
		if !ok {
			return total
		}
		total += uint64(e.Count)
	}
}

func crossRef(t *sampleTable, box, format string, args ...any) error {
	return mediasan.WithPath(mediasan.Errorf(mediasan.ErrInvalidCrossReference, 0, "`"+box+"` "+format, args...),
		t.path+"/"+box)
}
