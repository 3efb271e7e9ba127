// Package mp4san validates ISO Base Media File Format (MP4) inputs and
// rewrites their metadata so that the presentation metadata forms a
// single contiguous prefix separate from the media-data payload.
//
// The sanitizer consumes a forward-only [mediasan.Input] in a single
// pass. It accepts the common top-level layouts (ftyp-moov-mdat,
// ftyp-mdat-moov, with interleaved free space), validates every sample
// table against its siblings, and emits a metadata blob whose
// stco/co64 chunk-offset tables are adjusted so that concatenating the
// blob with the original mdat payload yields a playable file.
package mp4san

import "github.com/tetsuo/mediasan"

// Known box types.
var (
	TypeFtyp = mediasan.FourCC{'f', 't', 'y', 'p'}
	TypeMoov = mediasan.FourCC{'m', 'o', 'o', 'v'}
	TypeMvhd = mediasan.FourCC{'m', 'v', 'h', 'd'}
	TypeTrak = mediasan.FourCC{'t', 'r', 'a', 'k'}
	TypeTkhd = mediasan.FourCC{'t', 'k', 'h', 'd'}
	TypeMdia = mediasan.FourCC{'m', 'd', 'i', 'a'}
	TypeMdhd = mediasan.FourCC{'m', 'd', 'h', 'd'}
	TypeHdlr = mediasan.FourCC{'h', 'd', 'l', 'r'}
	TypeMinf = mediasan.FourCC{'m', 'i', 'n', 'f'}
	TypeStbl = mediasan.FourCC{'s', 't', 'b', 'l'}
	TypeStsd = mediasan.FourCC{'s', 't', 's', 'd'}
	TypeStts = mediasan.FourCC{'s', 't', 't', 's'}
	TypeCtts = mediasan.FourCC{'c', 't', 't', 's'}
	TypeStsc = mediasan.FourCC{'s', 't', 's', 'c'}
	TypeStsz = mediasan.FourCC{'s', 't', 's', 'z'}
	TypeStz2 = mediasan.FourCC{'s', 't', 'z', '2'}
	TypeStco = mediasan.FourCC{'s', 't', 'c', 'o'}
	TypeCo64 = mediasan.FourCC{'c', 'o', '6', '4'}
	TypeStss = mediasan.FourCC{'s', 't', 's', 's'}
	TypeStsh = mediasan.FourCC{'s', 't', 's', 'h'}
	TypeSdtp = mediasan.FourCC{'s', 'd', 't', 'p'}
	// Data boxes
	TypeMdat = mediasan.FourCC{'m', 'd', 'a', 't'}
	TypeFree = mediasan.FourCC{'f', 'r', 'e', 'e'}
	TypeSkip = mediasan.FourCC{'s', 'k', 'i', 'p'}
	TypeWide = mediasan.FourCC{'w', 'i', 'd', 'e'}
	// Fragmented movie boxes (rejected)
	TypeMvex = mediasan.FourCC{'m', 'v', 'e', 'x'}
	TypeMoof = mediasan.FourCC{'m', 'o', 'o', 'f'}
	TypeMfra = mediasan.FourCC{'m', 'f', 'r', 'a'}
	TypeSidx = mediasan.FourCC{'s', 'i', 'd', 'x'}
	TypeStyp = mediasan.FourCC{'s', 't', 'y', 'p'}
)

// BrandIsom is the compatible brand the sanitizer requires in ftyp.
var BrandIsom = mediasan.FourCC{'i', 's', 'o', 'm'}

// isFreeSpace returns true for box types that carry no content and are
// dropped during rewriting.
func isFreeSpace(t mediasan.FourCC) bool {
	return t == TypeFree || t == TypeSkip || t == TypeWide
}

// isFragmentOnly returns true for top-level box types that only appear
// in fragmented files.
func isFragmentOnly(t mediasan.FourCC) bool {
	return t == TypeMoof || t == TypeMfra || t == TypeSidx || t == TypeStyp
}
