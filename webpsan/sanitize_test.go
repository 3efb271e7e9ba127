package webpsan_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/tetsuo/mediasan"
	"github.com/tetsuo/mediasan/webpsan"
)

var le = binary.LittleEndian

// chunk encodes one RIFF chunk with its pad byte.
func chunk(typ string, body []byte) []byte {
	out := make([]byte, 0, 8+len(body)+1)
	out = append(out, typ...)
	var l [4]byte
	le.PutUint32(l[:], uint32(len(body)))
	out = append(out, l[:]...)
	out = append(out, body...)
	if len(body)%2 == 1 {
		out = append(out, 0)
	}
	return out
}

// webpFile wraps chunks in a RIFF/WEBP container.
func webpFile(chunks ...[]byte) []byte {
	body := []byte("WEBP")
	for _, c := range chunks {
		body = append(body, c...)
	}
	out := []byte("RIFF")
	var l [4]byte
	le.PutUint32(l[:], uint32(len(body)))
	out = append(out, l[:]...)
	return append(out, body...)
}

// vp8l encodes a lossless stream header for the given dimensions plus
// n bytes of dummy stream data.
func vp8l(w, h uint32, n int) []byte {
	bits := (w - 1) | (h-1)<<14
	body := make([]byte, 5+n)
	body[0] = 0x2f
	le.PutUint32(body[1:], bits)
	return chunk("VP8L", body)
}

func vp8(n int) []byte {
	return chunk("VP8 ", make([]byte, n))
}

// vp8x encodes an extended header with the given flags and canvas.
func vp8x(flags byte, w, h uint32) []byte {
	body := make([]byte, 10)
	body[0] = flags
	putU24(body[4:], w-1)
	putU24(body[7:], h-1)
	return chunk("VP8X", body)
}

func putU24(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
}

func anim() []byte {
	return chunk("ANIM", make([]byte, 6))
}

// anmf encodes a frame at (x, y) of w×h holding the given chunks.
func anmf(x, y, w, h uint32, inner ...[]byte) []byte {
	body := make([]byte, 16)
	putU24(body[0:], x/2)
	putU24(body[3:], y/2)
	putU24(body[6:], w-1)
	putU24(body[9:], h-1)
	putU24(body[12:], 100) // duration
	for _, c := range inner {
		body = append(body, c...)
	}
	return chunk("ANMF", body)
}

func alph(flags byte, n int) []byte {
	body := make([]byte, 1+n)
	body[0] = flags
	return chunk("ALPH", body)
}

func TestSanitizeValid(t *testing.T) {
	tests := []struct {
		name string
		file []byte
	}{
		{"simple lossy", webpFile(vp8(20))},
		{"simple lossless", webpFile(vp8l(640, 480, 10))},
		{"odd length lossless", webpFile(vp8l(16, 16, 4))},
		{"extended lossy", webpFile(vp8x(0, 640, 480), vp8(20))},
		{"extended lossless", webpFile(vp8x(0, 640, 480), vp8l(640, 480, 10))},
		{"alpha", webpFile(vp8x(webpsan.FlagALPH, 64, 64), alph(0, 10), vp8(20))},
		{"alpha lossless compression", webpFile(vp8x(webpsan.FlagALPH, 64, 64), alph(1, 10), vp8(20))},
		{"iccp", webpFile(vp8x(webpsan.FlagICCP, 64, 64), chunk("ICCP", make([]byte, 32)), vp8(20))},
		{"exif", webpFile(vp8x(webpsan.FlagEXIF, 64, 64), vp8(20), chunk("EXIF", make([]byte, 7)))},
		{"xmp", webpFile(vp8x(webpsan.FlagXMP, 64, 64), vp8(20), chunk("XMP ", make([]byte, 7)))},
		{"exif then xmp", webpFile(vp8x(webpsan.FlagEXIF|webpsan.FlagXMP, 64, 64),
			vp8(20), chunk("EXIF", make([]byte, 4)), chunk("XMP ", make([]byte, 4)))},
		{"unknown trailing chunk", webpFile(vp8x(0, 64, 64), vp8(20), chunk("TEST", []byte("hi")))},
		{"animation", webpFile(vp8x(webpsan.FlagANIM, 64, 64), anim(),
			anmf(0, 0, 64, 64, vp8(20)), anmf(32, 32, 32, 32, vp8l(32, 32, 4)))},
		{"animation no frames", webpFile(vp8x(webpsan.FlagANIM, 64, 64), anim())},
		{"animation frame alpha", webpFile(vp8x(webpsan.FlagANIM|webpsan.FlagALPH, 64, 64), anim(),
			anmf(0, 0, 64, 64, alph(0, 10), vp8(20)))},
		{"animation frame no alpha", webpFile(vp8x(webpsan.FlagANIM|webpsan.FlagALPH, 64, 64), anim(),
			anmf(0, 0, 64, 64, vp8(20)))},
		{"animation frame unknown trailing", webpFile(vp8x(webpsan.FlagANIM, 64, 64), anim(),
			anmf(0, 0, 64, 64, vp8(20), chunk("TEST", []byte("x"))))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := webpsan.SanitizeBytes(tt.file); err != nil {
				t.Fatal(err)
			}
		})
	}
}

func TestSanitizeInvalid(t *testing.T) {
	badSig := vp8l(64, 64, 0)
	badSig[8] = 0x2e

	badVersion := vp8l(64, 64, 0)
	badVersion[12] |= 0xe0 // version bits

	shortVP8X := chunk("VP8X", make([]byte, 6))

	reservedVP8X := vp8x(0, 64, 64)
	reservedVP8X[8] |= 0x80

	reservedALPH := alph(0x40, 4)

	badCompressionALPH := alph(3, 4)

	tests := []struct {
		name string
		file []byte
		want error
	}{
		{"empty", nil, mediasan.ErrUnexpectedEOF},
		{"not riff", append([]byte("JUNKJUNKJUNK"), make([]byte, 8)...), mediasan.ErrUnsupportedFormat},
		{"not webp form", func() []byte {
			f := webpFile(vp8(8))
			copy(f[8:], "WAVE")
			return f
		}(), mediasan.ErrUnsupportedFormat},
		{"riff length short", append([]byte("RIFF\x02\x00\x00\x00WE"), make([]byte, 2)...), mediasan.ErrInvalidChunkSize},
		{"no image chunk", webpFile(), mediasan.ErrMissingRequiredBox},
		{"first chunk not image", webpFile(chunk("EXIF", make([]byte, 4))), mediasan.ErrInvalidChunkLayout},
		{"chunk exceeds riff", func() []byte {
			f := webpFile(vp8(8))
			le.PutUint32(f[16:], 1000) // VP8 chunk length
			return f
		}(), mediasan.ErrInvalidChunkSize},
		{"truncated chunk body", webpFile(vp8(8))[:20], mediasan.ErrUnexpectedEOF},
		{"chunk after simple image", webpFile(vp8(8), chunk("EXIF", nil)), mediasan.ErrInvalidChunkLayout},
		{"bad lossless signature", webpFile(badSig), mediasan.ErrInvalidChunkLayout},
		{"lossless version nonzero", webpFile(badVersion), mediasan.ErrUnsupportedBoxVersion},
		{"lossless too short", webpFile(chunk("VP8L", []byte{0x2f, 0, 0})), mediasan.ErrInvalidChunkSize},
		{"vp8x wrong size", webpFile(shortVP8X, vp8(8)), mediasan.ErrInvalidChunkSize},
		{"vp8x reserved bits", webpFile(reservedVP8X, vp8(8)), mediasan.ErrInvalidChunkLayout},
		{"canvas mismatch", webpFile(vp8x(0, 64, 64), vp8l(32, 32, 0)), mediasan.ErrInvalidCrossReference},
		{"alpha flag without chunk", webpFile(vp8x(webpsan.FlagALPH, 64, 64), vp8(8)), mediasan.ErrInvalidChunkLayout},
		{"alpha chunk without flag", webpFile(vp8x(0, 64, 64), alph(0, 4), vp8(8)), mediasan.ErrInvalidChunkLayout},
		{"alpha reserved bits", webpFile(vp8x(webpsan.FlagALPH, 64, 64), reservedALPH, vp8(8)), mediasan.ErrInvalidChunkLayout},
		{"alpha bad compression", webpFile(vp8x(webpsan.FlagALPH, 64, 64), badCompressionALPH, vp8(8)), mediasan.ErrInvalidChunkLayout},
		{"iccp flag without chunk", webpFile(vp8x(webpsan.FlagICCP, 64, 64), vp8(8)), mediasan.ErrInvalidChunkLayout},
		{"iccp after image", webpFile(vp8x(webpsan.FlagICCP, 64, 64), vp8(8), chunk("ICCP", make([]byte, 4))), mediasan.ErrInvalidChunkLayout},
		{"exif missing at end", webpFile(vp8x(webpsan.FlagEXIF, 64, 64), vp8(8)), mediasan.ErrMissingRequiredBox},
		{"xmp before exif", webpFile(vp8x(webpsan.FlagEXIF|webpsan.FlagXMP, 64, 64),
			vp8(8), chunk("XMP ", make([]byte, 4)), chunk("EXIF", make([]byte, 4))), mediasan.ErrInvalidChunkLayout},
		{"exif without flag", webpFile(vp8x(0, 64, 64), vp8(8), chunk("EXIF", make([]byte, 4))), mediasan.ErrInvalidChunkLayout},
		{"anim flag without chunk", webpFile(vp8x(webpsan.FlagANIM, 64, 64), vp8(8)), mediasan.ErrInvalidChunkLayout},
		{"anim wrong size", webpFile(vp8x(webpsan.FlagANIM, 64, 64), chunk("ANIM", make([]byte, 4))), mediasan.ErrInvalidChunkSize},
		{"anmf without anim flag", webpFile(vp8x(0, 64, 64), anmf(0, 0, 64, 64, vp8(8))), mediasan.ErrInvalidChunkLayout},
		{"frame exceeds canvas", webpFile(vp8x(webpsan.FlagANIM, 64, 64), anim(),
			anmf(32, 32, 64, 64, vp8(8))), mediasan.ErrInvalidCrossReference},
		{"frame dims mismatch lossless", webpFile(vp8x(webpsan.FlagANIM, 64, 64), anim(),
			anmf(0, 0, 64, 64, vp8l(32, 32, 0))), mediasan.ErrInvalidCrossReference},
		{"frame header short", webpFile(vp8x(webpsan.FlagANIM, 64, 64), anim(),
			chunk("ANMF", make([]byte, 8))), mediasan.ErrInvalidChunkSize},
		{"nested vp8x in frame", webpFile(vp8x(webpsan.FlagANIM, 64, 64), anim(),
			anmf(0, 0, 64, 64, vp8(8), vp8x(0, 64, 64))), mediasan.ErrInvalidChunkLayout},
		{"frame without image", webpFile(vp8x(webpsan.FlagANIM, 64, 64), anim(),
			anmf(0, 0, 64, 64)), mediasan.ErrMissingRequiredBox},
		{"trailing garbage", append(webpFile(vp8(8)), 'j', 'u', 'n', 'k'), mediasan.ErrInvalidChunkLayout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := webpsan.SanitizeBytes(tt.file)
			if !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want kind %v", err, tt.want)
			}
		})
	}
}

func TestMissingPadByte(t *testing.T) {
	// An odd-length final chunk must still carry its pad byte.
	file := webpFile(vp8l(16, 16, 4)) // 9-byte body, padded
	file = file[:len(file)-1]
	le.PutUint32(file[4:], uint32(len(file)-8))
	err := webpsan.SanitizeBytes(file)
	if !errors.Is(err, mediasan.ErrInvalidChunkSize) {
		t.Fatalf("got %v, want invalid chunk size", err)
	}
}

func TestRejectUnknownChunks(t *testing.T) {
	file := webpFile(vp8x(0, 64, 64), vp8(8), chunk("TEST", []byte("hi")))
	if err := webpsan.SanitizeBytes(file); err != nil {
		t.Fatalf("default config rejected unknown chunk: %v", err)
	}
	err := webpsan.SanitizeWithConfig(webpsan.Config{RejectUnknownChunks: true}, mediasan.NewBytesInput(file))
	if !errors.Is(err, mediasan.ErrInvalidChunkLayout) {
		t.Fatalf("got %v, want invalid chunk layout", err)
	}
}

func TestUnknownChunkBeforeMetadata(t *testing.T) {
	file := webpFile(vp8x(webpsan.FlagEXIF, 64, 64),
		vp8(8), chunk("TEST", []byte("hi")), chunk("EXIF", make([]byte, 4)))
	err := webpsan.SanitizeBytes(file)
	if !errors.Is(err, mediasan.ErrInvalidChunkLayout) {
		t.Fatalf("got %v, want invalid chunk layout", err)
	}
}

func TestErrorPath(t *testing.T) {
	err := webpsan.SanitizeBytes(webpFile(vp8x(0, 64, 64), vp8l(32, 32, 0)))
	var me *mediasan.Error
	if !errors.As(err, &me) {
		t.Fatalf("error %T is not *mediasan.Error", err)
	}
	if me.Path != "RIFF/VP8L" {
		t.Fatalf("path %q", me.Path)
	}
}

func TestSanitizeContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := webpsan.SanitizeContext(ctx, bytes.NewReader(webpFile(vp8(8))))
	if !errors.Is(err, mediasan.ErrIO) || !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want cancelled input error", err)
	}
}

func TestSanitizeReader(t *testing.T) {
	file := webpFile(vp8x(webpsan.FlagANIM, 64, 64), anim(), anmf(0, 0, 64, 64, vp8(20)))
	if err := webpsan.Sanitize(bytes.NewReader(file)); err != nil {
		t.Fatal(err)
	}
}

func BenchmarkSanitizeBytes(b *testing.B) {
	frames := make([][]byte, 0, 100)
	frames = append(frames, vp8x(webpsan.FlagANIM, 64, 64), anim())
	for i := 0; i < 100; i++ {
		frames = append(frames, anmf(0, 0, 64, 64, vp8(256)))
	}
	file := webpFile(frames...)

	b.SetBytes(int64(len(file)))
	for i := 0; i < b.N; i++ {
		if err := webpsan.SanitizeBytes(file); err != nil {
			b.Fatal(err)
		}
	}
}
