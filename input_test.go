package mediasan_test

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/tetsuo/mediasan"
)

// Both Input implementations must behave identically; every case runs
// against the buffer-backed and the stream-backed kind.
func inputs(data []byte) map[string]func() mediasan.Input {
	return map[string]func() mediasan.Input{
		"bytes":  func() mediasan.Input { return mediasan.NewBytesInput(data) },
		"stream": func() mediasan.Input { return mediasan.NewStreamInput(bytes.NewReader(data)) },
	}
}

func TestReadInto(t *testing.T) {
	for name, mk := range inputs([]byte("abcdef")) {
		t.Run(name, func(t *testing.T) {
			in := mk()
			buf := make([]byte, 4)
			if err := in.ReadInto(buf); err != nil {
				t.Fatal(err)
			}
			if string(buf) != "abcd" || in.Pos() != 4 {
				t.Fatalf("read %q at pos %d", buf, in.Pos())
			}
			// A short read consumes what was available.
			err := in.ReadInto(buf)
			if !errors.Is(err, mediasan.ErrUnexpectedEOF) {
				t.Fatalf("got %v, want unexpected EOF", err)
			}
			if in.Pos() != 6 {
				t.Fatalf("pos %d after short read, want 6", in.Pos())
			}
		})
	}
}

func TestCleanEOF(t *testing.T) {
	for name, mk := range inputs([]byte("abcd")) {
		t.Run(name, func(t *testing.T) {
			in := mk()
			if err := in.Skip(4); err != nil {
				t.Fatal(err)
			}
			start := in.Pos()
			err := in.ReadInto(make([]byte, 8))
			if !errors.Is(err, mediasan.ErrUnexpectedEOF) {
				t.Fatalf("got %v, want unexpected EOF", err)
			}
			// Position unchanged distinguishes a clean end of input.
			if in.Pos() != start {
				t.Fatalf("pos moved from %d to %d at EOF", start, in.Pos())
			}
		})
	}
}

func TestSkipPastEnd(t *testing.T) {
	for name, mk := range inputs([]byte("abcdef")) {
		t.Run(name, func(t *testing.T) {
			in := mk()
			err := in.Skip(10)
			if !errors.Is(err, mediasan.ErrUnexpectedEOF) {
				t.Fatalf("got %v, want unexpected EOF", err)
			}
			if in.Pos() != 6 {
				t.Fatalf("pos %d after over-skip, want 6", in.Pos())
			}
		})
	}
}

func TestDrain(t *testing.T) {
	for name, mk := range inputs([]byte("abcdef")) {
		t.Run(name, func(t *testing.T) {
			in := mk()
			if err := in.Skip(2); err != nil {
				t.Fatal(err)
			}
			n, err := in.Drain()
			if err != nil {
				t.Fatal(err)
			}
			if n != 4 || in.Pos() != 6 {
				t.Fatalf("drained %d at pos %d", n, in.Pos())
			}
		})
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, io.ErrClosedPipe
}

func TestStreamReadError(t *testing.T) {
	in := mediasan.NewStreamInput(failingReader{})
	err := in.ReadInto(make([]byte, 4))
	if !errors.Is(err, mediasan.ErrIO) {
		t.Fatalf("got %v, want input error", err)
	}
	if !errors.Is(err, io.ErrClosedPipe) {
		t.Fatalf("got %v, want wrapped cause", err)
	}
}
