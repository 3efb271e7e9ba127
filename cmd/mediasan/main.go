// Command mediasan validates an MP4 or WebP file. For MP4 inputs, -o
// writes the sanitized file: the rewritten metadata followed by the
// media data.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/tetsuo/mediasan/mp4san"
	"github.com/tetsuo/mediasan/webpsan"
)

func main() {
	out := flag.String("o", "", "write the sanitized MP4 to this file")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [-o out.mp4] <file>\n", os.Args[0])
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}

	if err := run(flag.Arg(0), *out); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(path, out string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var magic [4]byte
	if _, err := io.ReadFull(f, magic[:]); err != nil {
		return err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}

	if bytes.Equal(magic[:], webpsan.TypeRIFF[:]) {
		if err := webpsan.Sanitize(f); err != nil {
			return err
		}
		fmt.Printf("%s: ok (webp)\n", path)
		return nil
	}

	sanitized, err := mp4san.Sanitize(f)
	if err != nil {
		return err
	}
	fmt.Printf("%s: ok (mp4), %d metadata bytes, media data at [0x%x, 0x%x)\n",
		path, len(sanitized.Metadata), sanitized.Data.Offset, sanitized.Data.End())

	if out == "" {
		return nil
	}
	w, err := os.Create(out)
	if err != nil {
		return err
	}
	if _, err := w.Write(sanitized.Metadata); err != nil {
		w.Close()
		return err
	}
	if _, err := f.Seek(int64(sanitized.Data.Offset), io.SeekStart); err != nil {
		w.Close()
		return err
	}
	if _, err := io.CopyN(w, f, int64(sanitized.Data.Len)); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}
