package scan

import (
	"bufio"
	"context"
	"io"

	"github.com/schoolgate/schoolgate/internal/nfc"
)

// Reader delivers raw tag payloads from a hardware listener. Listen blocks
// until ctx is done or the source ends, calling emit once per tap.
type Reader interface {
	Listen(ctx context.Context, emit func(nfc.RawTag)) error
}

// LineReader reads one payload per line, as keyboard-wedge and serial
// readers produce.
type LineReader struct {
	src io.Reader
}

// NewLineReader wraps src.
func NewLineReader(src io.Reader) *LineReader {
	return &LineReader{src: src}
}

func (r *LineReader) Listen(ctx context.Context, emit func(nfc.RawTag)) error {
	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(r.src)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		errc <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errc:
			return err
		case line := <-lines:
			if line == "" {
				continue
			}
			emit(nfc.RawTag(line))
		}
	}
}
