package store

import (
	"bytes"
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"
)

// Payloads below this size are stored as-is; gzip framing would outweigh
// the savings.
const minCompressSize = 256

var (
	writers = sync.Pool{
		New: func() any {
			w, _ := gzip.NewWriterLevel(io.Discard, gzip.BestSpeed)
			return w
		},
	}
	buffers = sync.Pool{
		New: func() any { return new(bytes.Buffer) },
	}
)

// Compress gzips data with a pooled writer. Small payloads are returned
// unchanged; callers tell the two apart with IsCompressed.
func Compress(data []byte) ([]byte, error) {
	if len(data) < minCompressSize {
		return data, nil
	}

	buf := buffers.Get().(*bytes.Buffer)
	buf.Reset()
	defer buffers.Put(buf)

	w := writers.Get().(*gzip.Writer)
	defer writers.Put(w)
	w.Reset(buf)

	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return bytes.Clone(buf.Bytes()), nil
}

// Decompress reverses Compress.
func Decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// IsCompressed reports whether data starts with the gzip magic bytes.
func IsCompressed(data []byte) bool {
	return len(data) > 2 && data[0] == 0x1f && data[1] == 0x8b
}
