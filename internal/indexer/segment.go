package indexer

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/wessley-search/splitcore/internal/model"
)

// segmentWriter buffers valid documents for one split and flushes them as
// zstd-compressed docstore blocks once the configured block size is
// reached (spec.md §4.3: "docstore block size and compression (e.g., Zstd
// with a configurable level)").
type segmentWriter struct {
	dir       string
	blockSize int
	level     zstd.EncoderLevel

	buf      []byte
	blockIdx int
	files    []string
}

func newSegmentWriter(dir string, settings model.IndexingSettings) *segmentWriter {
	blockSize := settings.DocstoreBlockSize
	if blockSize <= 0 {
		blockSize = 1 << 20
	}
	level := zstd.SpeedDefault
	if settings.Compression != model.CompressionNone {
		level = zstd.EncoderLevelFromZstdLevel(settings.CompressionLevel)
	}
	return &segmentWriter{dir: dir, blockSize: blockSize, level: level}
}

// WriteDoc appends one raw JSON document, flushing a block if it has grown
// past the configured docstore block size.
func (w *segmentWriter) WriteDoc(doc []byte) error {
	w.buf = append(w.buf, doc...)
	w.buf = append(w.buf, '\n')
	if len(w.buf) >= w.blockSize {
		return w.flushBlock()
	}
	return nil
}

func (w *segmentWriter) flushBlock() error {
	if len(w.buf) == 0 {
		return nil
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(w.level))
	if err != nil {
		return model.NewError(model.KindInternal, "segmentWriter.flushBlock", err)
	}
	compressed := enc.EncodeAll(w.buf, nil)
	enc.Close()

	path := filepath.Join(w.dir, fmt.Sprintf("block-%05d.zst", w.blockIdx))
	if err := os.WriteFile(path, compressed, 0o644); err != nil {
		return model.NewError(model.KindIO, "segmentWriter.flushBlock", err)
	}
	w.files = append(w.files, path)
	w.blockIdx++
	w.buf = w.buf[:0]
	return nil
}

// Flush flushes any buffered docs and returns the ordered list of docstore
// block files written so far.
func (w *segmentWriter) Flush() ([]string, error) {
	if err := w.flushBlock(); err != nil {
		return nil, err
	}
	return w.files, nil
}
