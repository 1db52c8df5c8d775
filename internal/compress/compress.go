// Package compress implements the codec abstraction used by the Remote
// Archive component (SPEC_FULL.md §4.7). It is grounded directly on the
// teacher's pbm/restore.replayChunk, which tries Snappy and falls back to
// S2 on a corrupt-input error because older chunks were mislabeled; the
// same fallback idiom is reused here for decoding archive snapshots
// written by an older version of this codec's default.
package compress

import (
	"bytes"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/pgzip"
	"github.com/pierrec/lz4"
	"github.com/pkg/errors"
)

// Type names a supported codec, matching the archive_compression option.
type Type string

const (
	None   Type = "none"
	Snappy Type = "snappy"
	S2     Type = "s2"
	LZ4    Type = "lz4"
	Gzip   Type = "gzip"
)

// ParseType validates and normalises the archive_compression config
// value, defaulting to S2 (the teacher's own current default, see the
// comment in replayChunk about chunks moving from Snappy to S2).
func ParseType(s string) (Type, error) {
	switch Type(s) {
	case "", S2:
		return S2, nil
	case None, Snappy, LZ4, Gzip:
		return Type(s), nil
	default:
		return "", errors.Errorf("unknown compression type %q", s)
	}
}

// Encode compresses src with t.
func Encode(t Type, src []byte) ([]byte, error) {
	switch t {
	case None, "":
		return src, nil
	case Snappy:
		return snappy.Encode(nil, src), nil
	case S2:
		return s2.Encode(nil, src), nil
	case LZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(src); err != nil {
			return nil, errors.Wrap(err, "lz4 write")
		}
		if err := w.Close(); err != nil {
			return nil, errors.Wrap(err, "lz4 close")
		}
		return buf.Bytes(), nil
	case Gzip:
		var buf bytes.Buffer
		w := pgzip.NewWriter(&buf)
		if _, err := w.Write(src); err != nil {
			return nil, errors.Wrap(err, "gzip write")
		}
		if err := w.Close(); err != nil {
			return nil, errors.Wrap(err, "gzip close")
		}
		return buf.Bytes(), nil
	default:
		return nil, errors.Errorf("unknown compression type %q", t)
	}
}

// Decode decompresses src written with t. For Snappy it falls back to
// S2 on a corrupt-input error, exactly mirroring replayChunk's handling
// of archive snapshots produced before the default codec changed.
func Decode(t Type, src []byte) ([]byte, error) {
	switch t {
	case None, "":
		return src, nil
	case Snappy:
		dst, err := snappy.Decode(nil, src)
		if errors.Is(err, snappy.ErrCorrupt) {
			return s2.Decode(nil, src)
		}
		return dst, errors.Wrap(err, "snappy decode")
	case S2:
		dst, err := s2.Decode(nil, src)
		return dst, errors.Wrap(err, "s2 decode")
	case LZ4:
		r := lz4.NewReader(bytes.NewReader(src))
		b, err := io.ReadAll(r)
		return b, errors.Wrap(err, "lz4 read")
	case Gzip:
		r, err := pgzip.NewReader(bytes.NewReader(src))
		if err != nil {
			return nil, errors.Wrap(err, "gzip new reader")
		}
		defer r.Close()
		b, err := io.ReadAll(r)
		return b, errors.Wrap(err, "gzip read")
	default:
		return nil, errors.Errorf("unknown compression type %q", t)
	}
}

// Ext returns the file suffix convention for t, used by the archive
// component when naming snapshot blobs.
func Ext(t Type) string {
	switch t {
	case Snappy:
		return ".snappy"
	case S2:
		return ".s2"
	case LZ4:
		return ".lz4"
	case Gzip:
		return ".gz"
	default:
		return ""
	}
}
