package decoder

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"notes-sync-indexer/internal/domain"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
)

// Upper bound on a decompressed note body.
const maxDecompressedSize = 64 << 20

var gzipMagic = []byte{0x1f, 0x8b}

// Decompress unwraps a note text payload into the raw versioned document.
// The payload may arrive as binary or as base64 text; gzip framing is
// detected by its magic bytes, anything else is tried as zlib and then as
// raw deflate.
func Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, envelopeError(errors.New("empty payload"))
	}

	if !looksCompressed(data) {
		if raw, err := base64.StdEncoding.DecodeString(string(bytes.TrimSpace(data))); err == nil && len(raw) > 0 {
			if out, err := decompressBinary(raw); err == nil {
				return out, nil
			}
		}
	}

	out, err := decompressBinary(data)
	if err != nil {
		return nil, envelopeError(err)
	}
	return out, nil
}

func decompressBinary(data []byte) ([]byte, error) {
	if bytes.HasPrefix(data, gzipMagic) {
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("gzip header: %w", err)
		}
		defer zr.Close()
		return readLimited(zr)
	}

	out, zerr := inflateZlib(data)
	if zerr == nil {
		return out, nil
	}

	out, ferr := readLimited(flate.NewReader(bytes.NewReader(data)))
	if ferr == nil && len(out) > 0 {
		return out, nil
	}
	if ferr == nil {
		ferr = errors.New("empty deflate stream")
	}
	return nil, fmt.Errorf("neither zlib nor raw deflate: %w", errors.Join(zerr, ferr))
}

func inflateZlib(data []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return readLimited(zr)
}

func readLimited(r io.Reader) ([]byte, error) {
	out, err := io.ReadAll(io.LimitReader(r, maxDecompressedSize+1))
	if err != nil {
		return nil, err
	}
	if len(out) > maxDecompressedSize {
		return nil, fmt.Errorf("decompressed payload exceeds %d bytes", maxDecompressedSize)
	}
	return out, nil
}

// looksCompressed checks for a gzip magic or a valid zlib header.
func looksCompressed(data []byte) bool {
	if bytes.HasPrefix(data, gzipMagic) {
		return true
	}
	if len(data) < 2 {
		return false
	}
	cmf, flg := data[0], data[1]
	return cmf&0x0f == 8 && (uint16(cmf)<<8|uint16(flg))%31 == 0
}

func envelopeError(err error) error {
	return &domain.DecodeError{Stage: "envelope", Err: err}
}
