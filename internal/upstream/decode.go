// Package upstream performs the HTTP round-trips to the aggregator. It owns
// the outbound client (plain, proxied, or TLS-fingerprinted) and helpers for
// decoding compressed response bodies when they need inspection. No retry
// logic lives here.
package upstream

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
)

// DecodeBytes decompresses data according to the Content-Encoding header
// value. Unknown or empty encodings, and decode failures, yield the raw
// bytes: inspection callers prefer a best-effort view over an error.
func DecodeBytes(data []byte, contentEncoding string) []byte {
	for _, raw := range strings.Split(contentEncoding, ",") {
		encoding := strings.TrimSpace(strings.ToLower(raw))
		switch encoding {
		case "", "identity":
			continue
		case "gzip":
			reader, err := gzip.NewReader(bytes.NewReader(data))
			if err != nil {
				return data
			}
			return readAllOr(data, reader)
		case "deflate":
			return readAllOr(data, flate.NewReader(bytes.NewReader(data)))
		case "br":
			return readAllOr(data, brotli.NewReader(bytes.NewReader(data)))
		case "zstd":
			decoder, err := zstd.NewReader(bytes.NewReader(data))
			if err != nil {
				return data
			}
			defer decoder.Close()
			return readAllOr(data, decoder)
		default:
			continue
		}
	}
	return data
}

func readAllOr(fallback []byte, r io.Reader) []byte {
	decoded, err := io.ReadAll(r)
	if err != nil {
		return fallback
	}
	return decoded
}
