package upstream

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
)

const decodeSample = `{"error":{"message":"Overloaded"}}`

func TestDecodeBytes_Gzip(t *testing.T) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, _ = w.Write([]byte(decodeSample))
	_ = w.Close()

	if got := string(DecodeBytes(buf.Bytes(), "gzip")); got != decodeSample {
		t.Fatalf("gzip decode = %q", got)
	}
}

func TestDecodeBytes_Deflate(t *testing.T) {
	var buf bytes.Buffer
	w, _ := flate.NewWriter(&buf, flate.DefaultCompression)
	_, _ = w.Write([]byte(decodeSample))
	_ = w.Close()

	if got := string(DecodeBytes(buf.Bytes(), "deflate")); got != decodeSample {
		t.Fatalf("deflate decode = %q", got)
	}
}

func TestDecodeBytes_Brotli(t *testing.T) {
	var buf bytes.Buffer
	w := brotli.NewWriter(&buf)
	_, _ = w.Write([]byte(decodeSample))
	_ = w.Close()

	if got := string(DecodeBytes(buf.Bytes(), "br")); got != decodeSample {
		t.Fatalf("brotli decode = %q", got)
	}
}

func TestDecodeBytes_Zstd(t *testing.T) {
	var buf bytes.Buffer
	w, _ := zstd.NewWriter(&buf)
	_, _ = w.Write([]byte(decodeSample))
	_ = w.Close()

	if got := string(DecodeBytes(buf.Bytes(), "zstd")); got != decodeSample {
		t.Fatalf("zstd decode = %q", got)
	}
}

func TestDecodeBytes_IdentityAndUnknown(t *testing.T) {
	if got := string(DecodeBytes([]byte(decodeSample), "")); got != decodeSample {
		t.Fatalf("empty encoding altered bytes: %q", got)
	}
	if got := string(DecodeBytes([]byte(decodeSample), "identity")); got != decodeSample {
		t.Fatalf("identity encoding altered bytes: %q", got)
	}
	if got := string(DecodeBytes([]byte(decodeSample), "snappy")); got != decodeSample {
		t.Fatalf("unknown encoding altered bytes: %q", got)
	}
}

func TestDecodeBytes_CorruptFallsBackToRaw(t *testing.T) {
	corrupt := []byte("definitely not gzip")
	if got := DecodeBytes(corrupt, "gzip"); !bytes.Equal(got, corrupt) {
		t.Fatalf("corrupt gzip did not fall back to raw bytes")
	}
}
