package rsccompress

import (
	"bytes"
	"testing"
)

func TestCompressDecompressRoundTrip(t *testing.T) {
	t.Parallel()

	payload := bytes.Repeat([]byte("select * from events where id = 1; "), 64)

	for _, alg := range []Algorithm{None, Gzip, Snappy, Zstd} {
		compressed, err := Compress(alg, payload)
		if err != nil {
			t.Fatalf("Compress(%s): %s", alg, err)
		}
		got, err := Decompress(alg, compressed)
		if err != nil {
			t.Fatalf("Decompress(%s): %s", alg, err)
		}
		if !bytes.Equal(got, payload) {
			t.Fatalf("round trip mismatch under %s", alg)
		}
	}
}

func TestCompressEmptyPayloadIsNoop(t *testing.T) {
	t.Parallel()

	got, err := Compress(Gzip, nil)
	if err != nil {
		t.Fatalf("Compress(nil): %s", err)
	}
	if len(got) != 0 {
		t.Fatalf("Compress(nil) = %v, want empty", got)
	}
}

func TestUnregisteredAlgorithmErrors(t *testing.T) {
	t.Parallel()

	if _, err := Compress(Algorithm(99), []byte("x")); err == nil {
		t.Fatalf("Compress(unregistered): got nil error, want error")
	}
}
