// Package rsccompress provides optional compression of job payloads before
// they are handed to the wire codec; statement code is sent uncompressed.
// Compression is
// a client-local concern: the decision to compress a given call's payload
// is recorded alongside the operation so replies need no coordination.
package rsccompress

import "fmt"

// Algorithm identifies a compression scheme on the wire.
type Algorithm uint8

const (
	// None leaves the payload untouched.
	None Algorithm = 0
	// Gzip uses the standard library's compress/gzip.
	Gzip Algorithm = 1
	// Snappy uses github.com/golang/snappy, optimized for speed.
	Snappy Algorithm = 2
	// Zstd uses github.com/klauspost/compress/zstd.
	Zstd Algorithm = 3
)

func (a Algorithm) String() string {
	switch a {
	case Gzip:
		return "gzip"
	case Snappy:
		return "snappy"
	case Zstd:
		return "zstd"
	default:
		return "none"
	}
}

// Compressor defines the interface for a compression algorithm.
type Compressor interface {
	Algorithm() Algorithm
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

var registry = map[Algorithm]Compressor{}

func register(c Compressor) { registry[c.Algorithm()] = c }

func init() {
	register(&gzipCompressor{})
	register(&snappyCompressor{})
	register(&zstdCompressor{})
}

// Get returns the compressor for a, or nil if unregistered.
func Get(a Algorithm) Compressor { return registry[a] }

// Compress compresses data with algorithm a. None returns data unchanged.
func Compress(a Algorithm, data []byte) ([]byte, error) {
	if a == None || len(data) == 0 {
		return data, nil
	}
	c := Get(a)
	if c == nil {
		return nil, fmt.Errorf("rsccompress: no compressor registered for %s", a)
	}
	return c.Compress(data)
}

// Decompress decompresses data with algorithm a. None returns data unchanged.
func Decompress(a Algorithm, data []byte) ([]byte, error) {
	if a == None || len(data) == 0 {
		return data, nil
	}
	c := Get(a)
	if c == nil {
		return nil, fmt.Errorf("rsccompress: no compressor registered for %s", a)
	}
	return c.Decompress(data)
}
