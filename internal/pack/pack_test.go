package pack

import (
	"bytes"
	"testing"
)

func TestPackUnpack(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   []byte
		wantErr bool
	}{
		{
			name:  "empty input",
			input: []byte{},
		},
		{
			name:  "single zero word",
			input: make([]byte, 8),
		},
		{
			name:  "single word with one non-zero byte",
			input: []byte{0x42, 0, 0, 0, 0, 0, 0, 0},
		},
		{
			name:  "single word all non-zero",
			input: []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08},
		},
		{
			name:  "multiple zero words",
			input: make([]byte, 64),
		},
		{
			name: "mixed zeros and data",
			input: func() []byte {
				b := make([]byte, 80)
				b[0] = 0x42
				b[16] = 0xFF
				return b
			}(),
		},
		{
			name:    "unaligned input",
			input:   []byte{1, 2, 3},
			wantErr: true,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			buf, err := Pack(test.input)
			switch {
			case err == nil && test.wantErr:
				t.Fatalf("Pack(): got err == nil, want err != nil")
			case err != nil && !test.wantErr:
				t.Fatalf("Pack(): got err == %s, want err == nil", err)
			case err != nil:
				return
			}
			if len(test.input) == 0 {
				if buf != nil {
					t.Fatalf("Pack(empty): got non-nil buffer, want nil")
				}
				return
			}
			defer buf.Release()

			unpacked, err := Unpack(buf.Bytes())
			if err != nil {
				t.Fatalf("Unpack(): got err == %s, want err == nil", err)
			}
			defer unpacked.Release()

			if !bytes.Equal(unpacked.Bytes(), test.input) {
				t.Fatalf("Unpack(Pack(x)) != x: got %v, want %v", unpacked.Bytes(), test.input)
			}
		})
	}
}

func TestCompressionRatio(t *testing.T) {
	t.Parallel()

	input := make([]byte, 4096)
	buf, err := Pack(input)
	if err != nil {
		t.Fatalf("Pack(): %s", err)
	}
	defer buf.Release()

	if ratio := CompressionRatio(buf.Bytes()); ratio >= 1.0 {
		t.Fatalf("CompressionRatio() = %v, want < 1.0 for an all-zero buffer", ratio)
	}
	if got := UnpackedSize(buf.Bytes()); got != len(input) {
		t.Fatalf("UnpackedSize() = %d, want %d", got, len(input))
	}
}
