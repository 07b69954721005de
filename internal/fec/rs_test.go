package fec

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"
)

func TestFieldTables(t *testing.T) {
	seen := make(map[byte]bool)
	for i := 0; i < fieldOrder; i++ {
		v := gfExp[i]
		if v == 0 || v >= FieldSize {
			t.Fatalf("exp[%d] = %d out of range", i, v)
		}
		if seen[v] {
			t.Fatalf("exp[%d] = %d repeats, polynomial is not primitive", i, v)
		}
		seen[v] = true
	}

	for a := byte(1); a < FieldSize; a++ {
		if got := gfMul(a, gfInverse(a)); got != 1 {
			t.Errorf("a * a^-1 = %d for a = %d", got, a)
		}
		for b := byte(1); b < FieldSize; b++ {
			if got := gfDiv(gfMul(a, b), b); got != a {
				t.Errorf("(%d*%d)/%d = %d", a, b, b, got)
			}
		}
	}
}

func TestEncodeSystematic(t *testing.T) {
	codec, err := NewCodec(8)
	if err != nil {
		t.Fatalf("NewCodec failed: %v", err)
	}

	data := []byte{17, 19, 0, 1, 2, 3, 4, 5, 6, 7, 8, 31}
	codeword, err := codec.Encode(data)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	if len(codeword) != 20 {
		t.Fatalf("Expected 20 symbols, got %d", len(codeword))
	}
	if !bytes.Equal(codeword[:len(data)], data) {
		t.Errorf("Data symbols not preserved: %v", codeword[:len(data)])
	}
	if !isZero(codec.syndromes(codeword)) {
		t.Errorf("Codeword has non-zero syndromes: %v", codec.syndromes(codeword))
	}
	for i, v := range codeword {
		if v >= FieldSize {
			t.Errorf("Symbol %d out of range: %d", i, v)
		}
	}
}

func TestEncodeZeroData(t *testing.T) {
	codec, _ := NewCodec(8)
	codeword, err := codec.Encode(make([]byte, 12))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if !isZero(codeword) {
		t.Errorf("Expected all-zero codeword, got %v", codeword)
	}
}

func TestCorrectUpToCapacity(t *testing.T) {
	codec, _ := NewCodec(8)
	rng := rand.New(rand.NewSource(7))

	for trial := 0; trial < 500; trial++ {
		data := make([]byte, 12)
		for i := range data {
			data[i] = byte(rng.Intn(FieldSize))
		}
		codeword, err := codec.Encode(data)
		if err != nil {
			t.Fatalf("Encode failed: %v", err)
		}

		numErrors := trial % (codec.MaxErrors() + 1)
		received := corrupt(rng, codeword, numErrors)

		corrected, err := codec.Correct(received)
		if err != nil {
			t.Fatalf("trial %d: Correct with %d errors failed: %v", trial, numErrors, err)
		}
		if !bytes.Equal(corrected, codeword) {
			t.Fatalf("trial %d: corrected %v, want %v", trial, corrected, codeword)
		}
	}
}

func TestCorrectDoesNotModifyInput(t *testing.T) {
	codec, _ := NewCodec(8)
	codeword, _ := codec.Encode([]byte{17, 19, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1})
	received := append([]byte(nil), codeword...)
	received[5] ^= 0x0f
	snapshot := append([]byte(nil), received...)

	if _, err := codec.Correct(received); err != nil {
		t.Fatalf("Correct failed: %v", err)
	}
	if !bytes.Equal(received, snapshot) {
		t.Error("Correct modified its input")
	}
}

func TestCorrectBeyondCapacity(t *testing.T) {
	codec, _ := NewCodec(8)
	rng := rand.New(rand.NewSource(11))

	for trial := 0; trial < 200; trial++ {
		data := make([]byte, 12)
		for i := range data {
			data[i] = byte(rng.Intn(FieldSize))
		}
		codeword, _ := codec.Encode(data)
		received := corrupt(rng, codeword, codec.MaxErrors()+1)

		corrected, err := codec.Correct(received)
		if err == nil && bytes.Equal(corrected, codeword) {
			t.Fatalf("trial %d: recovered original from %d errors", trial, codec.MaxErrors()+1)
		}
		if err != nil && !errors.Is(err, ErrTooManyErrors) {
			t.Fatalf("trial %d: unexpected error %v", trial, err)
		}
	}
}

func TestInvalidInput(t *testing.T) {
	codec, _ := NewCodec(8)

	tests := []struct {
		name    string
		run     func() error
		wantErr error
	}{
		{
			name: "encode symbol out of range",
			run: func() error {
				_, err := codec.Encode([]byte{32, 0, 0})
				return err
			},
			wantErr: ErrInvalidSymbol,
		},
		{
			name: "encode too long",
			run: func() error {
				_, err := codec.Encode(make([]byte, 24))
				return err
			},
			wantErr: ErrInvalidLength,
		},
		{
			name: "correct shorter than parity",
			run: func() error {
				_, err := codec.Correct(make([]byte, 8))
				return err
			},
			wantErr: ErrInvalidLength,
		},
		{
			name: "correct symbol out of range",
			run: func() error {
				received := make([]byte, 20)
				received[3] = 40
				_, err := codec.Correct(received)
				return err
			},
			wantErr: ErrInvalidSymbol,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.run(); !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	if _, err := NewCodec(0); err == nil {
		t.Error("Expected error for zero ecc length")
	}
}

// corrupt flips numErrors distinct symbols to different values
func corrupt(rng *rand.Rand, codeword []byte, numErrors int) []byte {
	out := append([]byte(nil), codeword...)
	for _, p := range rng.Perm(len(out))[:numErrors] {
		out[p] ^= byte(1 + rng.Intn(FieldSize-1))
	}
	return out
}
