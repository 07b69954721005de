package audio

import (
	"bytes"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestEncodeWAV(t *testing.T) {
	// 440Hz sine wave for 0.1 seconds at 8kHz
	sampleRate := 8000
	numSamples := 800
	samples := make([]int16, numSamples)
	for i := range samples {
		tm := float64(i) / float64(sampleRate)
		samples[i] = int16(16383 * math.Sin(2*math.Pi*440*tm))
	}

	wavData, err := EncodeWAV(samples, sampleRate)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	expectedSize := 44 + len(samples)*2
	if len(wavData) != expectedSize {
		t.Errorf("Expected WAV size %d, got %d", expectedSize, len(wavData))
	}

	info, err := GetWAVInfo(bytes.NewReader(wavData))
	if err != nil {
		t.Fatalf("Failed to get WAV info: %v", err)
	}
	if info.SampleRate != sampleRate {
		t.Errorf("Expected sample rate %d, got %d", sampleRate, info.SampleRate)
	}
	if info.Channels != 1 {
		t.Errorf("Expected 1 channel, got %d", info.Channels)
	}
	if info.BitsPerSample != 16 {
		t.Errorf("Expected 16 bits per sample, got %d", info.BitsPerSample)
	}
	if d := info.Duration.Seconds(); math.Abs(d-0.1) > 0.001 {
		t.Errorf("Expected duration 0.100, got %.3f", d)
	}
}

func TestDecodeWAV(t *testing.T) {
	original := []int16{100, -200, 300, -400, 500, 32767, -32768}
	sampleRate := 44100

	wavData, err := EncodeWAV(original, sampleRate)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	decoded, decodedRate, err := DecodeWAV(bytes.NewReader(wavData))
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}
	if decodedRate != sampleRate {
		t.Errorf("Expected sample rate %d, got %d", sampleRate, decodedRate)
	}
	if len(decoded) != len(original) {
		t.Fatalf("Expected %d samples, got %d", len(original), len(decoded))
	}
	for i, v := range original {
		want := float32(v) / 32768
		if math.Abs(float64(decoded[i]-want)) > 1e-6 {
			t.Errorf("Sample %d: expected %f, got %f", i, want, decoded[i])
		}
	}
}

func TestDecodeWAVInvalid(t *testing.T) {
	_, _, err := DecodeWAV(bytes.NewReader([]byte("definitely not a wav file, just text")))
	if !errors.Is(err, ErrInvalidWAV) {
		t.Errorf("Expected ErrInvalidWAV, got %v", err)
	}
}

func TestWriteWAVRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create file: %v", err)
	}

	samples := []float32{0, 0.25, -0.25, 0.5, -0.5, 1, -1}
	if err := WriteWAV(f, samples, 48000); err != nil {
		t.Fatalf("WriteWAV failed: %v", err)
	}
	f.Close()

	f, err = os.Open(path)
	if err != nil {
		t.Fatalf("Failed to open file: %v", err)
	}
	defer f.Close()

	decoded, rate, err := DecodeWAV(f)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}
	if rate != 48000 {
		t.Errorf("Expected sample rate 48000, got %d", rate)
	}
	if len(decoded) != len(samples) {
		t.Fatalf("Expected %d samples, got %d", len(samples), len(decoded))
	}
	for i, v := range samples {
		if math.Abs(float64(decoded[i]-v)) > 1e-3 {
			t.Errorf("Sample %d: expected %f, got %f", i, v, decoded[i])
		}
	}
}

func TestEncodeWAVInvalidInput(t *testing.T) {
	if _, err := EncodeWAV([]int16{}, 8000); err == nil {
		t.Error("Expected error for empty samples")
	}
	if _, err := EncodeWAV([]int16{100, 200, 300}, 0); err == nil {
		t.Error("Expected error for zero sample rate")
	}
}

func TestPCMConversions(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768}
	raw := PCM16ToBytes(samples)
	if len(raw) != 10 {
		t.Fatalf("Expected 10 bytes, got %d", len(raw))
	}
	if raw[2] != 0x01 || raw[3] != 0x00 {
		t.Errorf("Expected little-endian encoding, got %v", raw[2:4])
	}

	back, err := BytesToPCM16(raw)
	if err != nil {
		t.Fatalf("BytesToPCM16 failed: %v", err)
	}
	for i := range samples {
		if back[i] != samples[i] {
			t.Errorf("Sample %d: expected %d, got %d", i, samples[i], back[i])
		}
	}

	if _, err := BytesToPCM16([]byte{1, 2, 3}); err == nil {
		t.Error("Expected error for odd-length data")
	}

	clipped := FloatToPCM16([]float32{2, -2, 0.5})
	if clipped[0] != 32767 || clipped[1] != -32768 {
		t.Errorf("Expected clipping, got %v", clipped)
	}
	if clipped[2] != 16384 {
		t.Errorf("Expected 16384, got %d", clipped[2])
	}
}
