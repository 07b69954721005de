package main

import (
	"bytes"
	"errors"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/skypro1111/acoustic-modem/internal/audio"
	"github.com/skypro1111/acoustic-modem/internal/message"
	"github.com/skypro1111/acoustic-modem/internal/protocol"
)

func runCmd(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(args, strings.NewReader(stdin), &stdout, &stderr)
	return stdout.String(), stderr.String(), err
}

func TestRunUsage(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr bool
	}{
		{name: "no args", args: nil, wantErr: true},
		{name: "unknown command", args: []string{"transmogrify"}, wantErr: true},
		{name: "help", args: []string{"help"}, wantErr: false},
		{name: "decode without file", args: []string{"decode"}, wantErr: true},
		{name: "send without file", args: []string{"send"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stdout, stderr, err := runCmd(t, "", tt.args...)
			if tt.wantErr {
				if !errors.Is(err, errUsage) {
					t.Fatalf("Expected usage error, got %v", err)
				}
				if !strings.Contains(stderr, "Usage:") {
					t.Errorf("Expected usage text on stderr, got %q", stderr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if !strings.Contains(stdout, "encode") {
				t.Errorf("Expected command list, got %q", stdout)
			}
		})
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hello.wav")

	if _, stderr, err := runCmd(t, "", "encode", "-o", path, "-rate", "48000", "-gap", "0.2", "hello", "there"); err != nil {
		t.Fatalf("encode failed: %v (%s)", err, stderr)
	}

	// Not a terminal, so message bytes come out raw
	stdout, stderr, err := runCmd(t, "", "decode", path)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if stdout != "hello there" {
		t.Errorf("Expected raw message %q, got %q", "hello there", stdout)
	}
	if !strings.Contains(stderr, "1 messages") {
		t.Errorf("Expected summary on stderr, got %q", stderr)
	}

	stdout, _, err = runCmd(t, "", "decode", "-text", "-q", path)
	if err != nil {
		t.Fatalf("decode -text failed: %v", err)
	}
	if !strings.Contains(stdout, `message "hello there"`) {
		t.Errorf("Expected quoted message in listing, got %q", stdout)
	}
	if !strings.Contains(stdout, "payload ") {
		t.Errorf("Expected payload lines in listing, got %q", stdout)
	}
}

func TestEncodeFromStdin(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stdin.wav")

	if _, _, err := runCmd(t, "piped", "encode", "-o", path, "-rate", "48000"); err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	stdout, _, err := runCmd(t, "", "decode", "-q", path)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if stdout != "piped" {
		t.Errorf("Expected %q, got %q", "piped", stdout)
	}
}

func TestDecodeWithoutTrailingSilence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tight.wav")

	if _, _, err := runCmd(t, "", "encode", "-o", path, "-rate", "48000", "-gap", "0", "hi"); err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	stdout, _, err := runCmd(t, "", "decode", "-q", path)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if stdout != "hi" {
		t.Errorf("Expected %q from a file ending on the last tone, got %q", "hi", stdout)
	}
}

func TestEncodeRawPayload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "payload.wav")

	if _, _, err := runCmd(t, "", "encode", "-o", path, "-rate", "48000", "-payload", "0123456789"); err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	stdout, _, err := runCmd(t, "", "decode", "-text", "-q", path)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !strings.Contains(stdout, "payload 0123456789") {
		t.Errorf("Expected the raw payload, got %q", stdout)
	}
	if strings.Contains(stdout, "message") {
		t.Errorf("Did not expect a message from a raw payload, got %q", stdout)
	}
}

func TestEncodeErrors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		args []string
	}{
		{name: "too long", args: []string{"encode", "-o", filepath.Join(dir, "a.wav"), strings.Repeat("x", message.MaxMessageLen+1)}},
		{name: "bad payload", args: []string{"encode", "-o", filepath.Join(dir, "b.wav"), "-payload", "short"}},
		{name: "negative gap", args: []string{"encode", "-o", filepath.Join(dir, "c.wav"), "-gap", "-1", "x"}},
		{name: "low sample rate", args: []string{"encode", "-o", filepath.Join(dir, "d.wav"), "-rate", "8000", "x"}},
		{name: "high sample rate", args: []string{"encode", "-o", filepath.Join(dir, "e.wav"), "-rate", "4000000000", "x"}},
		{name: "huge gap", args: []string{"encode", "-o", filepath.Join(dir, "f.wav"), "-gap", "1e15", "x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := runCmd(t, "", tt.args...); err == nil {
				t.Fatal("Expected an error")
			}
		})
	}
}

func TestDecodeRejectsInvalidFile(t *testing.T) {
	_, _, err := runCmd(t, "", "decode", filepath.Join(t.TempDir(), "missing.wav"))
	if err == nil {
		t.Fatal("Expected an error for a missing file")
	}
}

// frameRecorder keeps every write as one datagram
type frameRecorder struct {
	frames [][]byte
}

func (r *frameRecorder) Write(p []byte) (int, error) {
	r.frames = append(r.frames, append([]byte(nil), p...))
	return len(p), nil
}

func TestSendStream(t *testing.T) {
	samples := make([]float32, 2500)
	for i := range samples {
		samples[i] = float32(i%100) / 100
	}

	rec := &frameRecorder{}
	stats, err := sendStream(rec, 9, "bench", samples, 48000, 1000, false)
	if err != nil {
		t.Fatalf("sendStream failed: %v", err)
	}
	if stats.packets != 4 || len(rec.frames) != 4 {
		t.Fatalf("Expected 4 packets, got %d (%d frames)", stats.packets, len(rec.frames))
	}

	start, err := protocol.ParsePacket(rec.frames[0])
	if err != nil {
		t.Fatalf("ParsePacket start failed: %v", err)
	}
	if start.Start == nil || start.Start.SampleRate != 48000 || start.Start.GetLabel() != "bench" {
		t.Fatalf("Unexpected start frame: %+v", start.Start)
	}

	var got []int16
	for i, frame := range rec.frames[1:] {
		pkt, err := protocol.ParsePacket(frame)
		if err != nil {
			t.Fatalf("ParsePacket audio %d failed: %v", i, err)
		}
		if pkt.Header.StreamID != 9 || pkt.Audio.Sequence != uint32(i) {
			t.Fatalf("Unexpected audio frame header: %+v seq %d", pkt.Header, pkt.Audio.Sequence)
		}
		pcm, err := audio.BytesToPCM16(pkt.Audio.AudioData)
		if err != nil {
			t.Fatalf("BytesToPCM16 failed: %v", err)
		}
		got = append(got, pcm...)
	}

	want := audio.FloatToPCM16(samples)
	if len(got) != len(want) {
		t.Fatalf("Expected %d samples, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Sample %d: expected %d, got %d", i, want[i], got[i])
		}
	}
}

func TestRunSend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "send.wav")
	if _, _, err := runCmd(t, "", "encode", "-o", path, "-rate", "48000", "-gap", "0", "x"); err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket failed: %v", err)
	}
	defer conn.Close()

	_, stderr, err := runCmd(t, "", "send", "-addr", conn.LocalAddr().String(), "-stream", "3", "-frame", "4800", path)
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if !strings.Contains(stderr, "stream 3") {
		t.Errorf("Expected summary on stderr, got %q", stderr)
	}

	buf := make([]byte, protocol.MaxPacketSize)
	var types []uint8
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			break
		}
		pkt, err := protocol.ParsePacket(buf[:n])
		if err != nil {
			t.Fatalf("ParsePacket failed: %v", err)
		}
		types = append(types, pkt.Header.PacketType)
		if pkt.Header.PacketType == protocol.PacketTypeEnd {
			break
		}
	}

	if len(types) < 3 {
		t.Fatalf("Expected start, audio and end frames, got %v", types)
	}
	if types[0] != protocol.PacketTypeStart || types[len(types)-1] != protocol.PacketTypeEnd {
		t.Errorf("Unexpected frame order %v", types)
	}
}
