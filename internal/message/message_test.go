package message

import (
	"bytes"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/skypro1111/acoustic-modem/internal/modem"
)

func TestEncodeMessageLayout(t *testing.T) {
	tests := []struct {
		name         string
		msg          []byte
		wantPayloads int
	}{
		{name: "empty", msg: nil, wantPayloads: 1},
		{name: "one byte", msg: []byte("a"), wantPayloads: 1},
		{name: "fits one packet", msg: []byte("hello"), wantPayloads: 1},
		{name: "spills into second", msg: []byte("hello!"), wantPayloads: 2},
		{name: "max length", msg: bytes.Repeat([]byte{0xff}, MaxMessageLen), wantPayloads: 42},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payloads, err := EncodeMessage(tt.msg)
			if err != nil {
				t.Fatalf("EncodeMessage failed: %v", err)
			}
			if len(payloads) != tt.wantPayloads {
				t.Fatalf("Expected %d payloads, got %d", tt.wantPayloads, len(payloads))
			}
			for i, p := range payloads {
				if err := p.Validate(); err != nil {
					t.Errorf("Payload %d invalid: %v", i, err)
				}
				marker := p[0]>>(modem.SymbolBits-1) == 1
				if marker != (i == 0) {
					t.Errorf("Payload %d: marker %v", i, marker)
				}
			}
		})
	}
}

func TestEncodeEmptyMessageBits(t *testing.T) {
	payloads, err := EncodeMessage([]byte{})
	if err != nil {
		t.Fatalf("EncodeMessage failed: %v", err)
	}
	// marker 1 followed by a zero length byte
	want := modem.Payload{16}
	if payloads[0] != want {
		t.Errorf("Expected %v, got %v", want, payloads[0])
	}
}

func TestEncodeMessageTooLong(t *testing.T) {
	payloads, err := EncodeMessage(make([]byte, MaxMessageLen+1))
	if !errors.Is(err, ErrMessageTooLong) {
		t.Fatalf("Expected ErrMessageTooLong, got %v", err)
	}
	if payloads != nil {
		t.Errorf("Expected no payloads, got %d", len(payloads))
	}

	tr, _ := New(44100)
	txs, err := tr.SendMessage(make([]byte, 256))
	if !errors.Is(err, ErrMessageTooLong) {
		t.Fatalf("Expected ErrMessageTooLong, got %v", err)
	}
	if len(txs) != 0 {
		t.Errorf("Expected no transmissions, got %d", len(txs))
	}
}

func TestReassemblerRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  []byte
	}{
		{"empty", []byte{}},
		{"one byte", []byte{0x42}},
		{"text", []byte("the quick brown fox jumps over the lazy dog")},
		{"utf8", []byte("héllo wörld 👋🏽")},
		{"binary", []byte{0, 0, 0, 1, 0xff, 0x80, 0}},
		{"max length", bytes.Repeat([]byte{0xa5}, MaxMessageLen)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payloads, err := EncodeMessage(tt.msg)
			if err != nil {
				t.Fatalf("EncodeMessage failed: %v", err)
			}

			r := NewReassembler(DefaultMaxPacketGap)
			var got []byte
			var done int
			for i, p := range payloads {
				msg, ok := r.Push(p, uint64(i*200))
				if ok {
					got = msg
					done++
					if i != len(payloads)-1 {
						t.Errorf("Message completed early at packet %d", i)
					}
				}
			}
			if done != 1 {
				t.Fatalf("Expected one message, got %d", done)
			}
			if !bytes.Equal(got, tt.msg) {
				t.Errorf("Expected %q, got %q", tt.msg, got)
			}
			if r.Active() {
				t.Error("Expected reassembler to be idle after a message")
			}
		})
	}
}

func TestReassemblerStaleContinuation(t *testing.T) {
	payloads, _ := EncodeMessage([]byte(strings.Repeat("x", 12)))
	if len(payloads) < 2 {
		t.Fatalf("Expected a multi-packet message, got %d packets", len(payloads))
	}

	r := NewReassembler(DefaultMaxPacketGap)
	if _, ok := r.Push(payloads[0], 1000); ok {
		t.Fatal("Expected no message after first packet")
	}
	if _, ok := r.Push(payloads[1], 1000+r.Timeout()+1); ok {
		t.Fatal("Expected stale continuation to be dropped")
	}
	if r.Active() {
		t.Error("Expected reassembler to be idle")
	}
	if r.Stats().MessagesAbandoned != 1 {
		t.Errorf("Expected 1 abandoned message, got %d", r.Stats().MessagesAbandoned)
	}

	// The remaining packets are strays now
	for _, p := range payloads[2:] {
		if _, ok := r.Push(p, 5000); ok {
			t.Fatal("Expected no message from stray continuations")
		}
	}
}

func TestReassemblerTimeoutBoundary(t *testing.T) {
	payloads, _ := EncodeMessage([]byte("hello!"))

	r := NewReassembler(50)
	if r.Timeout() != 250 {
		t.Fatalf("Expected timeout 250, got %d", r.Timeout())
	}
	r.Push(payloads[0], 0)
	msg, ok := r.Push(payloads[1], 250)
	if !ok || string(msg) != "hello!" {
		t.Errorf("Expected message at the timeout boundary, got %q %v", msg, ok)
	}
}

func TestReassemblerStrayContinuation(t *testing.T) {
	payloads, _ := EncodeMessage([]byte("continuation only"))

	r := NewReassembler(DefaultMaxPacketGap)
	if _, ok := r.Push(payloads[1], 0); ok {
		t.Fatal("Expected no message")
	}
	if r.Active() {
		t.Error("Expected reassembler to stay idle")
	}
	if r.Stats().StrayContinuations != 1 {
		t.Errorf("Expected 1 stray continuation, got %d", r.Stats().StrayContinuations)
	}
}

func TestReassemblerRestart(t *testing.T) {
	first, _ := EncodeMessage([]byte("abandoned halfway"))
	second, _ := EncodeMessage([]byte("ok"))

	r := NewReassembler(DefaultMaxPacketGap)
	r.Push(first[0], 0)
	msg, ok := r.Push(second[0], 10)
	if !ok || string(msg) != "ok" {
		t.Errorf("Expected restart to decode %q, got %q %v", "ok", msg, ok)
	}
	if r.Stats().Restarts != 1 {
		t.Errorf("Expected 1 restart, got %d", r.Stats().Restarts)
	}
}

func TestReassemblerPaddingViolation(t *testing.T) {
	payloads, _ := EncodeMessage([]byte("a"))
	p := payloads[0]
	// Payload bits 17..24 hold the first byte after the message
	p[4] = 0x1f

	r := NewReassembler(DefaultMaxPacketGap)
	if msg, ok := r.Push(p, 0); ok {
		t.Fatalf("Expected padding violation, got %q", msg)
	}
	if r.Active() {
		t.Error("Expected reassembler to reset")
	}
	if r.Stats().PaddingViolations != 1 {
		t.Errorf("Expected 1 padding violation, got %d", r.Stats().PaddingViolations)
	}
}

func receiveAll(tr *Transceiver, signal []float32) []Event {
	var events []Event
	for _, s := range signal {
		if ev := tr.PushSample(s); ev.Kind != EventNone {
			events = append(events, ev)
		}
	}
	return events
}

func TestTransceiverMessageRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  []byte
	}{
		{"empty", []byte("")},
		{"one byte", []byte("!")},
		{"multi packet", []byte("acoustic modem")},
		{"utf8", []byte("ünïcødé ✓")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, err := New(44100)
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}
			txs, err := tr.SendMessage(tt.msg)
			if err != nil {
				t.Fatalf("SendMessage failed: %v", err)
			}

			signal := tr.Modulate(txs, 0.3)
			signal = append(signal, make([]float32, 44100/2)...)

			events := receiveAll(tr, signal)
			if len(events) != len(txs) {
				t.Fatalf("Expected %d events, got %d", len(txs), len(events))
			}
			for i, ev := range events {
				if ev.Payload != txs[i].Payload {
					t.Errorf("Event %d: expected payload %s, got %s", i, txs[i].Payload, ev.Payload)
				}
			}
			last := events[len(events)-1]
			if last.Kind != EventMessage {
				t.Fatalf("Expected final event to be a message, got %s", last.Kind)
			}
			if !bytes.Equal(last.Message, tt.msg) {
				t.Errorf("Expected %q, got %q", tt.msg, last.Message)
			}

			stats := tr.Stats()
			if stats.MessagesDecoded != 1 || stats.PayloadsDecoded != uint64(len(txs)) {
				t.Errorf("Unexpected stats: %+v", stats)
			}
		})
	}
}

func TestTransceiverGapTooLong(t *testing.T) {
	tr, err := New(44100, WithMaxPacketGap(0))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	txs, err := tr.SendMessage([]byte("hello!"))
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if len(txs) != 2 {
		t.Fatalf("Expected 2 packets, got %d", len(txs))
	}

	signal := tr.Modulate(txs, 1.0)
	for _, ev := range receiveAll(tr, signal) {
		if ev.Kind == EventMessage {
			t.Fatalf("Expected no message across a long gap, got %q", ev.Message)
		}
	}
	if tr.Stats().MessagesAbandoned != 1 {
		t.Errorf("Expected 1 abandoned message, got %d", tr.Stats().MessagesAbandoned)
	}
}

func TestNewRejectsInvalidOptions(t *testing.T) {
	if _, err := New(44100, WithMaxPacketGap(-1)); err == nil {
		t.Error("Expected error for negative packet gap")
	}
	if _, err := New(8000); !errors.Is(err, modem.ErrSampleRateTooLow) {
		t.Errorf("Expected ErrSampleRateTooLow, got %v", err)
	}
}

func TestSendRawPayload(t *testing.T) {
	tr, _ := New(44100)
	tx, err := tr.Send(modem.Payload{1, 2, 3})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if tx.Frequencies[0] != modem.Frequency(modem.SyncSymbols[0]) {
		t.Errorf("Expected sync frequency first, got %f", tx.Frequencies[0])
	}
	if _, err := tr.Send(modem.Payload{99}); !errors.Is(err, modem.ErrSymbolOutOfRange) {
		t.Errorf("Expected ErrSymbolOutOfRange, got %v", err)
	}
}

func TestFlushReleasesTrailingPacket(t *testing.T) {
	tr, err := New(44100)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	txs, err := tr.SendMessage([]byte("hi"))
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	// No silence after the last tone: the winner is still held back
	for _, ev := range receiveAll(tr, tr.Modulate(txs, 0)) {
		if ev.Kind == EventMessage {
			t.Fatalf("Did not expect the message before the flush, got %q", ev.Message)
		}
	}

	ev := tr.Flush()
	if ev.Kind != EventMessage {
		t.Fatalf("Expected the flush to release the message, got %s", ev.Kind)
	}
	if string(ev.Message) != "hi" || ev.Payload != txs[len(txs)-1].Payload {
		t.Errorf("Unexpected flushed event: %q %s", ev.Message, ev.Payload)
	}
	if again := tr.Flush(); again.Kind != EventNone {
		t.Errorf("Expected nothing on a second flush, got %s", again.Kind)
	}
}

func TestFlushWithoutPendingPacket(t *testing.T) {
	tr, err := New(44100)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	receiveAll(tr, make([]float32, 44100/4))
	before := tr.Stats().Samples

	if ev := tr.Flush(); ev.Kind != EventNone {
		t.Fatalf("Expected no event from silence, got %s", ev.Kind)
	}
	if after := tr.Stats().Samples; after != before {
		t.Errorf("Flush pushed %d samples with nothing pending", after-before)
	}
}

func TestModulateClampsGap(t *testing.T) {
	tr, err := New(22050)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	tx, err := tr.Send(modem.Payload{})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	packetLen := len(tr.Modulate([]Transmission{tx}, 0))

	tests := []struct {
		name string
		gap  float64
		want int
	}{
		{name: "negative", gap: -1, want: packetLen},
		{name: "nan", gap: math.NaN(), want: packetLen},
		{name: "one second", gap: 1, want: packetLen + 22050},
		{name: "huge", gap: 1e15, want: packetLen + int(MaxGap*22050)},
		{name: "infinite", gap: math.Inf(1), want: packetLen + int(MaxGap*22050)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := len(tr.Modulate([]Transmission{tx}, tt.gap)); got != tt.want {
				t.Errorf("Expected %d samples, got %d", tt.want, got)
			}
		})
	}
}
