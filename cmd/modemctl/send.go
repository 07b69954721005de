package main

import (
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/skypro1111/acoustic-modem/internal/audio"
	"github.com/skypro1111/acoustic-modem/internal/protocol"
)

func runSend(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		addr      = fs.String("addr", "127.0.0.1:4444", "modemd UDP address")
		streamID  = fs.Uint("stream", 1, "stream ID")
		label     = fs.String("label", "modemctl", "stream label (at most 31 bytes)")
		frameSize = fs.Int("frame", 960, "samples per audio frame")
		realtime  = fs.Bool("realtime", false, "pace frames at the audio rate")
		noEnd     = fs.Bool("no-end", false, "do not send the end frame")
	)
	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: modemctl send [options] file.wav")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return errUsage
	}
	maxFrame := (protocol.MaxPacketSize - protocol.HeaderSize - protocol.AudioPayloadHeaderSize) / 2
	if *frameSize < 1 || *frameSize > maxFrame {
		return fmt.Errorf("frame must be between 1 and %d samples, got %d", maxFrame, *frameSize)
	}
	if *streamID > uint(^uint32(0)) {
		return fmt.Errorf("stream ID %d does not fit in 32 bits", *streamID)
	}

	path := fs.Arg(0)
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	samples, sampleRate, err := audio.DecodeWAV(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	conn, err := net.Dial("udp", *addr)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", *addr, err)
	}
	defer conn.Close()

	id := uint32(*streamID)
	stats, err := sendStream(conn, id, *label, samples, sampleRate, *frameSize, *realtime)
	if err != nil {
		return err
	}

	if !*noEnd {
		if _, err := conn.Write(protocol.BuildEnd(id)); err != nil {
			return fmt.Errorf("failed to send end frame: %w", err)
		}
		stats.packets++
		stats.bytes += protocol.HeaderSize
	}

	fmt.Fprintf(stderr, "sent %s to %s as stream %d: %s packets, %s\n",
		path, *addr, id, humanize.Comma(int64(stats.packets)), humanize.Bytes(uint64(stats.bytes)))
	return nil
}

type sendStats struct {
	packets int
	bytes   int
}

// sendStream writes the start frame and every audio frame of samples
func sendStream(w io.Writer, streamID uint32, label string, samples []float32, sampleRate, frameSize int, realtime bool) (sendStats, error) {
	var stats sendStats

	start := protocol.BuildStart(streamID, uint32(sampleRate), label, uint32(time.Now().Unix()))
	if _, err := w.Write(start); err != nil {
		return stats, fmt.Errorf("failed to send start frame: %w", err)
	}
	stats.packets++
	stats.bytes += len(start)

	frameDuration := time.Duration(float64(frameSize) / float64(sampleRate) * float64(time.Second))
	pcm := audio.FloatToPCM16(samples)
	next := time.Now()

	var seq uint32
	for offset := 0; offset < len(pcm); offset += frameSize {
		end := min(offset+frameSize, len(pcm))
		frame, err := protocol.BuildAudio(streamID, seq, audio.PCM16ToBytes(pcm[offset:end]))
		if err != nil {
			return stats, err
		}
		if _, err := w.Write(frame); err != nil {
			return stats, fmt.Errorf("failed to send frame %d: %w", seq, err)
		}
		stats.packets++
		stats.bytes += len(frame)
		seq++

		if realtime {
			next = next.Add(frameDuration)
			time.Sleep(time.Until(next))
		}
	}
	return stats, nil
}
