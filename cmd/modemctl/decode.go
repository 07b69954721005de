package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/skypro1111/acoustic-modem/internal/audio"
	"github.com/skypro1111/acoustic-modem/internal/message"
)

// eventPrinter renders receiver events. In raw mode only message bytes are
// written, so the output can be piped into another program.
type eventPrinter struct {
	w          io.Writer
	raw        bool
	sampleRate int

	payloads int
	messages int
}

func (p *eventPrinter) print(ev message.Event, sample uint64) error {
	if ev.Kind == message.EventNone {
		return nil
	}
	p.payloads++
	if ev.Kind == message.EventMessage {
		p.messages++
	}

	if p.raw {
		if ev.Kind != message.EventMessage {
			return nil
		}
		_, err := p.w.Write(ev.Message)
		return err
	}

	at := time.Duration(float64(sample) / float64(p.sampleRate) * float64(time.Second)).Round(time.Millisecond)
	_, err := fmt.Fprintf(p.w, "%10s  payload %s  unmodified=%d snr=%s\n",
		at, ev.Payload, ev.Quality.Unmodified, formatSNR(ev.Quality.SNRSum))
	if err != nil || ev.Kind != message.EventMessage {
		return err
	}
	_, err = fmt.Fprintf(p.w, "%10s  message %s\n", at, strconv.Quote(string(ev.Message)))
	return err
}

func formatSNR(x float64) string {
	return strconv.FormatFloat(x, 'f', 1, 64)
}

func runDecode(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("decode", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		maxGap = fs.Int("max-gap", message.DefaultMaxPacketGap, "silence tolerated between packets of one message, in measurements")
		raw    = fs.Bool("raw", false, "write message bytes only, even on a terminal")
		text   = fs.Bool("text", false, "write the event listing, even when not on a terminal")
		quiet  = fs.Bool("q", false, "do not print the summary")
	)
	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: modemctl decode [options] file.wav")
		fmt.Fprintln(stderr, "Message bytes are written raw when stdout is not a terminal.")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return errUsage
	}
	if *raw && *text {
		return fmt.Errorf("-raw and -text are mutually exclusive")
	}

	path := fs.Arg(0)
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	samples, sampleRate, err := audio.DecodeWAV(f)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	rx, err := message.New(sampleRate, message.WithMaxPacketGap(*maxGap))
	if err != nil {
		return err
	}

	printer := &eventPrinter{
		w:          stdout,
		raw:        *raw || (!*text && !isTerminal(stdout)),
		sampleRate: sampleRate,
	}
	for i, s := range samples {
		if err := printer.print(rx.PushSample(s), uint64(i)); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	}
	// The last packet is released once its arbitration window closes
	if err := printer.print(rx.Flush(), uint64(len(samples))); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if !*quiet {
		stats := rx.Stats()
		var size int64
		if info, err := f.Stat(); err == nil {
			size = info.Size()
		}
		fmt.Fprintf(stderr, "%s: %s samples at %d Hz (%s), %d payloads, %d messages, %d rejected candidates\n",
			path, humanize.Comma(int64(len(samples))), sampleRate, humanize.Bytes(uint64(size)),
			printer.payloads, printer.messages, stats.CandidatesRejected)
	}
	return nil
}
