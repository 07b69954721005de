//go:build portaudio

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/gordonklaus/portaudio"

	"github.com/skypro1111/acoustic-modem/internal/message"
)

const framesPerBuffer = 1024

func runListen(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("listen", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		sampleRate = fs.Int("rate", 44100, "capture sample rate in Hz")
		maxGap     = fs.Int("max-gap", message.DefaultMaxPacketGap, "silence tolerated between packets of one message, in measurements")
		raw        = fs.Bool("raw", false, "write message bytes only, even on a terminal")
	)
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	rx, err := message.New(*sampleRate, message.WithMaxPacketGap(*maxGap))
	if err != nil {
		return err
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize audio: %w", err)
	}
	defer portaudio.Terminate()

	in := make([]float32, framesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(*sampleRate), len(in), in)
	if err != nil {
		return fmt.Errorf("failed to open input: %w", err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return fmt.Errorf("failed to start input: %w", err)
	}
	defer stream.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	printer := &eventPrinter{
		w:          stdout,
		raw:        *raw || !isTerminal(stdout),
		sampleRate: *sampleRate,
	}
	fmt.Fprintf(stderr, "listening at %d Hz, press Ctrl-C to stop\n", *sampleRate)

	var sample uint64
	for ctx.Err() == nil {
		if err := stream.Read(); err != nil && err != portaudio.InputOverflowed {
			return fmt.Errorf("failed to read input: %w", err)
		}
		for _, s := range in {
			if err := printer.print(rx.PushSample(s), sample); err != nil {
				return err
			}
			sample++
		}
	}
	if err := printer.print(rx.Flush(), sample); err != nil {
		return err
	}

	fmt.Fprintf(stderr, "%d payloads, %d messages\n", printer.payloads, printer.messages)
	return nil
}

func runPlay(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("play", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		sampleRate = fs.Int("rate", 44100, "playback sample rate in Hz")
		gap        = fs.Float64("gap", 0.5, "silence after each packet in seconds")
		payload    = fs.String("payload", "", "play one raw payload given as 10 symbol mnemonics instead of a message")
	)
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if !(*gap >= 0 && *gap <= message.MaxGap) {
		return fmt.Errorf("gap must be between 0 and %g seconds, got %v", message.MaxGap, *gap)
	}

	tx, err := message.New(*sampleRate)
	if err != nil {
		return err
	}
	var msg []byte
	if *payload == "" {
		if msg, err = messageFromArgs(fs.Args(), stdin); err != nil {
			return err
		}
	}
	txs, err := transmissions(tx, *payload, msg)
	if err != nil {
		return err
	}
	samples := tx.Modulate(txs, *gap)

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize audio: %w", err)
	}
	defer portaudio.Terminate()

	out := make([]float32, framesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(*sampleRate), len(out), out)
	if err != nil {
		return fmt.Errorf("failed to open output: %w", err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return fmt.Errorf("failed to start output: %w", err)
	}
	defer stream.Stop()

	for offset := 0; offset < len(samples); offset += len(out) {
		n := copy(out, samples[offset:])
		clear(out[n:])
		if err := stream.Write(); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	}

	fmt.Fprintf(stderr, "played %d packets\n", len(txs))
	return nil
}
