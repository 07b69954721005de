package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/skypro1111/acoustic-modem/internal/audio"
	"github.com/skypro1111/acoustic-modem/internal/message"
	"github.com/skypro1111/acoustic-modem/internal/modem"
)

// transmissions prepares either one raw payload or every packet of msg
func transmissions(tx *message.Transceiver, payload string, msg []byte) ([]message.Transmission, error) {
	if payload != "" {
		p, err := modem.ParsePayload(payload)
		if err != nil {
			return nil, err
		}
		t, err := tx.Send(p)
		if err != nil {
			return nil, err
		}
		return []message.Transmission{t}, nil
	}
	return tx.SendMessage(msg)
}

// messageFromArgs joins the positional arguments, or reads stdin when there are none
func messageFromArgs(args []string, stdin io.Reader) ([]byte, error) {
	if len(args) > 0 {
		return []byte(strings.Join(args, " ")), nil
	}
	data, err := io.ReadAll(io.LimitReader(stdin, message.MaxMessageLen+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read message from stdin: %w", err)
	}
	return data, nil
}

func runEncode(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("encode", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		output     = fs.String("o", "message.wav", "output WAV file")
		sampleRate = fs.Int("rate", 44100, "sample rate in Hz")
		gap        = fs.Float64("gap", 0.5, "silence after each packet in seconds")
		payload    = fs.String("payload", "", "send one raw payload given as 10 symbol mnemonics instead of a message")
	)
	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: modemctl encode [options] [message...]")
		fmt.Fprintln(stderr, "The message is read from stdin when no arguments are given.")
		fs.PrintDefaults()
	}
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

	f, err := os.Create(*output)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", *output, err)
	}
	if err := audio.WriteWAV(f, samples, *sampleRate); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", *output, err)
	}

	duration := time.Duration(float64(len(samples)) / float64(*sampleRate) * float64(time.Second))
	fmt.Fprintf(stderr, "wrote %s: %d packets, %s of audio, %s\n",
		*output, len(txs), duration.Round(time.Millisecond), humanize.Bytes(uint64(44+2*len(samples))))
	return nil
}
