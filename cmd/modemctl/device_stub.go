//go:build !portaudio

package main

import (
	"errors"
	"io"
)

var errNoAudioDevice = errors.New("live audio is not available: rebuild with -tags portaudio")

func runListen(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	return errNoAudioDevice
}

func runPlay(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	return errNoAudioDevice
}
