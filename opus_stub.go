//go:build !opus
// +build !opus

package main

import "fmt"

// Stub Opus decoder for builds without libopus. WAN audio is unavailable;
// the LAN float path is unaffected. To enable Opus support install
// libopus-dev and rebuild with: go build -tags opus
const opusDecodeAvailable = false

type OpusDecoder struct{}

func NewOpusDecoder() (*OpusDecoder, error) {
	return nil, fmt.Errorf("%w: built without Opus support (rebuild with -tags opus)", ErrResource)
}

func (d *OpusDecoder) Decode(frame []byte) ([]float32, error) {
	return nil, fmt.Errorf("%w: built without Opus support", ErrResource)
}
