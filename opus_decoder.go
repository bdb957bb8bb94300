//go:build opus
// +build opus

package main

import (
	"fmt"

	opus "gopkg.in/hraban/opus.v2"
)

// Opus decode path for WAN audio. The radio sends one Opus frame per
// datagram: 48 kHz mono, 10 ms (480 samples). Building with -tags opus
// requires libopus and libopusfile; without the tag the stub in
// opus_stub.go is compiled instead and WAN audio is unavailable.

const opusDecodeAvailable = true

// OpusDecoder wraps the libopus decoder for the WAN RX path.
type OpusDecoder struct {
	decoder *opus.Decoder
	pcm     []float32
}

// NewOpusDecoder creates a 48 kHz mono decoder.
func NewOpusDecoder() (*OpusDecoder, error) {
	decoder, err := opus.NewDecoder(wanSampleRate, 1)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Opus decoder: %v", ErrResource, err)
	}
	return &OpusDecoder{
		decoder: decoder,
		pcm:     make([]float32, wanFrameSamples),
	}, nil
}

// Decode decodes one Opus frame to 480 mono float32 samples at 48 kHz. The
// returned slice is reused on the next call.
func (d *OpusDecoder) Decode(frame []byte) ([]float32, error) {
	n, err := d.decoder.DecodeFloat32(frame, d.pcm)
	if err != nil {
		return nil, fmt.Errorf("opus decode error: %w", err)
	}
	return d.pcm[:n], nil
}
