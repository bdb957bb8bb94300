package main

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// VITA-49 packet codec for the FlexRadio streaming surfaces. The radio
// carries DAX audio as IF-Data packets (type 1) and discovery beacons as
// Extension packets (types 3/5) over UDP. All header words are big-endian.

// Header word 0 masks, per the VITA 49.0 layout.
const (
	vitaPacketTypeMask   = 0xF0000000
	vitaClassIDPresent   = 0x08000000
	vitaTrailerPresent   = 0x04000000
	vitaTSIMask          = 0x00C00000
	vitaTSFMask          = 0x00300000
	vitaPacketCountMask  = 0x000F0000
	vitaPacketSizeMask   = 0x0000FFFF
	vitaClassOUIMask     = 0x00FFFFFF
	vitaPacketTypeShift  = 28
	vitaTSIShift         = 22
	vitaTSFShift         = 20
	vitaPacketCountShift = 16
)

// Packet types (top nibble of word 0).
const (
	vitaTypeIFData        = 0x0 // IF data, no stream ID
	vitaTypeIFDataStream  = 0x1 // IF data with stream ID
	vitaTypeExtData       = 0x2 // extension data, no stream ID
	vitaTypeExtDataStream = 0x3 // extension data with stream ID
	vitaTypeContext       = 0x4 // context
	vitaTypeExtContext    = 0x5 // extension context
)

// TSI / TSF field values used on the TX audio path.
const (
	vitaTSINone = 0
	vitaTSIUTC  = 1
	vitaTSFNone = 0
	vitaTSFFree = 3 // free-running sample count
)

// FlexRadio constants: every discovery beacon carries this stream ID, and
// beacons with a class ID carry the FlexRadio OUI.
const (
	flexDiscoveryStreamID = 0x00000800
	flexOUI               = 0x001C2D
)

// txSamplesPerPacket is the fixed DAX TX frame size: 480 samples is 20 ms
// at 24 kHz.
const txSamplesPerPacket = 480

// VitaPacket is one parsed VITA-49 packet.
type VitaPacket struct {
	Type           int
	ClassIDPresent bool
	TrailerPresent bool
	TSI            int
	TSF            int
	PacketCount    int
	SizeWords      int
	StreamID       uint32
	ClassOUI       uint32
	ClassInfo      uint32
	TimestampInt   uint32
	TimestampFrac  uint64
	Payload        []byte
}

// hasStreamID reports whether the packet type carries a stream ID word.
func hasStreamID(pktType int) bool {
	switch pktType {
	case vitaTypeIFDataStream, vitaTypeExtDataStream, vitaTypeContext, vitaTypeExtContext:
		return true
	}
	return false
}

// ParseVita decodes a VITA-49 datagram. Datagrams shorter than 8 bytes are
// rejected outright; a declared packet size that overruns the datagram is a
// protocol error and the packet is dropped by the caller.
func ParseVita(data []byte) (*VitaPacket, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("%w: datagram too short (%d bytes)", ErrProtocol, len(data))
	}

	word0 := binary.BigEndian.Uint32(data)
	p := &VitaPacket{
		Type:           int(word0 >> vitaPacketTypeShift),
		ClassIDPresent: word0&vitaClassIDPresent != 0,
		TrailerPresent: word0&vitaTrailerPresent != 0,
		TSI:            int(word0 & vitaTSIMask >> vitaTSIShift),
		TSF:            int(word0 & vitaTSFMask >> vitaTSFShift),
		PacketCount:    int(word0 & vitaPacketCountMask >> vitaPacketCountShift),
		SizeWords:      int(word0 & vitaPacketSizeMask),
	}

	if p.SizeWords*4 > len(data) {
		return nil, fmt.Errorf("%w: packet size %d words exceeds datagram of %d bytes",
			ErrProtocol, p.SizeWords, len(data))
	}

	headerWords := 1
	off := 4
	if hasStreamID(p.Type) {
		if len(data) < off+4 {
			return nil, fmt.Errorf("%w: truncated stream ID", ErrProtocol)
		}
		p.StreamID = binary.BigEndian.Uint32(data[off:])
		off += 4
		headerWords++
	}
	if p.ClassIDPresent {
		if len(data) < off+8 {
			return nil, fmt.Errorf("%w: truncated class ID", ErrProtocol)
		}
		p.ClassOUI = binary.BigEndian.Uint32(data[off:]) & vitaClassOUIMask
		p.ClassInfo = binary.BigEndian.Uint32(data[off+4:])
		off += 8
		headerWords += 2
	}
	if p.TSI != vitaTSINone {
		if len(data) < off+4 {
			return nil, fmt.Errorf("%w: truncated integer timestamp", ErrProtocol)
		}
		p.TimestampInt = binary.BigEndian.Uint32(data[off:])
		off += 4
		headerWords++
	}
	if p.TSF != vitaTSFNone {
		if len(data) < off+8 {
			return nil, fmt.Errorf("%w: truncated fractional timestamp", ErrProtocol)
		}
		p.TimestampFrac = binary.BigEndian.Uint64(data[off:])
		off += 8
		headerWords += 2
	}

	trailerWords := 0
	if p.TrailerPresent {
		trailerWords = 1
	}

	payloadWords := p.SizeWords - headerWords - trailerWords
	if payloadWords < 0 {
		return nil, fmt.Errorf("%w: header exceeds declared packet size", ErrProtocol)
	}
	end := off + payloadWords*4
	if end > len(data) {
		return nil, fmt.Errorf("%w: payload overruns datagram", ErrProtocol)
	}
	p.Payload = data[off:end]
	return p, nil
}

// IsDiscovery reports whether the packet is a FlexRadio discovery beacon:
// extension flavor, the discovery stream ID, and the FlexRadio OUI when a
// class ID is present. Beacons without a class ID are accepted.
func (p *VitaPacket) IsDiscovery() bool {
	switch p.Type {
	case vitaTypeExtDataStream, vitaTypeContext, vitaTypeExtContext:
	default:
		return false
	}
	if p.StreamID != flexDiscoveryStreamID {
		return false
	}
	if p.ClassIDPresent && p.ClassOUI != flexOUI {
		return false
	}
	return true
}

// ParseDiscoveryPayload decodes a discovery beacon payload: UTF-8
// space-separated key=value tokens, keys lowercased. The radio pads the
// payload with NULs to a word boundary.
func ParseDiscoveryPayload(payload []byte) map[string]string {
	props := make(map[string]string)
	text := strings.TrimRight(string(payload), "\x00")
	for _, tok := range strings.Fields(text) {
		k, v, found := strings.Cut(tok, "=")
		if !found {
			continue
		}
		props[strings.ToLower(k)] = v
	}
	return props
}

// BuildTXAudioPacket renders one DAX TX audio packet: type 1 with stream ID,
// no class ID, UTC integer timestamp, free-running fractional timestamp set
// to the cumulative 24 kHz sample count, and 480 stereo big-endian float
// pairs with the mono input duplicated onto both channels.
//
// The caller supplies the low 4 bits of the packet sequence and the sample
// count snapshot taken when the frame was consumed. The destination buffer
// is reused across calls by the send worker.
func BuildTXAudioPacket(dst []byte, streamID uint32, seq int, epochSeconds uint32, sampleCount uint64, samples []float32) []byte {
	// 1 header + 1 stream ID + 1 integer TS + 2 fractional TS + payload.
	sizeWords := 5 + len(samples)*2
	need := sizeWords * 4
	if cap(dst) < need {
		dst = make([]byte, need)
	}
	dst = dst[:need]

	word0 := uint32(vitaTypeIFDataStream) << vitaPacketTypeShift
	word0 |= uint32(vitaTSIUTC) << vitaTSIShift
	word0 |= uint32(vitaTSFFree) << vitaTSFShift
	word0 |= uint32(seq&0xF) << vitaPacketCountShift
	word0 |= uint32(sizeWords) & vitaPacketSizeMask

	binary.BigEndian.PutUint32(dst, word0)
	binary.BigEndian.PutUint32(dst[4:], streamID)
	binary.BigEndian.PutUint32(dst[8:], epochSeconds)
	binary.BigEndian.PutUint64(dst[12:], sampleCount)

	off := 20
	for _, s := range samples {
		bits := math.Float32bits(s)
		binary.BigEndian.PutUint32(dst[off:], bits)
		binary.BigEndian.PutUint32(dst[off+4:], bits)
		off += 8
	}
	return dst
}

// DecodeFloatStereoPayload converts a LAN DAX payload of big-endian float32
// stereo pairs into mono by averaging the channels. Returns the number of
// stereo pairs consumed.
func DecodeFloatStereoPayload(payload []byte, out []float32) int {
	pairs := len(payload) / 8
	if pairs > len(out) {
		pairs = len(out)
	}
	for i := 0; i < pairs; i++ {
		l := math.Float32frombits(binary.BigEndian.Uint32(payload[i*8:]))
		r := math.Float32frombits(binary.BigEndian.Uint32(payload[i*8+4:]))
		out[i] = (l + r) / 2
	}
	return pairs
}
