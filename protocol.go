package main

import (
	"fmt"
	"strconv"
	"strings"
)

// SmartSDR control channel line codec. The radio speaks a line-oriented
// ASCII protocol on TCP 4992 (TLS 4994 for WAN): the client sends framed
// commands "C<seq>|<body>\n" and the radio answers with version ("V"),
// handle ("H"), response ("R"), status ("S") and meter ("M") lines.

// LineKind identifies the variant of a received control line.
type LineKind int

const (
	LineUnknown LineKind = iota
	LineVersion          // V<version>
	LineHandle           // H<hex handle>
	LineResponse         // R<seq>|<result>|[message]
	LineStatus           // S<handle>|<body>
	LineMeter            // M... (opaque to the engine)
)

// ParsedLine is one decoded line from the control channel.
type ParsedLine struct {
	Kind    LineKind
	Version string         // LineVersion
	Handle  string         // LineHandle
	Seq     uint32         // LineResponse
	Result  string         // LineResponse, eight hex digits or short form
	Message string         // LineResponse, kept verbatim including embedded '|'
	Status  *StatusMessage // LineStatus
}

// StatusMessage is a parsed unsolicited status body.
type StatusMessage struct {
	Handle   string            // hex client handle from the S prefix
	Object   string            // lowercased object type token
	Index    int               // slice index (Object == "slice")
	EQKind   string            // "rxsc" or "txsc" (Object == "eq")
	StreamID string            // "0x..." token (Object == "audio_stream")
	Props    map[string]string // key=value pairs, keys lowercased
}

// streamIDKey is the synthetic property under which an audio_stream status
// line's leading stream-ID token is retained.
const streamIDKey = "_stream_id"

// eqBands lists the eight fixed equalizer band centers in Hz.
var eqBands = []int{63, 125, 250, 500, 1000, 2000, 4000, 8000}

// Command bodies with no parameters.
const (
	cmdSubRadio       = "sub radio"
	cmdSubSliceAll    = "sub slice all"
	cmdSubMeterList   = "sub meter list"
	cmdSubAudioStream = "sub audio stream"
	cmdClientIP       = "client ip"
	cmdPing           = "ping"
	cmdSliceList      = "slice list"
	cmdStreamCreateTX = "stream create type=dax_tx"
)

// FrameCommand frames a command body for transmission.
func FrameCommand(seq uint32, body string) string {
	return fmt.Sprintf("C%d|%s\n", seq, body)
}

func cmdClientProgram(name string) string {
	return "client program " + name
}

func cmdClientUDPRegister(handle string) string {
	return "client udp_register handle=" + handle
}

func cmdClientUDPPort(port int) string {
	return fmt.Sprintf("client udpport %d", port)
}

func cmdWanValidate(handle string) string {
	return "wan validate handle=" + handle
}

func cmdSliceCreate(freqMHz float64, ant, mode string) string {
	return fmt.Sprintf("slice create freq=%.6f ant=%s mode=%s", freqMHz, ant, mode)
}

func cmdSliceTune(idx int, freqMHz float64) string {
	return fmt.Sprintf("slice t %d %.6f", idx, freqMHz)
}

func cmdSliceSet(idx int, key, value string) string {
	return fmt.Sprintf("slice set %d %s=%s", idx, key, value)
}

func cmdSliceRemove(idx int) string {
	return fmt.Sprintf("slice r %d", idx)
}

func cmdXmit(on bool) string {
	if on {
		return "xmit 1"
	}
	return "xmit 0"
}

// cmdEQMode enables or disables an equalizer ("rxsc" or "txsc").
func cmdEQMode(kind string, enabled bool) string {
	mode := "0"
	if enabled {
		mode = "1"
	}
	return fmt.Sprintf("eq %s mode=%s", kind, mode)
}

// cmdEQBand sets a single band. Outbound band keys carry a capital "Hz";
// the radio echoes them back lowercased.
func cmdEQBand(kind string, hz, value int) string {
	return fmt.Sprintf("eq %s %dHz=%d", kind, hz, value)
}

// cmdEQFlat zeroes all eight bands in a single command.
func cmdEQFlat(kind string) string {
	var b strings.Builder
	b.WriteString("eq ")
	b.WriteString(kind)
	for _, hz := range eqBands {
		fmt.Fprintf(&b, " %dHz=0", hz)
	}
	return b.String()
}

func cmdEQInfo(kind string) string {
	return fmt.Sprintf("eq %s info", kind)
}

func cmdStreamCreateDAXRX(channel int) string {
	return fmt.Sprintf("stream create type=dax_rx dax_channel=%d", channel)
}

func cmdStreamRemove(streamID uint32) string {
	return fmt.Sprintf("stream remove 0x%08X", streamID)
}

// ResultOK reports whether a response result code indicates success.
// The radio normally sends eight hex digits ("00000000") but short forms
// ("0") occur on some firmware.
func ResultOK(result string) bool {
	if result == "" {
		return false
	}
	for _, c := range result {
		if c != '0' {
			return false
		}
	}
	return true
}

// ResultFailed reports whether a result code indicates a command failure.
func ResultFailed(result string) bool {
	return strings.HasPrefix(result, "5")
}

// ParseLine decodes one control-channel line (without its trailing newline).
// Unknown prefixes yield LineUnknown; the caller ignores those lines.
func ParseLine(line string) ParsedLine {
	if line == "" {
		return ParsedLine{Kind: LineUnknown}
	}
	switch line[0] {
	case 'V':
		return ParsedLine{Kind: LineVersion, Version: strings.TrimSpace(line[1:])}
	case 'H':
		return ParsedLine{Kind: LineHandle, Handle: strings.TrimSpace(line[1:])}
	case 'R':
		return parseResponseLine(line[1:])
	case 'S':
		return parseStatusLine(line[1:])
	case 'M':
		return ParsedLine{Kind: LineMeter}
	default:
		return ParsedLine{Kind: LineUnknown}
	}
}

// parseResponseLine decodes "<seq>|<result>|[message]". Any additional
// '|'-separated fragments after the result belong to the message and are
// kept verbatim as one string.
func parseResponseLine(rest string) ParsedLine {
	parts := strings.SplitN(rest, "|", 3)
	if len(parts) < 2 {
		return ParsedLine{Kind: LineUnknown}
	}
	seq, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return ParsedLine{Kind: LineUnknown}
	}
	pl := ParsedLine{
		Kind:   LineResponse,
		Seq:    uint32(seq),
		Result: parts[1],
	}
	if len(parts) == 3 {
		pl.Message = parts[2]
	}
	return pl
}

// parseStatusLine decodes "<hex handle>|<body>".
func parseStatusLine(rest string) ParsedLine {
	sep := strings.IndexByte(rest, '|')
	if sep < 0 {
		return ParsedLine{Kind: LineUnknown}
	}
	sm := ParseStatusBody(rest[sep+1:])
	if sm == nil {
		return ParsedLine{Kind: LineUnknown}
	}
	sm.Handle = rest[:sep]
	return ParsedLine{Kind: LineStatus, Status: sm}
}

// ParseStatusBody tokenizes a status body on spaces. The first token is the
// object type; a handful of types carry a position-dependent second token
// (slice index, eq kind, stream ID) before the key=value pairs begin.
func ParseStatusBody(body string) *StatusMessage {
	fields := strings.Fields(body)
	if len(fields) == 0 {
		return nil
	}
	sm := &StatusMessage{
		Object: strings.ToLower(fields[0]),
		Props:  make(map[string]string),
	}
	rest := fields[1:]

	switch sm.Object {
	case "slice":
		// A parseable integer in the second position is the slice index;
		// otherwise the index defaults to 0 and the token is key=value.
		if len(rest) > 0 {
			if idx, err := strconv.Atoi(rest[0]); err == nil {
				sm.Index = idx
				rest = rest[1:]
			}
		}
	case "eq":
		if len(rest) > 0 && (rest[0] == "rxsc" || rest[0] == "txsc") {
			sm.EQKind = rest[0]
			rest = rest[1:]
		}
	case "audio_stream", "dax_audio", "audio":
		sm.Object = "audio_stream"
		if len(rest) > 0 && (strings.HasPrefix(rest[0], "0x") || strings.HasPrefix(rest[0], "0X")) {
			sm.StreamID = rest[0]
			sm.Props[streamIDKey] = rest[0]
			rest = rest[1:]
		}
	case "panadapter", "waterfall":
		// Display streams; retained for diagnostic pass-through only.
	case "radio", "meter", "slice_list":
	}

	for _, tok := range rest {
		k, v, found := strings.Cut(tok, "=")
		if !found {
			continue
		}
		sm.Props[strings.ToLower(k)] = v
	}
	return sm
}

// BuildStatusBody renders a StatusMessage back into its wire form. The
// object type and positional token are re-emitted first, followed by the
// key=value pairs in band order where applicable. Used to verify that
// parsing is lossless for the recognized object types.
func BuildStatusBody(sm *StatusMessage) string {
	var b strings.Builder
	b.WriteString(sm.Object)
	switch sm.Object {
	case "slice":
		fmt.Fprintf(&b, " %d", sm.Index)
	case "eq":
		if sm.EQKind != "" {
			b.WriteString(" " + sm.EQKind)
		}
	case "audio_stream":
		if sm.StreamID != "" {
			b.WriteString(" " + sm.StreamID)
		}
	}
	for _, k := range sortedKeys(sm.Props) {
		if k == streamIDKey {
			continue
		}
		b.WriteString(" " + k + "=" + sm.Props[k])
	}
	return b.String()
}

// ParseEQBands extracts the eight fixed bands from a status property map.
// Only bands present in the map are returned; callers leave missing bands
// unchanged.
func ParseEQBands(props map[string]string) map[int]int {
	bands := make(map[int]int)
	for _, hz := range eqBands {
		v, ok := props[fmt.Sprintf("%dhz", hz)]
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			continue
		}
		bands[hz] = n
	}
	return bands
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// Insertion sort; property maps are tiny.
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j] < keys[j-1]; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	return keys
}

// ParseStreamID extracts a 32-bit stream ID from a stream-create response
// message. The radio pads the message with whitespace and a trailing '|';
// both "0x"-prefixed and bare hex are accepted.
func ParseStreamID(message string) (uint32, error) {
	s := strings.TrimSpace(message)
	s = strings.TrimSuffix(s, "|")
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		return 0, fmt.Errorf("%w: empty stream ID", ErrProtocol)
	}
	id, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: bad stream ID %q", ErrProtocol, message)
	}
	return uint32(id), nil
}
