package main

// Upsampler2x doubles a 24 kHz mono stream to 48 kHz by linear
// interpolation. A one-sample carry bridges successive buffers so the
// interpolation is continuous across packet boundaries.
type Upsampler2x struct {
	prev   float32
	primed bool
}

// Process emits two output samples per input sample: the midpoint between
// the previous sample and this one, then the sample itself. The first call
// seeds the carry with its own first sample.
func (u *Upsampler2x) Process(in, out []float32) []float32 {
	if cap(out) < len(in)*2 {
		out = make([]float32, len(in)*2)
	}
	out = out[:len(in)*2]
	for i, s := range in {
		if !u.primed {
			u.prev = s
			u.primed = true
		}
		out[i*2] = (u.prev + s) / 2
		out[i*2+1] = s
		u.prev = s
	}
	return out
}

// Reset clears the carry. Called when the stream stops.
func (u *Upsampler2x) Reset() {
	u.prev = 0
	u.primed = false
}

// resampleLinear converts a mono buffer between arbitrary sample rates by
// linear interpolation. It is used on the microphone path to bring
// host-rate capture buffers to 24 kHz before framing; the fidelity of
// linear interpolation is sufficient for communication-bandwidth audio.
func resampleLinear(in []float32, fromRate, toRate int) []float32 {
	if fromRate == toRate || len(in) == 0 {
		out := make([]float32, len(in))
		copy(out, in)
		return out
	}
	n := len(in) * toRate / fromRate
	out := make([]float32, n)
	ratio := float64(fromRate) / float64(toRate)
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= len(in)-1 {
			out[i] = in[len(in)-1]
			continue
		}
		frac := float32(pos - float64(idx))
		out[i] = in[idx]*(1-frac) + in[idx+1]*frac
	}
	return out
}
