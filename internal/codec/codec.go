// Package codec names the contract the external codec adapter must
// satisfy. The routing core never encodes or decodes audio itself —
// opaque Opus payloads pass through C1/C10 untouched — but the jitter
// buffer's packet-loss concealment path needs a decode call on the
// recipient side, so that boundary is specified here as an interface
// with no implementation, the same way the wire codec leaves PCM
// capture/render to the audio I/O subsystem.
package codec

// SampleRate enumerates the server-selectable Opus sample rates, per
// spec §4.9. Any other requested value is coerced to Rate48000.
type SampleRate uint32

const (
	Rate8000  SampleRate = 8000
	Rate12000 SampleRate = 12000
	Rate16000 SampleRate = 16000
	Rate24000 SampleRate = 24000
	Rate48000 SampleRate = 48000
)

// Valid reports whether r is one of the enumerated rates.
func (r SampleRate) Valid() bool {
	switch r {
	case Rate8000, Rate12000, Rate16000, Rate24000, Rate48000:
		return true
	default:
		return false
	}
}

// CoerceSampleRate returns r unchanged if it is one of the enumerated
// rates, otherwise Rate48000. The caller is responsible for logging
// the coercion (spec §4.9 and design note §9: coercion must be
// explicit and logged, not silent as in the source).
func CoerceSampleRate(r uint32) (SampleRate, bool) {
	rate := SampleRate(r)
	if rate.Valid() {
		return rate, true
	}
	return Rate48000, false
}

// Decoder is a per-(sender, listener) Opus decoder instance. Spec §9
// mandates one instance per stream so packet-loss-concealment state
// (the decoder's internal history) never leaks between listeners —
// the source's shared-decoder-with-generation-counter path is treated
// as a bug. internal/jitter.Stream buffers and reorders raw opus
// payloads only, one Stream per (sender, listener); the external codec
// adapter consuming a Stream's Outcome is the one that must hold one
// Decoder per Stream and feed it Outcome.Data (or nil, for a PLC tick)
// in playback order.
//
// Decode(nil) must produce a concealment frame synthesized from the
// decoder's internal history, per the PLC contract in spec §1 and the
// GLOSSARY. Decode never panics on malformed input; it returns an
// error instead, which the caller treats as a lost frame for
// internal/netstats and substitutes with an additional PLC call.
type Decoder interface {
	Decode(packet []byte) (pcm []int16, err error)
}

// Encoder is the sender-side counterpart: one encoder per outbound
// voice stream. fecPercent configures the encoder-side forward error
// correction hint (spec §6, fec_percent, 0-20).
type Encoder interface {
	Encode(pcm []int16) (packet []byte, err error)
	SetFEC(fecPercent int)
}
