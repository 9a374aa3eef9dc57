// Package midiin reads note onsets from raw MIDI byte streams.
package midiin

import (
	"gitlab.com/gomidi/midi/v2"
)

// Parser frames a raw MIDI byte stream into complete messages. Raw
// device nodes (/dev/midi*, /dev/snd/midiC*D*) deliver bare wire bytes,
// so status framing and running status are handled here; message
// semantics are left to the gomidi message type.
type Parser struct {
	status byte
	data   [2]byte
	have   int
	want   int
}

// Feed consumes one wire byte and reports a complete channel voice
// message when the byte finishes one. Real-time bytes (0xF8..0xFF) are
// transparent per the MIDI spec and never disturb framing; system
// common and sysex bytes cancel running status.
func (p *Parser) Feed(b byte) (midi.Message, bool) {
	switch {
	case b >= 0xF8:
		// Real-time: clock, start, stop, active sensing. Not onsets.
		return nil, false
	case b >= 0xF0:
		// System common / sysex clears running status.
		p.status = 0
		p.have = 0
		return nil, false
	case b >= 0x80:
		p.status = b
		p.have = 0
		p.want = dataLength(b)
		return nil, false
	}

	// Data byte.
	if p.status == 0 {
		// Stray data with no status to attach to.
		return nil, false
	}
	p.data[p.have] = b
	p.have++
	if p.have < p.want {
		return nil, false
	}

	msg := midi.Message(append([]byte{p.status}, p.data[:p.want]...))
	// Running status: keep the status, restart data collection.
	p.have = 0
	return msg, true
}

// Reset discards framing state, e.g. after a read error on the device.
func (p *Parser) Reset() {
	p.status = 0
	p.have = 0
	p.want = 0
}

// dataLength returns the number of data bytes for a channel voice
// status byte. Program change and channel pressure carry one byte,
// everything else two.
func dataLength(status byte) int {
	switch status & 0xF0 {
	case 0xC0, 0xD0:
		return 1
	default:
		return 2
	}
}
