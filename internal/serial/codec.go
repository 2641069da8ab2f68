package serial

import (
	"bytes"
	"fmt"

	"github.com/phnahes/can-gateway/internal/frame"
	"github.com/phnahes/can-gateway/internal/metrics"
)

// Codec implements the Lawicel/CanHacker ASCII serial protocol: each
// command is a single letter followed by hex digits and terminated by \r.
// The adapter acknowledges a command with \r or rejects it with \x07
// (BEL); Codec only handles the frame commands (t/T/r/R), not channel
// control (S/O/C/V/N), which this package does not send.
type Codec struct{}

const (
	cmdStandard    = 't'
	cmdExtended    = 'T'
	cmdStandardRTR = 'r'
	cmdExtendedRTR = 'R'
	ack            = '\r'
	nack           = 0x07
)

var hexDigits = "0123456789ABCDEF"

// CompactBuffer reclaims consumed prefix capacity when underlying buffer
// grows too large relative to unread bytes. It returns true if compaction
// occurred. Thresholds chosen to avoid excessive copying.
func CompactBuffer(b *bytes.Buffer) bool {
	data := b.Bytes()
	if len(data) < 1024 {
		return false
	}
	if cap(data) > 0 && len(data)*4 < cap(data) {
		clone := make([]byte, len(data))
		copy(clone, data)
		b.Reset()
		_, _ = b.Write(clone)
		return true
	}
	return false
}

// Encode renders f as a Lawicel transmit command: "tIIILDD...\r" for an
// 11-bit ID or "TIIIIIIIIDD...\r" for a 29-bit ID. RTR frames use the
// lowercase/uppercase 'r'/'R' variants and carry no data bytes.
func (Codec) Encode(f frame.Frame) []byte {
	extended := f.Extended()
	rtr := f.RTR()
	id := f.ID()

	var buf bytes.Buffer
	switch {
	case extended && rtr:
		buf.WriteByte(cmdExtendedRTR)
		writeHex(&buf, id, 8)
	case extended:
		buf.WriteByte(cmdExtended)
		writeHex(&buf, id, 8)
	case rtr:
		buf.WriteByte(cmdStandardRTR)
		writeHex(&buf, id, 3)
	default:
		buf.WriteByte(cmdStandard)
		writeHex(&buf, id, 3)
	}
	buf.WriteByte(hexDigits[f.Len&0x0F])
	if !rtr {
		for _, b := range f.Data[:f.Len] {
			writeHexByte(&buf, b)
		}
	}
	buf.WriteByte('\r')
	return buf.Bytes()
}

func writeHex(buf *bytes.Buffer, v uint32, digits int) {
	for i := digits - 1; i >= 0; i-- {
		buf.WriteByte(hexDigits[(v>>(uint(i)*4))&0xF])
	}
}

func writeHexByte(buf *bytes.Buffer, b byte) {
	buf.WriteByte(hexDigits[b>>4])
	buf.WriteByte(hexDigits[b&0xF])
}

// DecodeStream scans in for complete \r-terminated lines and emits every
// recognized t/T/r/R frame command through out. Unrecognized command
// bytes, malformed hex, or truncated lines are skipped by resyncing to the
// next \r — the adapter protocol carries no length prefix, so a bad byte
// can only be recovered at a frame boundary, not mid-line.
func (Codec) DecodeStream(in *bytes.Buffer, out func(frame.Frame)) error {
	for {
		_ = CompactBuffer(in)
		data := in.Bytes()

		idx := bytes.IndexByte(data, ack)
		if idx < 0 {
			return nil
		}
		line := data[:idx]
		in.Next(idx + 1)

		if len(line) == 0 {
			continue
		}
		f, ok := decodeLine(line)
		if !ok {
			metrics.IncMalformed()
			continue
		}
		out(f)
		metrics.IncSerialRx()
	}
}

func decodeLine(line []byte) (frame.Frame, bool) {
	cmd := line[0]
	rest := line[1:]

	switch cmd {
	case cmdStandard, cmdStandardRTR:
		return decodeFrameLine(rest, 3, cmd == cmdStandardRTR, false)
	case cmdExtended, cmdExtendedRTR:
		return decodeFrameLine(rest, 8, cmd == cmdExtendedRTR, true)
	default:
		return frame.Frame{}, false
	}
}

func decodeFrameLine(rest []byte, idDigits int, rtr, extended bool) (frame.Frame, bool) {
	if len(rest) < idDigits+1 {
		return frame.Frame{}, false
	}
	id, ok := parseHex32(rest[:idDigits])
	if !ok {
		return frame.Frame{}, false
	}
	dlcDigit, ok := hexValue(rest[idDigits])
	if !ok || dlcDigit > 8 {
		return frame.Frame{}, false
	}
	var payload []byte
	if !rtr {
		need := idDigits + 1 + int(dlcDigit)*2
		if len(rest) < need {
			return frame.Frame{}, false
		}
		payload = make([]byte, dlcDigit)
		for i := 0; i < int(dlcDigit); i++ {
			b, ok := parseHexByte(rest[idDigits+1+i*2 : idDigits+1+i*2+2])
			if !ok {
				return frame.Frame{}, false
			}
			payload[i] = b
		}
	}

	f, err := frame.New(id, payload, extended, rtr)
	if err != nil {
		return frame.Frame{}, false
	}
	if rtr {
		f.Len = dlcDigit
	}
	return f, true
}

func hexValue(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	default:
		return 0, false
	}
}

func parseHexByte(b []byte) (byte, bool) {
	if len(b) != 2 {
		return 0, false
	}
	hi, ok1 := hexValue(b[0])
	lo, ok2 := hexValue(b[1])
	if !ok1 || !ok2 {
		return 0, false
	}
	return hi<<4 | lo, true
}

func parseHex32(b []byte) (uint32, bool) {
	var v uint32
	for _, c := range b {
		n, ok := hexValue(c)
		if !ok {
			return 0, false
		}
		v = v<<4 | uint32(n)
	}
	return v, true
}

// ErrNAK reports an adapter rejecting the last command with \x07 (BEL).
var ErrNAK = fmt.Errorf("serial: adapter returned NAK (0x07)")
