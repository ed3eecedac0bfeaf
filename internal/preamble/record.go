package preamble

import (
	"fmt"

	"beaconrig/domain/core"
)

// Record framing: [magic][cond_id][repeat][crc8]
const (
	Magic      byte = 0xA5
	RecordSize      = 4
	recordBits      = RecordSize * 8
)

// Record identifies the trial condition on the pulse line
type Record struct {
	ConditionID uint8
	Repeat      uint8
}

// Encode frames the record with magic and CRC-8
func (r Record) Encode() []byte {
	buf := []byte{Magic, r.ConditionID, r.Repeat, 0}
	buf[3] = CRC8(buf[:3])
	return buf
}

// DecodeRecord checks framing and CRC. Any mismatch is a preamble corruption.
func DecodeRecord(buf []byte) (Record, error) {
	if len(buf) != RecordSize {
		return Record{}, fmt.Errorf("%w: record is %d bytes, want %d", core.ErrPreambleCorruption, len(buf), RecordSize)
	}
	if buf[0] != Magic {
		return Record{}, fmt.Errorf("%w: bad magic 0x%02x", core.ErrPreambleCorruption, buf[0])
	}
	if got, want := buf[3], CRC8(buf[:3]); got != want {
		return Record{}, fmt.Errorf("%w: crc 0x%02x, computed 0x%02x", core.ErrPreambleCorruption, got, want)
	}
	if buf[1] == 0 {
		return Record{}, fmt.Errorf("%w: condition id 0", core.ErrPreambleCorruption)
	}
	return Record{ConditionID: buf[1], Repeat: buf[2]}, nil
}

var crc8Table = func() [256]byte {
	var t [256]byte
	for i := 0; i < 256; i++ {
		c := byte(i)
		for b := 0; b < 8; b++ {
			if c&0x80 != 0 {
				c = c<<1 ^ 0x07
			} else {
				c <<= 1
			}
		}
		t[i] = c
	}
	return t
}()

// CRC8 computes CRC-8 with polynomial 0x07 and zero init
func CRC8(data []byte) byte {
	var crc byte
	for _, b := range data {
		crc = crc8Table[crc^b]
	}
	return crc
}

// bits expands bytes MSB first
func bits(buf []byte) []bool {
	out := make([]bool, 0, len(buf)*8)
	for _, b := range buf {
		for i := 7; i >= 0; i-- {
			out = append(out, b&(1<<uint(i)) != 0)
		}
	}
	return out
}

// pack folds MSB-first bits back into bytes; len(bs) must be a multiple of 8
func pack(bs []bool) []byte {
	out := make([]byte, len(bs)/8)
	for i, bit := range bs {
		if bit {
			out[i/8] |= 1 << uint(7-i%8)
		}
	}
	return out
}
