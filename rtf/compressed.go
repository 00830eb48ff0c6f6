package rtf

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
)

const (
	magicCompressed   = 0x75465A4C // "LZFu"
	magicUncompressed = 0x414C454D // "MELA"

	headerSize = 16
	dictSize   = 4096
)

// dictPrefix preloads the LZ77 dictionary of compressed RTF.
const dictPrefix = `{\rtf1\ansi\mac\deff0\deftab720{\fonttbl;}{\f0\fnil \froman \fswiss \fmodern \fscript \fdecor MS Sans SerifSymbolArialTimes New RomanCourier{\colortbl\red0\green0\blue0` +
	"\r\n" + `\par \pard\plain\f0\fs20\b\i\u\tab\tx`

var (
	ErrShortHeader = errors.New("compressed rtf: short header")
	ErrBadMagic    = errors.New("compressed rtf: unknown compression type")
	ErrChecksum    = errors.New("compressed rtf: checksum mismatch")
	ErrTruncated   = errors.New("compressed rtf: truncated data")
)

// Decompress expands a PR_RTF_COMPRESSED stream. Input that already starts
// with an RTF signature is returned unchanged.
func Decompress(data []byte) ([]byte, error) {
	if bytes.HasPrefix(data, []byte(`{\rtf`)) {
		return data, nil
	}
	if len(data) < headerSize {
		return nil, ErrShortHeader
	}

	compSize := binary.LittleEndian.Uint32(data[0:4])
	rawSize := binary.LittleEndian.Uint32(data[4:8])
	magic := binary.LittleEndian.Uint32(data[8:12])
	crc := binary.LittleEndian.Uint32(data[12:16])

	end := int(compSize) + 4
	if end < headerSize || end > len(data) {
		return nil, fmt.Errorf("%w: header claims %d bytes, have %d", ErrTruncated, end, len(data))
	}
	payload := data[headerSize:end]

	switch magic {
	case magicUncompressed:
		if int(rawSize) > len(payload) {
			return nil, fmt.Errorf("%w: raw size %d exceeds payload %d", ErrTruncated, rawSize, len(payload))
		}
		return bytes.Clone(payload[:rawSize]), nil
	case magicCompressed:
		if got := checksum(payload); got != crc {
			return nil, fmt.Errorf("%w: header 0x%08X, computed 0x%08X", ErrChecksum, crc, got)
		}
		return inflate(payload, int(rawSize))
	default:
		return nil, fmt.Errorf("%w 0x%08X", ErrBadMagic, magic)
	}
}

// checksum is CRC-32 (IEEE) seeded with zero and without the final inversion.
func checksum(p []byte) uint32 {
	return ^crc32.Update(^uint32(0), crc32.IEEETable, p)
}

func inflate(in []byte, rawSize int) ([]byte, error) {
	var dict [dictSize]byte
	copy(dict[:], dictPrefix)
	write := len(dictPrefix)

	out := make([]byte, 0, rawSize)
	pos := 0
	for pos < len(in) {
		control := in[pos]
		pos++
		for bit := 0; bit < 8; bit++ {
			if pos >= len(in) {
				return out, nil
			}
			if control&(1<<bit) == 0 {
				b := in[pos]
				pos++
				out = append(out, b)
				dict[write] = b
				write = (write + 1) % dictSize
				continue
			}

			if pos+1 >= len(in) {
				return nil, ErrTruncated
			}
			ref := int(in[pos])<<8 | int(in[pos+1])
			pos += 2
			offset, length := ref>>4, (ref&0x0F)+2
			if offset == write {
				return out, nil
			}
			for i := 0; i < length; i++ {
				b := dict[(offset+i)%dictSize]
				out = append(out, b)
				dict[write] = b
				write = (write + 1) % dictSize
			}
		}
	}
	return out, nil
}

// Store wraps raw RTF in an uncompressed (MELA) PR_RTF_COMPRESSED stream.
func Store(raw []byte) []byte {
	out := make([]byte, headerSize+len(raw))
	binary.LittleEndian.PutUint32(out[0:4], uint32(len(raw)+headerSize-4))
	binary.LittleEndian.PutUint32(out[4:8], uint32(len(raw)))
	binary.LittleEndian.PutUint32(out[8:12], magicUncompressed)
	copy(out[headerSize:], raw)
	return out
}
