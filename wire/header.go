package wire

import (
	"encoding/binary"
	"fmt"
)

// Wire envelope. Every document is preceded by a 4 byte little-endian
// header word: bits 0..29 carry the payload length, bit 30 distinguishes
// data from meta (0 = meta), bit 31 marks the document ready (1 = complete,
// 0 = streaming continuation).

const HeaderSize = 4

const MaxDocumentLength = 1<<30 - 1

const (
	headerLengthMask = 1<<30 - 1
	headerDataBit    = 1 << 30
	headerReadyBit   = 1 << 31
)

func EncodeHeader(b []byte, length int, meta bool, ready bool) error {
	if length < 0 || MaxDocumentLength < length {
		return fmt.Errorf("document length out of range: %d", length)
	}
	h := uint32(length)
	if !meta {
		h |= headerDataBit
	}
	if ready {
		h |= headerReadyBit
	}
	binary.LittleEndian.PutUint32(b, h)
	return nil
}

func DecodeHeader(b []byte) (length int, meta bool, ready bool) {
	h := binary.LittleEndian.Uint32(b)
	length = int(h & headerLengthMask)
	meta = h&headerDataBit == 0
	ready = h&headerReadyBit != 0
	return
}
