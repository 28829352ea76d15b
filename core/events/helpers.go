package events

import (
	"encoding/hex"
	"strconv"
)

// HexAttr renders raw bytes as 0x-prefixed lowercase hex for event
// attributes. Empty input yields an empty string.
func HexAttr(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	return "0x" + hex.EncodeToString(raw)
}

// UintAttr renders an unsigned counter for event attributes.
func UintAttr(v uint64) string {
	return strconv.FormatUint(v, 10)
}
