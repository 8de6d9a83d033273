package pagefile

import (
	"encoding/binary"
	"hash/crc32"
)

// crcTable is the IEEE polynomial table for page checksums.
var crcTable = crc32.MakeTable(crc32.IEEE)

// Checksum returns the CRC32 of data.
//
// CRC32 detects accidental corruption only; it is not tamper-proof.
func Checksum(data []byte) uint32 {
	return crc32.Checksum(data, crcTable)
}

// sealPage writes payload into page behind a checksum. The remainder of
// page is zeroed.
func sealPage(page, payload []byte) {
	body := page[checksumSize:]
	n := copy(body, payload)
	clear(body[n:])
	binary.LittleEndian.PutUint32(page, Checksum(body))
}

// verifyPage checks the checksum of page and returns its payload.
func verifyPage(page []byte) ([]byte, bool) {
	body := page[checksumSize:]
	return body, binary.LittleEndian.Uint32(page) == Checksum(body)
}
