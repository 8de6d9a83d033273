package pagefile

import (
	"encoding/binary"
	"fmt"
)

const (
	fileMagic   uint32 = 0x54524958 // "TRIX"
	fileVersion uint16 = 1
	headerSize         = 28

	freeMarker uint32 = 0xFEEEFEEE
)

// fileHeader is stored at offset 0 of a disk page file.
type fileHeader struct {
	PageSize uint32
	MaxPages uint32
	NumPages uint32
	FreeHead PageID
}

func (h fileHeader) encode(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:], fileMagic)
	binary.LittleEndian.PutUint16(buf[4:], fileVersion)
	binary.LittleEndian.PutUint16(buf[6:], 0)
	binary.LittleEndian.PutUint32(buf[8:], h.PageSize)
	binary.LittleEndian.PutUint32(buf[12:], h.MaxPages)
	binary.LittleEndian.PutUint32(buf[16:], h.NumPages)
	binary.LittleEndian.PutUint32(buf[20:], uint32(h.FreeHead))
	binary.LittleEndian.PutUint32(buf[24:], Checksum(buf[:24]))
}

func decodeHeader(buf []byte) (fileHeader, error) {
	if len(buf) < headerSize {
		return fileHeader{}, fmt.Errorf("header of %d bytes is truncated", len(buf))
	}
	if magic := binary.LittleEndian.Uint32(buf[0:]); magic != fileMagic {
		return fileHeader{}, fmt.Errorf("bad magic %#x", magic)
	}
	if v := binary.LittleEndian.Uint16(buf[4:]); v != fileVersion {
		return fileHeader{}, fmt.Errorf("unsupported version %d", v)
	}
	if crc := binary.LittleEndian.Uint32(buf[24:]); crc != Checksum(buf[:24]) {
		return fileHeader{}, fmt.Errorf("header checksum mismatch")
	}

	h := fileHeader{
		PageSize: binary.LittleEndian.Uint32(buf[8:]),
		MaxPages: binary.LittleEndian.Uint32(buf[12:]),
		NumPages: binary.LittleEndian.Uint32(buf[16:]),
		FreeHead: PageID(binary.LittleEndian.Uint32(buf[20:])),
	}
	if err := validatePageSize(int(h.PageSize)); err != nil {
		return fileHeader{}, err
	}
	return h, nil
}

func pageOffset(id PageID, pageSize int) int64 {
	return (int64(id) + 1) * int64(pageSize)
}

func encodeFreePage(next PageID) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:], freeMarker)
	binary.LittleEndian.PutUint32(buf[4:], uint32(next))
	return buf
}

func decodeFreePage(payload []byte) (PageID, bool) {
	if len(payload) < 8 || binary.LittleEndian.Uint32(payload) != freeMarker {
		return NoPage, false
	}
	return PageID(binary.LittleEndian.Uint32(payload[4:])), true
}
