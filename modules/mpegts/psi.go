package mpegts

import "encoding/binary"

// crcTable is the MSB-first CRC-32/MPEG-2 table (poly 0x04C11DB7).
var crcTable = func() [256]uint32 {
	var t [256]uint32
	for i := range t {
		c := uint32(i) << 24
		for k := 0; k < 8; k++ {
			if c&0x80000000 != 0 {
				c = c<<1 ^ 0x04C11DB7
			} else {
				c <<= 1
			}
		}
		t[i] = c
	}
	return t
}()

// CRC32 computes the PSI section checksum.
func CRC32(data []byte) uint32 {
	crc := uint32(0xFFFFFFFF)
	for _, b := range data {
		crc = crc<<8 ^ crcTable[byte(crc>>24)^b]
	}
	return crc
}

// appendPAT appends a single-program PAT section (pointer field excluded).
func appendPAT(dst []byte, tsID, program, pmtPID uint16, version uint8) []byte {
	start := len(dst)
	dst = append(dst,
		0x00,       // table_id
		0xB0, 0x0D, // syntax=1, '0', reserved, section_length=13
	)
	dst = binary.BigEndian.AppendUint16(dst, tsID)
	dst = append(dst, 0xC1|(version&0x1F)<<1, 0x00, 0x00)
	dst = binary.BigEndian.AppendUint16(dst, program)
	dst = binary.BigEndian.AppendUint16(dst, 0xE000|pmtPID&0x1FFF)
	return binary.BigEndian.AppendUint32(dst, CRC32(dst[start:]))
}

// appendPMT appends a PMT section with one elementary stream.
func appendPMT(dst []byte, program, pcrPID, esPID uint16, streamType uint8, version uint8) []byte {
	start := len(dst)
	dst = append(dst,
		0x02,       // table_id
		0xB0, 0x12, // section_length=18
	)
	dst = binary.BigEndian.AppendUint16(dst, program)
	dst = append(dst, 0xC1|(version&0x1F)<<1, 0x00, 0x00)
	dst = binary.BigEndian.AppendUint16(dst, 0xE000|pcrPID&0x1FFF)
	dst = append(dst, 0xF0, 0x00) // program_info_length=0
	dst = append(dst, streamType)
	dst = binary.BigEndian.AppendUint16(dst, 0xE000|esPID&0x1FFF)
	dst = append(dst, 0xF0, 0x00) // ES_info_length=0
	return binary.BigEndian.AppendUint32(dst, CRC32(dst[start:]))
}
