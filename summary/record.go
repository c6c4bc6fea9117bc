package summary

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
)

// ErrCorruptRecord is returned when a record's length or data checksum does not match.
var ErrCorruptRecord = errors.New("summary: corrupt record")

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// maxRecordLen bounds the payload size readRecord accepts. Scalar events are a
// few dozen bytes.
const maxRecordLen = 64 << 20

// maskedCRC is the TFRecord checksum: a rotated CRC-32C plus a constant.
func maskedCRC(data []byte) uint32 {
	crc := crc32.Checksum(data, castagnoli)
	return ((crc >> 15) | (crc << 17)) + 0xa282ead8
}

// writeRecord frames data as
//
//	uint64 length | uint32 masked_crc(length) | data | uint32 masked_crc(data)
//
// all little-endian.
func writeRecord(w io.Writer, data []byte) error {
	var header [12]byte
	binary.LittleEndian.PutUint64(header[:8], uint64(len(data)))
	binary.LittleEndian.PutUint32(header[8:], maskedCRC(header[:8]))

	var footer [4]byte
	binary.LittleEndian.PutUint32(footer[:], maskedCRC(data))

	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err := w.Write(footer[:])
	return err
}

// readRecord returns the next record payload, or io.EOF at a clean end of stream.
func readRecord(r io.Reader) ([]byte, error) {
	var header [12]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: truncated header", ErrCorruptRecord)
		}
		return nil, err
	}
	if binary.LittleEndian.Uint32(header[8:]) != maskedCRC(header[:8]) {
		return nil, fmt.Errorf("%w: length checksum mismatch", ErrCorruptRecord)
	}

	length := binary.LittleEndian.Uint64(header[:8])
	if length > maxRecordLen {
		return nil, fmt.Errorf("%w: record length %d exceeds %d", ErrCorruptRecord, length, maxRecordLen)
	}
	data := make([]byte, length+4)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("%w: truncated payload: %v", ErrCorruptRecord, err)
	}

	payload, footer := data[:length], data[length:]
	if binary.LittleEndian.Uint32(footer) != maskedCRC(payload) {
		return nil, fmt.Errorf("%w: data checksum mismatch", ErrCorruptRecord)
	}
	return payload, nil
}
