package hexrec

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

// RecordType is the Intel HEX record type field
type RecordType byte

const (
	TypeData         RecordType = 0x00
	TypeEOF          RecordType = 0x01
	TypeExtSegment   RecordType = 0x02
	TypeStartSegment RecordType = 0x03
	TypeExtLinear    RecordType = 0x04
	TypeStartLinear  RecordType = 0x05
)

const (
	// MaxRecordBytes is the receive buffer size on the board: count,
	// address, type, data and checksum must all fit.
	MaxRecordBytes = 70

	// MaxDataBytes is the largest data field that fits in MaxRecordBytes
	MaxDataBytes = MaxRecordBytes - 5

	// overhead is count(1) + address(2) + type(1) + checksum(1)
	overhead = 5
)

var (
	ErrNoStartCode = errors.New("record does not start with ':'")
	ErrBadHex      = errors.New("record contains invalid hex digits")
	ErrLength      = errors.New("record length does not match byte count")
	ErrChecksum    = errors.New("record checksum mismatch")
	ErrTooLong     = errors.New("record exceeds receive buffer")
	ErrNoEOF       = errors.New("missing end-of-file record")
)

func (t RecordType) String() string {
	switch t {
	case TypeData:
		return "data"
	case TypeEOF:
		return "eof"
	case TypeExtSegment:
		return "ext_segment"
	case TypeStartSegment:
		return "start_segment"
	case TypeExtLinear:
		return "ext_linear"
	case TypeStartLinear:
		return "start_linear"
	default:
		return fmt.Sprintf("type_%02x", byte(t))
	}
}

// Record is one decoded Intel HEX line
type Record struct {
	Address uint16
	Type    RecordType
	Data    []byte
}

// EOFRecord returns the standard ":00000001FF" terminator
func EOFRecord() Record {
	return Record{Type: TypeEOF}
}

// Checksum returns the two's complement of the byte sum
func Checksum(b []byte) byte {
	var sum byte
	for _, v := range b {
		sum += v
	}
	return -sum
}

// Bytes returns count, address, type, data and checksum without the start code
func (r Record) Bytes() []byte {
	b := make([]byte, 0, len(r.Data)+overhead)
	b = append(b, byte(len(r.Data)), byte(r.Address>>8), byte(r.Address), byte(r.Type))
	b = append(b, r.Data...)
	return append(b, Checksum(b))
}

// String returns the record as an Intel HEX line
func (r Record) String() string {
	return ":" + strings.ToUpper(hex.EncodeToString(r.Bytes()))
}

// ParseLine decodes a single Intel HEX line
func ParseLine(line string) (Record, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, ":") {
		return Record{}, ErrNoStartCode
	}

	raw, err := hex.DecodeString(line[1:])
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrBadHex, err)
	}
	if len(raw) < overhead {
		return Record{}, ErrLength
	}
	if len(raw) > MaxRecordBytes {
		return Record{}, fmt.Errorf("%w: %d bytes, limit %d", ErrTooLong, len(raw), MaxRecordBytes)
	}

	count := int(raw[0])
	if count+overhead != len(raw) {
		return Record{}, fmt.Errorf("%w: count %d, got %d data bytes", ErrLength, count, len(raw)-overhead)
	}
	if Checksum(raw) != 0 {
		return Record{}, fmt.Errorf("%w: sum %02x", ErrChecksum, -Checksum(raw))
	}

	return Record{
		Address: uint16(raw[1])<<8 | uint16(raw[2]),
		Type:    RecordType(raw[3]),
		Data:    append([]byte(nil), raw[4:len(raw)-1]...),
	}, nil
}

// Parse reads records until the EOF record. Blank lines are skipped.
func Parse(r io.Reader) ([]Record, error) {
	var records []Record

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		rec, err := ParseLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		records = append(records, rec)

		if rec.Type == TypeEOF {
			return records, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read hex file: %w", err)
	}

	return nil, ErrNoEOF
}
