package rom

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

// DescriptorType is stored in the top two bits of a descriptor word
type DescriptorType uint16

const (
	TypeText       DescriptorType = 1
	TypeHash       DescriptorType = 2
	TypeCompressed DescriptorType = 3
)

const (
	// DefaultCapacity is the ROM depth in 16-bit words
	DefaultCapacity = 2048

	// MaxDescriptorWords fits in the low 14 bits of a descriptor word
	MaxDescriptorWords = 0x3FFF

	// HashSize is a SHA-1 digest, e.g. a git commit id
	HashSize = 20
)

var (
	ErrBadHash           = errors.New("hash must be 40 hex digits")
	ErrDescriptorTooLong = errors.New("descriptor payload exceeds 14-bit length")
	ErrTooLarge          = errors.New("image exceeds ROM capacity")
	ErrTruncated         = errors.New("descriptor runs past end of image")
	ErrUnknownType       = errors.New("unknown descriptor type")
)

func (t DescriptorType) String() string {
	switch t {
	case TypeText:
		return "text"
	case TypeHash:
		return "hash"
	case TypeCompressed:
		return "compressed"
	default:
		return fmt.Sprintf("type_%d", uint16(t))
	}
}

// Descriptor is one decoded ROM entry. Compressed payloads are inflated.
type Descriptor struct {
	Type DescriptorType
	Data []byte
}

// Builder assembles descriptors into a word image
type Builder struct {
	words []uint16
}

// NewBuilder creates an empty image
func NewBuilder() *Builder {
	return &Builder{}
}

// AddText appends a text descriptor
func (b *Builder) AddText(s string) error {
	return b.add(TypeText, []byte(s))
}

// AddHash appends a 20-byte hash given as hex
func (b *Builder) AddHash(s string) error {
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != HashSize {
		return fmt.Errorf("%w: %q", ErrBadHash, s)
	}
	return b.add(TypeHash, raw)
}

// AddCompressed zlib-compresses data at best compression and appends it
func (b *Builder) AddCompressed(data []byte) error {
	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		return fmt.Errorf("failed to create compressor: %w", err)
	}
	if _, err := zw.Write(data); err != nil {
		return fmt.Errorf("failed to compress payload: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to flush compressor: %w", err)
	}
	return b.add(TypeCompressed, buf.Bytes())
}

// AddJSON marshals v and appends it as a compressed descriptor
func (b *Builder) AddJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal ROM payload: %w", err)
	}
	return b.AddCompressed(data)
}

func (b *Builder) add(t DescriptorType, payload []byte) error {
	packed := pack(payload)
	if len(packed) > MaxDescriptorWords {
		return fmt.Errorf("%w: %s descriptor is %d words", ErrDescriptorTooLong, t, len(packed))
	}
	b.words = append(b.words, uint16(t)<<14|uint16(len(packed)))
	b.words = append(b.words, packed...)
	return nil
}

// Words returns the image, checked against capacity (0 = DefaultCapacity)
func (b *Builder) Words(capacity int) ([]uint16, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if len(b.words) > capacity {
		return nil, fmt.Errorf("%w: %d words, capacity %d", ErrTooLarge, len(b.words), capacity)
	}
	return append([]uint16(nil), b.words...), nil
}

// pack stores bytes big endian, two per word, zero padding an odd tail
func pack(b []byte) []uint16 {
	words := make([]uint16, (len(b)+1)/2)
	for i, v := range b {
		if i%2 == 0 {
			words[i/2] = uint16(v) << 8
		} else {
			words[i/2] |= uint16(v)
		}
	}
	return words
}

func unpack(words []uint16) []byte {
	b := make([]byte, 0, len(words)*2)
	for _, w := range words {
		b = append(b, byte(w>>8), byte(w))
	}
	return b
}

// Decode walks descriptors until the end of the image or a zero word
func Decode(words []uint16) ([]Descriptor, error) {
	var out []Descriptor

	for i := 0; i < len(words); {
		head := words[i]
		if head == 0 {
			break
		}
		t := DescriptorType(head >> 14)
		n := int(head & MaxDescriptorWords)
		i++

		if i+n > len(words) {
			return nil, fmt.Errorf("%w: %s descriptor at word %d", ErrTruncated, t, i-1)
		}
		raw := unpack(words[i : i+n])
		i += n

		switch t {
		case TypeText:
			out = append(out, Descriptor{Type: t, Data: bytes.TrimRight(raw, "\x00")})
		case TypeHash:
			if len(raw) < HashSize {
				return nil, fmt.Errorf("%w: short hash", ErrTruncated)
			}
			out = append(out, Descriptor{Type: t, Data: raw[:HashSize]})
		case TypeCompressed:
			data, err := inflate(raw)
			if err != nil {
				return nil, err
			}
			out = append(out, Descriptor{Type: t, Data: data})
		default:
			return nil, fmt.Errorf("%w: %d", ErrUnknownType, uint16(t))
		}
	}

	return out, nil
}

func inflate(raw []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to open compressed descriptor: %w", err)
	}
	defer zr.Close()

	data, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("failed to inflate descriptor: %w", err)
	}
	return data, nil
}
