package pagestore

import (
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"math"

	"github.com/wayfinder/tilecache/internal/storage"
)

// Kind tags the body layout of a record.
type Kind uint8

const (
	KindSingle    Kind = 1
	KindMultiPart Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindSingle:
		return "single"
	case KindMultiPart:
		return "multipart"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

const (
	// HeaderSize is length int32 + importance int16 + kind uint8.
	HeaderSize = 4 + 2 + 1
	// SingleOverhead is the fixed part of a single body: name length
	// prefix + payload length.
	SingleOverhead = 2 + 4
	// MultiOverhead is the part count prefix of a multi-part body.
	MultiOverhead = 2
	// PartSegmentSize is one per-part directory segment:
	// name hash + offset + length, all uint32.
	PartSegmentSize = 4 + 4 + 4

	maxRecordLen = math.MaxInt32
)

var (
	ErrCorruptRecord = errors.New("corrupt record")
	ErrPartNotFound  = errors.New("record part not found")
	errEmptyRecord   = errors.New("record has no parts")
)

// Header starts every record.
type Header struct {
	Length     int32
	Importance int16
	Kind       Kind
}

// Record is either a SingleRecord or a MultiPartRecord.
type Record interface {
	Kind() Kind
	// EncodedLen is the total record length, header included.
	EncodedLen() int
	record()
}

// SingleRecord stores one named payload.
type SingleRecord struct {
	Importance int16
	Name       string
	Payload    []byte
}

func (SingleRecord) Kind() Kind { return KindSingle }
func (SingleRecord) record()    {}

func (r SingleRecord) EncodedLen() int {
	return SingleLen(len(r.Name), len(r.Payload))
}

// Part is one component of a multi-part record, addressed by the hash of the
// identifier it was written under.
type Part struct {
	Hash uint32
	Data []byte
}

// NewPart hashes name.
func NewPart(name string, data []byte) Part {
	return Part{Hash: HashName(name), Data: data}
}

// MultiPartRecord stores several parts written together under one primary
// identifier.
type MultiPartRecord struct {
	Importance int16
	Parts      []Part
}

func (MultiPartRecord) Kind() Kind { return KindMultiPart }
func (MultiPartRecord) record()    {}

func (r MultiPartRecord) EncodedLen() int {
	total := 0
	for _, p := range r.Parts {
		total += len(p.Data)
	}
	return MultiLen(len(r.Parts), total)
}

// SingleLen is the encoded length of a single record.
func SingleLen(nameLen, payloadLen int) int {
	return HeaderSize + SingleOverhead + nameLen + payloadLen
}

// MultiLen is the encoded length of a multi-part record.
func MultiLen(parts, payloadLen int) int {
	return HeaderSize + MultiOverhead + parts*PartSegmentSize + payloadLen
}

// HashName is the FNV-1a 32 hash used to address parts.
func HashName(name string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(name))
	return h.Sum32()
}

// EncodeRecord serialises r.
func EncodeRecord(r Record) ([]byte, error) {
	n := r.EncodedLen()
	if n > maxRecordLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrRecordTooLarge, n)
	}
	buf := make([]byte, n)
	order := storage.ByteOrder
	order.PutUint32(buf[0:4], uint32(n))

	switch rec := r.(type) {
	case SingleRecord:
		if len(rec.Name) > math.MaxUint16 {
			return nil, fmt.Errorf("%w: name %d bytes", storage.ErrStringTooLong, len(rec.Name))
		}
		order.PutUint16(buf[4:6], uint16(rec.Importance))
		buf[6] = byte(KindSingle)
		pos := HeaderSize
		order.PutUint16(buf[pos:], uint16(len(rec.Name)))
		pos += 2
		pos += copy(buf[pos:], rec.Name)
		order.PutUint32(buf[pos:], uint32(len(rec.Payload)))
		pos += 4
		copy(buf[pos:], rec.Payload)
	case MultiPartRecord:
		if len(rec.Parts) == 0 {
			return nil, errEmptyRecord
		}
		if len(rec.Parts) > math.MaxUint16 {
			return nil, fmt.Errorf("too many parts: %d", len(rec.Parts))
		}
		order.PutUint16(buf[4:6], uint16(rec.Importance))
		buf[6] = byte(KindMultiPart)
		pos := HeaderSize
		order.PutUint16(buf[pos:], uint16(len(rec.Parts)))
		pos += 2
		data := pos + len(rec.Parts)*PartSegmentSize
		rel := 0
		for _, p := range rec.Parts {
			order.PutUint32(buf[pos:], p.Hash)
			order.PutUint32(buf[pos+4:], uint32(rel))
			order.PutUint32(buf[pos+8:], uint32(len(p.Data)))
			pos += PartSegmentSize
			copy(buf[data+rel:], p.Data)
			rel += len(p.Data)
		}
	default:
		return nil, fmt.Errorf("unknown record type %T", r)
	}
	return buf, nil
}

// DecodeHeader parses the first HeaderSize bytes of b.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("%w: short header", ErrCorruptRecord)
	}
	order := storage.ByteOrder
	h := Header{
		Length:     int32(order.Uint32(b[0:4])),
		Importance: int16(order.Uint16(b[4:6])),
		Kind:       Kind(b[6]),
	}
	if h.Length < HeaderSize {
		return h, fmt.Errorf("%w: length %d", ErrCorruptRecord, h.Length)
	}
	if h.Kind != KindSingle && h.Kind != KindMultiPart {
		return h, fmt.Errorf("%w: %s", ErrCorruptRecord, h.Kind)
	}
	return h, nil
}

// DecodeRecord parses one complete record. Payload slices alias b.
func DecodeRecord(b []byte) (Record, error) {
	h, err := DecodeHeader(b)
	if err != nil {
		return nil, err
	}
	if int(h.Length) != len(b) {
		return nil, fmt.Errorf("%w: declared %d bytes, have %d", ErrCorruptRecord, h.Length, len(b))
	}
	order := storage.ByteOrder
	body := b[HeaderSize:]

	switch h.Kind {
	case KindSingle:
		if len(body) < SingleOverhead {
			return nil, fmt.Errorf("%w: short single body", ErrCorruptRecord)
		}
		nameLen := int(order.Uint16(body))
		if len(body) < SingleOverhead+nameLen {
			return nil, fmt.Errorf("%w: name overruns record", ErrCorruptRecord)
		}
		name := string(body[2 : 2+nameLen])
		payloadLen := int(order.Uint32(body[2+nameLen:]))
		if SingleLen(nameLen, payloadLen) != len(b) {
			return nil, fmt.Errorf("%w: payload length %d does not match record", ErrCorruptRecord, payloadLen)
		}
		start := 2 + nameLen + 4
		return SingleRecord{Importance: h.Importance, Name: name, Payload: body[start : start+payloadLen]}, nil

	case KindMultiPart:
		if len(body) < MultiOverhead {
			return nil, fmt.Errorf("%w: short multipart body", ErrCorruptRecord)
		}
		count := int(order.Uint16(body))
		data := MultiOverhead + count*PartSegmentSize
		if count == 0 || len(body) < data {
			return nil, fmt.Errorf("%w: %d part segments overrun record", ErrCorruptRecord, count)
		}
		payload := body[data:]
		parts := make([]Part, count)
		for i := range parts {
			seg := body[MultiOverhead+i*PartSegmentSize:]
			off := int(order.Uint32(seg[4:]))
			n := int(order.Uint32(seg[8:]))
			if off < 0 || n < 0 || off+n > len(payload) {
				return nil, fmt.Errorf("%w: part %d overruns record", ErrCorruptRecord, i)
			}
			parts[i] = Part{Hash: order.Uint32(seg), Data: payload[off : off+n]}
		}
		return MultiPartRecord{Importance: h.Importance, Parts: parts}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrCorruptRecord, h.Kind)
}

// ReadRecord reads exactly one record from r.
func ReadRecord(r io.Reader) (Record, error) {
	return readRecord(r, maxRecordLen)
}

// readRecord refuses records declaring more than limit bytes before
// allocating for them.
func readRecord(r io.Reader, limit int64) (Record, error) {
	var head [HeaderSize]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptRecord, err)
	}
	h, err := DecodeHeader(head[:])
	if err != nil {
		return nil, err
	}
	if int64(h.Length) > limit {
		return nil, fmt.Errorf("%w: record of %d bytes overruns %d remaining", ErrCorruptRecord, h.Length, limit)
	}
	buf := make([]byte, h.Length)
	copy(buf, head[:])
	if _, err := io.ReadFull(r, buf[HeaderSize:]); err != nil {
		return nil, fmt.Errorf("%w: record of %d bytes: %w", ErrCorruptRecord, h.Length, err)
	}
	return DecodeRecord(buf)
}

// Payload returns the bytes stored for name. A single record answers any
// name, which lets aliases share one payload; a multi-part record matches
// the part hash.
func Payload(r Record, name string) ([]byte, error) {
	switch rec := r.(type) {
	case SingleRecord:
		return rec.Payload, nil
	case MultiPartRecord:
		h := HashName(name)
		for _, p := range rec.Parts {
			if p.Hash == h {
				return p.Data, nil
			}
		}
		return nil, fmt.Errorf("%w: %q", ErrPartNotFound, name)
	}
	return nil, fmt.Errorf("unknown record type %T", r)
}

// ReadPayload reads the record at the current position of r and returns the
// payload stored for name.
func ReadPayload(r io.Reader, name string) ([]byte, error) {
	rec, err := ReadRecord(r)
	if err != nil {
		return nil, err
	}
	return Payload(rec, name)
}
