// Package align implements the alignment payload: the framed record
// replicas exchange to catch up without a full data transfer. It supports
// two encodings — a fixed-width raw binary form and a length-delimited
// message form built on protobuf's wire primitives — and guarantees
// encode-then-decode is the identity on whatever subset a given encoding
// supports.
package align

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"
)

// FrameType identifies what an alignment payload carries.
type FrameType uint8

const (
	FrameNone FrameType = iota
	FrameBeginning
	FrameAlignment
	FrameEnd
)

// VersionEntry is one element of a global version vector: a 128-bit
// replica identity paired with the version it has reached.
type VersionEntry struct {
	GlobalTerm [16]byte
	Version    uint64
}

// ClassCapacity reports a replica's object-count budget for one class.
// Only the message encoding carries these; the raw encoding omits them by
// design.
type ClassCapacity struct {
	ClassIndex int32
	Capacity   int64
}

// Payload is the decoded form of an alignment frame.
type Payload struct {
	Type          FrameType
	GlobalVersion []VersionEntry
	ClassCapacity []ClassCapacity
}

// GlobalTermFromUUID builds a VersionEntry's GlobalTerm from a replica
// identity. A uuid.UUID is already a [16]byte array, so this is a
// conversion rather than a copy.
func GlobalTermFromUUID(u uuid.UUID) [16]byte {
	return [16]byte(u)
}

// ParseGlobalTerm parses a replica identity string (e.g. a config value
// or a peer's advertised id) into a GlobalTerm.
func ParseGlobalTerm(s string) ([16]byte, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return [16]byte{}, fmt.Errorf("align: parse global term %q: %w", s, err)
	}
	return GlobalTermFromUUID(u), nil
}

const rawVersionEntrySize = 16 + 8 // GlobalTerm + little-endian Version

// EncodeRaw renders p as the fixed-width raw encoding: a one-byte type, a
// four-byte little-endian entry count, then rawVersionEntrySize bytes per
// global-version entry. Class capacities are silently dropped — the raw
// encoding never carries them.
func EncodeRaw(p Payload) []byte {
	buf := make([]byte, 1+4+len(p.GlobalVersion)*rawVersionEntrySize)
	buf[0] = byte(p.Type)
	binary.LittleEndian.PutUint32(buf[1:5], uint32(len(p.GlobalVersion)))

	off := 5
	for _, v := range p.GlobalVersion {
		copy(buf[off:off+16], v.GlobalTerm[:])
		binary.LittleEndian.PutUint64(buf[off+16:off+24], v.Version)
		off += rawVersionEntrySize
	}
	return buf
}

// DecodeRaw parses the output of EncodeRaw. Its result never has
// ClassCapacity populated, matching the encoding's documented asymmetry.
func DecodeRaw(data []byte) (Payload, error) {
	if len(data) < 5 {
		return Payload{}, fmt.Errorf("align: raw payload too short: %d bytes", len(data))
	}
	p := Payload{Type: FrameType(data[0])}
	count := binary.LittleEndian.Uint32(data[1:5])

	want := 5 + int(count)*rawVersionEntrySize
	if len(data) != want {
		return Payload{}, fmt.Errorf("align: raw payload length %d, want %d for %d entries", len(data), want, count)
	}

	off := 5
	p.GlobalVersion = make([]VersionEntry, count)
	for i := range p.GlobalVersion {
		copy(p.GlobalVersion[i].GlobalTerm[:], data[off:off+16])
		p.GlobalVersion[i].Version = binary.LittleEndian.Uint64(data[off+16 : off+24])
		off += rawVersionEntrySize
	}
	return p, nil
}

// Field numbers for the message encoding.
const (
	fieldType          = 1
	fieldGlobalVersion = 2
	fieldClassCapacity = 3
)

// EncodeMessage renders p as a length-delimited wire-format message built
// directly with protowire's low-level encoder — no .proto file or gRPC
// service, just the framed-record shape a replica needs.
func EncodeMessage(p Payload) []byte {
	var buf []byte

	buf = protowire.AppendTag(buf, fieldType, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(p.Type))

	for _, v := range p.GlobalVersion {
		entry := make([]byte, rawVersionEntrySize)
		copy(entry[:16], v.GlobalTerm[:])
		binary.LittleEndian.PutUint64(entry[16:24], v.Version)

		buf = protowire.AppendTag(buf, fieldGlobalVersion, protowire.BytesType)
		buf = protowire.AppendBytes(buf, entry)
	}

	for _, c := range p.ClassCapacity {
		var inner []byte
		inner = protowire.AppendVarint(inner, uint64(int64(c.ClassIndex)))
		inner = protowire.AppendVarint(inner, uint64(c.Capacity))

		buf = protowire.AppendTag(buf, fieldClassCapacity, protowire.BytesType)
		buf = protowire.AppendBytes(buf, inner)
	}

	return buf
}

// DecodeMessage parses the output of EncodeMessage, including fields
// EncodeMessage never emits (forward-compatibility: unknown fields are
// skipped via protowire.ConsumeFieldValue).
func DecodeMessage(data []byte) (Payload, error) {
	var p Payload

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return Payload{}, fmt.Errorf("align: consume tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch num {
		case fieldType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return Payload{}, fmt.Errorf("align: consume type: %w", protowire.ParseError(n))
			}
			p.Type = FrameType(v)
			data = data[n:]

		case fieldGlobalVersion:
			b, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return Payload{}, fmt.Errorf("align: consume global_version: %w", protowire.ParseError(n))
			}
			if len(b) != rawVersionEntrySize {
				return Payload{}, fmt.Errorf("align: global_version entry length %d, want %d", len(b), rawVersionEntrySize)
			}
			var entry VersionEntry
			copy(entry.GlobalTerm[:], b[:16])
			entry.Version = binary.LittleEndian.Uint64(b[16:24])
			p.GlobalVersion = append(p.GlobalVersion, entry)
			data = data[n:]

		case fieldClassCapacity:
			b, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return Payload{}, fmt.Errorf("align: consume class_capacity: %w", protowire.ParseError(n))
			}
			idx, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return Payload{}, fmt.Errorf("align: consume class_capacity index: %w", protowire.ParseError(m))
			}
			b = b[m:]
			capVal, m2 := protowire.ConsumeVarint(b)
			if m2 < 0 {
				return Payload{}, fmt.Errorf("align: consume class_capacity value: %w", protowire.ParseError(m2))
			}
			p.ClassCapacity = append(p.ClassCapacity, ClassCapacity{
				ClassIndex: int32(idx),
				Capacity:   int64(capVal),
			})
			data = data[n:]

		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return Payload{}, fmt.Errorf("align: skip unknown field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}

	return p, nil
}
