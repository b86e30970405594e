// Package wire implements the CASTV2 frame codec: a 4-byte big-endian
// length prefix around a hand-rolled protobuf encoding of the six-field
// CastMessage described in spec.md §4.3.1.
//
// A full protobuf runtime is deliberately not used here — the message
// schema is fixed at six fields using only wire types 0 (varint) and 2
// (length-delimited), which spec.md §9 calls out as the minimum viable
// approach.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Field numbers for CastMessage, stable per the Chromecast wire protocol.
const (
	fieldProtocolVersion = 1
	fieldSourceID        = 2
	fieldDestinationID   = 3
	fieldNamespace       = 4
	fieldPayloadType     = 5
	fieldPayloadUTF8     = 6
)

const (
	wireVarint = 0
	wireBytes  = 2
)

// PayloadType mirrors the CastMessage.payload_type enum; only STRING (0)
// is used since every namespace in this spec carries JSON text.
const PayloadTypeString = 0

// Message is the six-field CastMessage payload.
type Message struct {
	ProtocolVersion int
	SourceID        string
	DestinationID   string
	Namespace       string
	PayloadType     int
	PayloadUTF8     string
}

// Marshal encodes m as a protobuf byte stream (no length prefix).
func Marshal(m Message) []byte {
	var buf []byte
	buf = appendVarintField(buf, fieldProtocolVersion, uint64(m.ProtocolVersion))
	buf = appendStringField(buf, fieldSourceID, m.SourceID)
	buf = appendStringField(buf, fieldDestinationID, m.DestinationID)
	buf = appendStringField(buf, fieldNamespace, m.Namespace)
	buf = appendVarintField(buf, fieldPayloadType, uint64(m.PayloadType))
	buf = appendStringField(buf, fieldPayloadUTF8, m.PayloadUTF8)
	return buf
}

// Unmarshal decodes a protobuf byte stream into a Message. Unknown fields
// are skipped rather than rejected, per the "unknown-field tolerance"
// round-trip property in spec.md §8.
func Unmarshal(data []byte) (Message, error) {
	var m Message
	for len(data) > 0 {
		tag, n := binary.Uvarint(data)
		if n <= 0 {
			return m, errors.New("wire: bad tag varint")
		}
		data = data[n:]
		fieldNum := tag >> 3
		wireType := tag & 0x7

		switch wireType {
		case wireVarint:
			v, n := binary.Uvarint(data)
			if n <= 0 {
				return m, errors.New("wire: bad varint value")
			}
			data = data[n:]
			switch fieldNum {
			case fieldProtocolVersion:
				m.ProtocolVersion = int(v)
			case fieldPayloadType:
				m.PayloadType = int(v)
			}
		case wireBytes:
			length, n := binary.Uvarint(data)
			if n <= 0 {
				return m, errors.New("wire: bad length varint")
			}
			data = data[n:]
			if uint64(len(data)) < length {
				return m, errors.New("wire: truncated length-delimited field")
			}
			val := string(data[:length])
			data = data[length:]
			switch fieldNum {
			case fieldSourceID:
				m.SourceID = val
			case fieldDestinationID:
				m.DestinationID = val
			case fieldNamespace:
				m.Namespace = val
			case fieldPayloadUTF8:
				m.PayloadUTF8 = val
			}
		default:
			return m, fmt.Errorf("wire: unsupported wire type %d", wireType)
		}
	}
	return m, nil
}

func appendVarintField(buf []byte, field int, v uint64) []byte {
	buf = appendVarint(buf, uint64(field)<<3|wireVarint)
	return appendVarint(buf, v)
}

func appendStringField(buf []byte, field int, s string) []byte {
	buf = appendVarint(buf, uint64(field)<<3|wireBytes)
	buf = appendVarint(buf, uint64(len(s)))
	return append(buf, s...)
}

func appendVarint(buf []byte, v uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	return append(buf, tmp[:n]...)
}

// WriteFrame writes the 4-byte big-endian length prefix and the encoded
// message to w.
func WriteFrame(w io.Writer, m Message) error {
	payload := Marshal(m)
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))
	if _, err := w.Write(prefix[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadFrame reads one length-prefixed frame from r and decodes it.
func ReadFrame(r io.Reader) (Message, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return Message{}, err
	}
	length := binary.BigEndian.Uint32(prefix[:])
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Message{}, err
	}
	return Unmarshal(buf)
}
