// SPDX-License-Identifier: MIT
package udp

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"locator/internal/tdoa"
)

/*
UDP Packet Structure (BigEndian)

+-----------------------------------------------------------------------------+
| Field             | Data Type      | Size (Bytes) | Description             |
|-------------------|----------------|--------------|-------------------------|
| Sequence Number   | uint32         | 4            | Tick sequence (low bits)|
| Timestamp         | int64          | 8            | Nanoseconds since epoch |
| Pair Count        | uint16         | 2            | Number of entries (N)   |
| Entries           | []entry        | N * 48       | One per pair            |
+-----------------------------------------------------------------------------+

Entry:

+-----------------------------------------------------------------------------+
| First Source ID   | [16]byte       | 16           | Zero padded, truncated  |
| Second Source ID  | [16]byte       | 16           | Zero padded, truncated  |
| Delay Samples     | int32          | 4            | Positive: First leads   |
| Delay Seconds     | float32        | 4            |                         |
| Confidence        | float32        | 4            | 0..1                    |
| Peak Value        | float32        | 4            | Normalized correlation  |
+-----------------------------------------------------------------------------+
*/

const (
	HeaderSize = 4 + 8 + 2
	EntrySize  = 16 + 16 + 4 + 4 + 4 + 4
	IDSize     = 16

	// MaxEntries keeps a packet within the largest UDP payload.
	MaxEntries = (65507 - HeaderSize) / EntrySize
)

// ErrShortPacket is returned by Decode for truncated input.
var ErrShortPacket = errors.New("short packet")

// Entry is one pair result as carried on the wire.
type Entry struct {
	First        [IDSize]byte
	Second       [IDSize]byte
	DelaySamples int32
	DelaySeconds float32
	Confidence   float32
	PeakValue    float32
}

// FirstID returns the first source ID without padding.
func (e Entry) FirstID() string { return trimID(e.First) }

// SecondID returns the second source ID without padding.
func (e Entry) SecondID() string { return trimID(e.Second) }

// Packet is a decoded datagram.
type Packet struct {
	Seq       uint32
	Timestamp int64
	Entries   []Entry
}

// Encode packs a snapshot into buf, which is reset first. Pairs are written
// in PairID order; at most MaxEntries are included.
func Encode(buf *bytes.Buffer, snap *tdoa.Snapshot) error {
	buf.Reset()

	ids := tdoa.SortedPairIDs(snap.Results)
	if len(ids) > MaxEntries {
		ids = ids[:MaxEntries]
	}

	err := binary.Write(buf, binary.BigEndian, uint32(snap.Seq))
	if err == nil {
		err = binary.Write(buf, binary.BigEndian, snap.At.UnixNano())
	}
	if err == nil {
		err = binary.Write(buf, binary.BigEndian, uint16(len(ids)))
	}
	for _, id := range ids {
		if err != nil {
			break
		}
		e := snap.Results[id]
		err = binary.Write(buf, binary.BigEndian, Entry{
			First:        packID(e.Pair.First),
			Second:       packID(e.Pair.Second),
			DelaySamples: int32(e.Result.DelaySamples),
			DelaySeconds: float32(e.Result.DelaySeconds),
			Confidence:   float32(e.Result.Confidence),
			PeakValue:    float32(e.Result.PeakValue),
		})
	}
	if err != nil {
		return fmt.Errorf("failed to pack snapshot: %w", err)
	}
	return nil
}

// Decode parses a datagram produced by Encode.
func Decode(data []byte) (Packet, error) {
	if len(data) < HeaderSize {
		return Packet{}, ErrShortPacket
	}
	r := bytes.NewReader(data)

	var p Packet
	var count uint16
	binary.Read(r, binary.BigEndian, &p.Seq)
	binary.Read(r, binary.BigEndian, &p.Timestamp)
	binary.Read(r, binary.BigEndian, &count)

	if r.Len() < int(count)*EntrySize {
		return Packet{}, fmt.Errorf("%w: %d entries need %d bytes, have %d",
			ErrShortPacket, count, int(count)*EntrySize, r.Len())
	}
	p.Entries = make([]Entry, count)
	if err := binary.Read(r, binary.BigEndian, p.Entries); err != nil {
		return Packet{}, fmt.Errorf("failed to unpack entries: %w", err)
	}
	return p, nil
}

func packID(id tdoa.SourceID) [IDSize]byte {
	var out [IDSize]byte
	copy(out[:], id)
	return out
}

func trimID(b [IDSize]byte) string {
	return string(bytes.TrimRight(b[:], "\x00"))
}
