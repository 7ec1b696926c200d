package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	version   byte = 1
	kindEntry byte = 1
	kindList  byte = 2

	entryHeader = 4 + 1 + 1 + 8 + 4
	listHeader  = 4 + 1 + 1 + 4
)

var (
	ErrCorrupt = errors.New("touristcache: corrupt entry")
	magic4     = [...]byte{'T', 'R', 'S', 'T'}
)

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Entry: magic(4) | ver(1) | kind(1=entry) | gen(u64 be) | vlen(u32 be) | payload(vlen)
func EncodeEntry(gen uint64, payload []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(entryHeader + len(payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindEntry)

	var u8 [8]byte
	var u4 [4]byte

	binary.BigEndian.PutUint64(u8[:], gen)
	buf.Write(u8[:])

	binary.BigEndian.PutUint32(u4[:], uint32(len(payload)))
	buf.Write(u4[:])

	buf.Write(payload)
	return buf.Bytes()
}

// DecodeEntry is strict: the payload must end exactly at the end of b.
func DecodeEntry(b []byte) (gen uint64, payload []byte, err error) {
	if len(b) < entryHeader || !hasMagic(b) || b[4] != version || b[5] != kindEntry {
		return 0, nil, ErrCorrupt
	}

	off := 6
	gen = binary.BigEndian.Uint64(b[off : off+8])
	off += 8

	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen < 0 || vlen != len(b)-off {
		return 0, nil, ErrCorrupt
	}
	return gen, b[off : off+vlen], nil
}

// ListItem is one member of a list value, keyed by the member's identity.
type ListItem struct {
	Key     string
	Payload []byte
}

// List:
//
//	magic(4) | ver(1) | kind(2=list) | n(u32 be)
//	keyLen(u16 be) | key(keyLen) | vlen(u32 be) | payload(vlen) * n
func EncodeList(items []ListItem) ([]byte, error) {
	total := listHeader
	for _, it := range items {
		if l := len(it.Key); l == 0 || l > 0xFFFF {
			return nil, fmt.Errorf("touristcache: invalid list key length %d", l)
		}
		total += 2 + len(it.Key) + 4 + len(it.Payload)
	}

	var buf bytes.Buffer
	buf.Grow(total)

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindList)

	var u4 [4]byte
	var u2 [2]byte

	binary.BigEndian.PutUint32(u4[:], uint32(len(items)))
	buf.Write(u4[:])

	for _, it := range items {
		binary.BigEndian.PutUint16(u2[:], uint16(len(it.Key)))
		buf.Write(u2[:])
		buf.WriteString(it.Key)

		binary.BigEndian.PutUint32(u4[:], uint32(len(it.Payload)))
		buf.Write(u4[:])
		buf.Write(it.Payload)
	}
	return buf.Bytes(), nil
}

func DecodeList(b []byte) ([]ListItem, error) {
	if len(b) < listHeader || !hasMagic(b) || b[4] != version || b[5] != kindList {
		return nil, ErrCorrupt
	}

	off := 6
	n := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	// each item needs at least 2+1+4 bytes; reject bogus counts before allocating
	if n < 0 || n > (len(b)-off)/7 {
		return nil, ErrCorrupt
	}

	items := make([]ListItem, 0, n)
	for i := 0; i < n; i++ {
		if off+2 > len(b) {
			return nil, ErrCorrupt
		}
		klen := int(binary.BigEndian.Uint16(b[off : off+2]))
		off += 2
		if klen <= 0 || klen > len(b)-off {
			return nil, ErrCorrupt
		}
		key := string(b[off : off+klen])
		off += klen

		if off+4 > len(b) {
			return nil, ErrCorrupt
		}
		vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
		off += 4
		if vlen < 0 || vlen > len(b)-off {
			return nil, ErrCorrupt
		}

		items = append(items, ListItem{Key: key, Payload: b[off : off+vlen]})
		off += vlen
	}
	if off != len(b) {
		return nil, ErrCorrupt
	}
	return items, nil
}
