package arrange

import (
	"encoding/binary"
	"fmt"

	"github.com/tessera-db/tessera/ivm"
)

const batchEncodingVersion = 1

// Encode serializes the batch for a persistence sink. The wire form is the
// consolidated update list, not the physical layout: offset compression is
// a space optimization the decoder is free to rediscover.
func (b *Batch) Encode() []byte {
	updates := b.Collect()
	buf := make([]byte, 0, 16+len(updates)*8)
	buf = append(buf, batchEncodingVersion)
	buf = binary.AppendUvarint(buf, uint64(b.lower))
	buf = binary.AppendUvarint(buf, uint64(b.upper))
	buf = binary.AppendUvarint(buf, uint64(len(updates)))
	for _, u := range updates {
		buf = binary.AppendUvarint(buf, uint64(len(u.Key)))
		buf = append(buf, u.Key...)
		buf = binary.AppendUvarint(buf, uint64(len(u.Val)))
		buf = append(buf, u.Val...)
		buf = binary.AppendUvarint(buf, uint64(u.Time))
		buf = binary.AppendVarint(buf, u.Diff)
	}
	return buf
}

// DecodeBatch rebuilds a batch serialized with Encode.
func DecodeBatch(data []byte) (*Batch, error) {
	if len(data) == 0 || data[0] != batchEncodingVersion {
		return nil, fmt.Errorf("arrange: bad batch encoding header")
	}
	rest := data[1:]

	readUvarint := func() (uint64, error) {
		v, n := binary.Uvarint(rest)
		if n <= 0 {
			return 0, fmt.Errorf("arrange: truncated batch encoding")
		}
		rest = rest[n:]
		return v, nil
	}
	readBytes := func() ([]byte, error) {
		n, err := readUvarint()
		if err != nil {
			return nil, err
		}
		if uint64(len(rest)) < n {
			return nil, fmt.Errorf("arrange: truncated batch encoding")
		}
		out := rest[:n]
		rest = rest[n:]
		return out, nil
	}

	lower, err := readUvarint()
	if err != nil {
		return nil, err
	}
	upper, err := readUvarint()
	if err != nil {
		return nil, err
	}
	count, err := readUvarint()
	if err != nil {
		return nil, err
	}

	updates := make([]ivm.KeyedUpdate, 0, count)
	for i := uint64(0); i < count; i++ {
		key, err := readBytes()
		if err != nil {
			return nil, err
		}
		val, err := readBytes()
		if err != nil {
			return nil, err
		}
		t, err := readUvarint()
		if err != nil {
			return nil, err
		}
		diff, n := binary.Varint(rest)
		if n <= 0 {
			return nil, fmt.Errorf("arrange: truncated batch encoding")
		}
		rest = rest[n:]
		updates = append(updates, ivm.KeyedUpdate{
			Key: key, Val: val, Time: ivm.Time(t), Diff: diff,
		})
	}
	return BatchFromUpdates(ivm.Time(lower), ivm.Time(upper), updates), nil
}
