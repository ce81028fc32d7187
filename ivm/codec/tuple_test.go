package codec

import (
	"bytes"
	"math"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := [][]Value{
		{},
		{nil},
		{int64(0)},
		{int64(-1), int64(1)},
		{int64(math.MinInt64), int64(math.MaxInt64)},
		{float64(0), float64(-0.5), float64(3.14)},
		{math.Inf(-1), math.Inf(1)},
		{""},
		{"hello", "world"},
		{"with\x00zero", "with\x01one"},
		{int64(42), "answer", nil, float64(2.5)},
	}
	for _, vals := range cases {
		row := Encode(vals...)
		got, err := Decode(row)
		require.NoError(t, err, "decoding %v", vals)
		require.Len(t, got, len(vals))
		for i := range vals {
			assert.Equal(t, vals[i], got[i], "column %d of %v", i, vals)
		}
	}
}

// Byte order of encoded rows must equal the logical order of the tuples:
// NULL < ints < floats < strings, each type ordered naturally, and
// column-by-column lexicographically.
func TestEncodingPreservesOrder(t *testing.T) {
	tuples := [][]Value{
		{nil},
		{int64(math.MinInt64)},
		{int64(-7)},
		{int64(0)},
		{int64(1)},
		{int64(1), nil},
		{int64(1), int64(2)},
		{int64(1), "x"},
		{int64(2), nil},
		{int64(math.MaxInt64)},
		{math.Inf(-1)},
		{float64(-2.5)},
		{float64(0)},
		{float64(1e10)},
		{""},
		{"a"},
		{"a\x00"},
		{"a\x00b"},
		{"ab"},
		{"b"},
	}

	rows := make([][]byte, len(tuples))
	for i, vals := range tuples {
		rows[i] = Encode(vals...)
	}
	sorted := append([][]byte(nil), rows...)
	sort.Slice(sorted, func(i, j int) bool { return bytes.Compare(sorted[i], sorted[j]) < 0 })

	for i := range rows {
		assert.True(t, bytes.Equal(rows[i], sorted[i]),
			"tuple %d (%v) out of place after byte sort", i, tuples[i])
	}
}

func TestStringEscapingKeepsPrefixOrder(t *testing.T) {
	// A string's encoding must sort below the encoding of any extension of
	// it, even when the extension starts with a zero byte.
	a := Encode("ab")
	b := Encode("ab\x00")
	c := Encode("ab\x01")
	assert.Negative(t, bytes.Compare(a, b))
	assert.Negative(t, bytes.Compare(b, c))
}

func TestDecodeRejectsGarbage(t *testing.T) {
	cases := [][]byte{
		{0x99},             // unknown tag
		{tagInt, 0x01},     // truncated int
		{tagFloat},         // truncated float
		{tagString, 'a'},   // unterminated string
		{tagString, 0, 99}, // bad escape
	}
	for _, row := range cases {
		_, err := Decode(row)
		assert.Error(t, err, "row % x", row)
	}
}

func TestIsNull(t *testing.T) {
	assert.True(t, IsNull(Encode(nil)))
	assert.False(t, IsNull(Encode(int64(1))))
	assert.False(t, IsNull(Encode(nil, nil)))
	assert.False(t, IsNull(nil))
}

func TestNulls(t *testing.T) {
	row := Nulls(3)
	vals, err := Decode(row)
	require.NoError(t, err)
	require.Len(t, vals, 3)
	for _, v := range vals {
		assert.Nil(t, v)
	}
	assert.Empty(t, Nulls(0))
}

func TestEncodeAcceptsPlainInt(t *testing.T) {
	assert.Equal(t, Encode(int64(5)), Encode(5))
}
