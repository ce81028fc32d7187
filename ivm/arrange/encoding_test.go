package arrange

import (
	"testing"

	"github.com/tessera-db/tessera/ivm"
)

func TestBatchEncodeDecode(t *testing.T) {
	b := BatchFromUpdates(3, 7, []ivm.KeyedUpdate{
		ku("k1", "a", 3, 1),
		ku("k1", "b", 4, -2),
		ku("k2", "", 5, 1),
		ku("", "v", 6, 1),
	})

	decoded, err := DecodeBatch(b.Encode())
	if err != nil {
		t.Fatal(err)
	}
	if decoded.Lower() != 3 || decoded.Upper() != 7 {
		t.Fatalf("window [%d,%d), want [3,7)", decoded.Lower(), decoded.Upper())
	}
	checkUpdates(t, decoded.Collect(), b.Collect())
}

func TestBatchEncodeDecodeEmpty(t *testing.T) {
	b := BatchFromUpdates(5, 9, nil)
	decoded, err := DecodeBatch(b.Encode())
	if err != nil {
		t.Fatal(err)
	}
	if !decoded.Empty() || decoded.Lower() != 5 || decoded.Upper() != 9 {
		t.Fatalf("decoded empty batch = %v", decoded)
	}
}

func TestDecodeBatchRejectsCorruption(t *testing.T) {
	good := BatchFromUpdates(0, 1, []ivm.KeyedUpdate{ku("k", "v", 0, 1)}).Encode()

	if _, err := DecodeBatch(nil); err == nil {
		t.Error("empty input should fail")
	}
	if _, err := DecodeBatch([]byte{0xFF}); err == nil {
		t.Error("bad version should fail")
	}
	if _, err := DecodeBatch(good[:len(good)-1]); err == nil {
		t.Error("truncated input should fail")
	}
}
