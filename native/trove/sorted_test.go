package trove

import (
	"math/big"
	"testing"

	"github.com/holiman/uint256"
)

func owner(b byte) [20]byte {
	var out [20]byte
	out[19] = b
	return out
}

func key(v uint64) *uint256.Int {
	return uint256.NewInt(v)
}

func ownersOf(ix *TroveIndex) []byte {
	out := make([]byte, 0, ix.Len())
	for _, entry := range ix.Entries {
		out = append(out, entry.Owner[19])
	}
	return out
}

func assertOrder(t *testing.T, ix *TroveIndex, want ...byte) {
	t.Helper()
	got := ownersOf(ix)
	if len(got) != len(want) {
		t.Fatalf("index order = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("index order = %v, want %v", got, want)
		}
	}
}

func TestRatioKey(t *testing.T) {
	if RatioKey(nil).Sign() != 0 {
		t.Fatal("nil ratio should map to zero key")
	}
	if RatioKey(big.NewInt(-1)).Sign() != 0 {
		t.Fatal("negative ratio should map to zero key")
	}
	huge := new(big.Int).Lsh(big.NewInt(1), 300)
	if !RatioKey(huge).Eq(new(uint256.Int).SetAllOne()) {
		t.Fatal("overflowing ratio should clamp to max key")
	}
	if RatioKey(big.NewInt(42)).Uint64() != 42 {
		t.Fatal("in-range ratio should round trip")
	}
}

func TestIndexInsertDescending(t *testing.T) {
	ix := &TroveIndex{}
	ix.Insert(owner(1), key(100), [20]byte{}, [20]byte{})
	ix.Insert(owner(2), key(300), [20]byte{}, [20]byte{})
	ix.Insert(owner(3), key(200), [20]byte{}, [20]byte{})
	assertOrder(t, ix, 2, 3, 1)

	last, ok := ix.Last()
	if !ok || last != owner(1) {
		t.Fatalf("last = %v, %v", last, ok)
	}
	prev, ok := ix.Prev(owner(3))
	if !ok || prev != owner(2) {
		t.Fatalf("prev = %v, %v", prev, ok)
	}
	next, ok := ix.Next(owner(3))
	if !ok || next != owner(1) {
		t.Fatalf("next = %v, %v", next, ok)
	}
	if _, ok := ix.Prev(owner(2)); ok {
		t.Fatal("head should have no prev")
	}
	if _, ok := ix.Next(owner(1)); ok {
		t.Fatal("tail should have no next")
	}
}

func TestIndexEqualKeysOrderAfter(t *testing.T) {
	ix := &TroveIndex{}
	ix.Insert(owner(1), key(100), [20]byte{}, [20]byte{})
	ix.Insert(owner(2), key(100), [20]byte{}, [20]byte{})
	assertOrder(t, ix, 1, 2)
}

func TestIndexInsertWithHints(t *testing.T) {
	ix := &TroveIndex{}
	ix.Insert(owner(1), key(400), [20]byte{}, [20]byte{})
	ix.Insert(owner(2), key(200), [20]byte{}, [20]byte{})

	// Valid hint pair places the entry without a scan.
	ix.Insert(owner(3), key(300), owner(1), owner(2))
	assertOrder(t, ix, 1, 3, 2)

	// Stale hints fall back to the scan and still land correctly.
	ix.Insert(owner(4), key(250), owner(1), owner(1))
	assertOrder(t, ix, 1, 3, 4, 2)

	// A next-only hint is accepted at the head.
	ix.Insert(owner(5), key(500), [20]byte{}, owner(1))
	assertOrder(t, ix, 5, 1, 3, 4, 2)
}

func TestIndexDuplicateInsertIgnored(t *testing.T) {
	ix := &TroveIndex{}
	ix.Insert(owner(1), key(100), [20]byte{}, [20]byte{})
	ix.Insert(owner(1), key(900), [20]byte{}, [20]byte{})
	if ix.Len() != 1 {
		t.Fatalf("len = %d", ix.Len())
	}
	stored, ok := ix.Key(owner(1))
	if !ok || stored.Uint64() != 100 {
		t.Fatalf("key = %v, %v", stored, ok)
	}
}

func TestIndexRemoveAndReInsert(t *testing.T) {
	ix := &TroveIndex{}
	ix.Insert(owner(1), key(300), [20]byte{}, [20]byte{})
	ix.Insert(owner(2), key(200), [20]byte{}, [20]byte{})
	ix.Insert(owner(3), key(100), [20]byte{}, [20]byte{})

	ix.Remove(owner(2))
	assertOrder(t, ix, 1, 3)
	if ix.Contains(owner(2)) {
		t.Fatal("removed owner still indexed")
	}
	ix.Remove(owner(2)) // absent removal is a no-op
	assertOrder(t, ix, 1, 3)

	ix.ReInsert(owner(3), key(400), [20]byte{}, [20]byte{})
	assertOrder(t, ix, 3, 1)
}
