package trove

import (
	"math/big"

	"github.com/holiman/uint256"
)

// IndexEntry is one position in the ordered trove index. Key is the ratio
// snapshot taken when the entry was (re)inserted; price movement can make it
// stale, which is why callers pass reinsertion hints.
type IndexEntry struct {
	Owner [20]byte
	Key   *uint256.Int
}

// TroveIndex is the ordered set of active troves, sorted descending by ratio
// key: the best-collateralised trove first, the riskiest last. Redemptions
// walk it from the tail.
type TroveIndex struct {
	Entries []IndexEntry
}

// RatioKey converts an 1e18-scale ratio into the fixed-width index key,
// clamping values that overflow 256 bits.
func RatioKey(icr *big.Int) *uint256.Int {
	if icr == nil || icr.Sign() <= 0 {
		return uint256.NewInt(0)
	}
	key, overflow := uint256.FromBig(icr)
	if overflow {
		key = new(uint256.Int).SetAllOne()
	}
	return key
}

// Len returns the number of indexed troves.
func (ix *TroveIndex) Len() int {
	if ix == nil {
		return 0
	}
	return len(ix.Entries)
}

func (ix *TroveIndex) find(owner [20]byte) int {
	for i := range ix.Entries {
		if ix.Entries[i].Owner == owner {
			return i
		}
	}
	return -1
}

// Contains reports whether the owner is indexed.
func (ix *TroveIndex) Contains(owner [20]byte) bool {
	return ix != nil && ix.find(owner) >= 0
}

// Last returns the owner with the worst ratio.
func (ix *TroveIndex) Last() ([20]byte, bool) {
	if ix == nil || len(ix.Entries) == 0 {
		return [20]byte{}, false
	}
	return ix.Entries[len(ix.Entries)-1].Owner, true
}

// Prev returns the owner ordered immediately better than the supplied one.
func (ix *TroveIndex) Prev(owner [20]byte) ([20]byte, bool) {
	pos := ix.find(owner)
	if pos <= 0 {
		return [20]byte{}, false
	}
	return ix.Entries[pos-1].Owner, true
}

// Next returns the owner ordered immediately worse than the supplied one.
func (ix *TroveIndex) Next(owner [20]byte) ([20]byte, bool) {
	pos := ix.find(owner)
	if pos < 0 || pos+1 >= len(ix.Entries) {
		return [20]byte{}, false
	}
	return ix.Entries[pos+1].Owner, true
}

// Key returns the stored ratio key for an owner.
func (ix *TroveIndex) Key(owner [20]byte) (*uint256.Int, bool) {
	pos := ix.find(owner)
	if pos < 0 {
		return nil, false
	}
	return new(uint256.Int).Set(ix.Entries[pos].Key), true
}

// Insert places the owner at the position implied by key, consulting the
// prev/next hints first and falling back to a scan when they are stale.
// Equal keys order after existing entries.
func (ix *TroveIndex) Insert(owner [20]byte, key *uint256.Int, prevHint, nextHint [20]byte) {
	if ix.find(owner) >= 0 {
		return
	}
	entry := IndexEntry{Owner: owner, Key: new(uint256.Int).Set(key)}
	pos := ix.hintedPosition(key, prevHint, nextHint)
	if pos < 0 {
		pos = ix.scanPosition(key)
	}
	ix.Entries = append(ix.Entries, IndexEntry{})
	copy(ix.Entries[pos+1:], ix.Entries[pos:])
	ix.Entries[pos] = entry
}

// Remove drops the owner from the index.
func (ix *TroveIndex) Remove(owner [20]byte) {
	pos := ix.find(owner)
	if pos < 0 {
		return
	}
	ix.Entries = append(ix.Entries[:pos], ix.Entries[pos+1:]...)
}

// ReInsert repositions an existing owner under a new key.
func (ix *TroveIndex) ReInsert(owner [20]byte, key *uint256.Int, prevHint, nextHint [20]byte) {
	ix.Remove(owner)
	ix.Insert(owner, key, prevHint, nextHint)
}

// hintedPosition validates that inserting between the hinted neighbours keeps
// the descending order, returning -1 when the hints are unusable.
func (ix *TroveIndex) hintedPosition(key *uint256.Int, prevHint, nextHint [20]byte) int {
	hasPrev := prevHint != [20]byte{}
	hasNext := nextHint != [20]byte{}
	if !hasPrev && !hasNext {
		return -1
	}
	if hasPrev {
		prevPos := ix.find(prevHint)
		if prevPos < 0 || ix.Entries[prevPos].Key.Lt(key) {
			return -1
		}
		pos := prevPos + 1
		if pos < len(ix.Entries) && ix.Entries[pos].Key.Gt(key) {
			return -1
		}
		if hasNext {
			nextPos := ix.find(nextHint)
			if nextPos != pos {
				return -1
			}
		}
		return pos
	}
	nextPos := ix.find(nextHint)
	if nextPos != 0 || ix.Entries[nextPos].Key.Gt(key) {
		return -1
	}
	return 0
}

func (ix *TroveIndex) scanPosition(key *uint256.Int) int {
	for i := range ix.Entries {
		if ix.Entries[i].Key.Lt(key) {
			return i
		}
	}
	return len(ix.Entries)
}
