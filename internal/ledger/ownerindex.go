package ledger

import "github.com/ethereum/go-ethereum/common"

// ownerIndex is the reverse mapping from principal to owned position ids.
// Each owner's ids live in an array-backed set with a position->index map so
// both insertion and removal are O(1); removal swaps the last element into
// the vacated slot instead of shifting.
type ownerIndex struct {
	ids map[common.Address][]uint64
	pos map[uint64]int // position id -> index within its owner's slice
	of  map[uint64]common.Address
}

func newOwnerIndex() *ownerIndex {
	return &ownerIndex{
		ids: make(map[common.Address][]uint64),
		pos: make(map[uint64]int),
		of:  make(map[uint64]common.Address),
	}
}

// add registers id under owner. Adding an id twice is a programming error
// and is ignored.
func (x *ownerIndex) add(owner common.Address, id uint64) {
	if _, ok := x.of[id]; ok {
		return
	}
	x.pos[id] = len(x.ids[owner])
	x.ids[owner] = append(x.ids[owner], id)
	x.of[id] = owner
}

// remove unregisters id via swap-with-last compaction.
func (x *ownerIndex) remove(id uint64) {
	owner, ok := x.of[id]
	if !ok {
		return
	}
	slice := x.ids[owner]
	i := x.pos[id]
	last := len(slice) - 1
	if i != last {
		moved := slice[last]
		slice[i] = moved
		x.pos[moved] = i
	}
	x.ids[owner] = slice[:last]
	if len(x.ids[owner]) == 0 {
		delete(x.ids, owner)
	}
	delete(x.pos, id)
	delete(x.of, id)
}

// move reassigns id from its current owner to the new owner.
func (x *ownerIndex) move(id uint64, to common.Address) {
	x.remove(id)
	x.add(to, id)
}

// ownerOf returns the registered owner of id, or the zero address.
func (x *ownerIndex) ownerOf(id uint64) common.Address {
	return x.of[id]
}

// byOwner returns a copy of the ids owned by owner.
func (x *ownerIndex) byOwner(owner common.Address) []uint64 {
	src := x.ids[owner]
	out := make([]uint64, len(src))
	copy(out, src)
	return out
}

// count returns how many positions owner holds.
func (x *ownerIndex) count(owner common.Address) int {
	return len(x.ids[owner])
}
