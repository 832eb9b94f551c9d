package kinds

const (
	length   = 64
	idLength = 8
	depthMax = length / idLength
	idMask   = (1 << idLength) - 1
)

// Bases returns the base ids packed above the leading id.
func Bases(t uint64) [depthMax]uint64 {
	var bases [depthMax]uint64
	for i := 1; i < depthMax; i++ {
		bases[i-1] = (t >> (idLength * i)) & idMask
	}
	return bases
}

// Kind packs id together with every id found in bases, so that a kind
// "is" each of its bases.
func Kind(id uint64, bases ...uint64) uint64 {
	id = id & idMask
	ids := make(map[uint64]struct{})

	for _, base := range bases {
		for j := 0; j < depthMax; j++ {
			baseId := (base >> (idLength * j)) & idMask
			if baseId == 0 {
				break
			}
			if _, ok := ids[baseId]; !ok {
				ids[baseId] = struct{}{}
				id |= baseId << (idLength * len(ids))
			}
		}
	}
	return id
}

// IsKind reports whether kind matches any of the given bases.
func IsKind(kind uint64, bases ...uint64) bool {
	for _, base := range bases {
		baseId := base & idMask
		if kind == baseId {
			return true
		}
		for i := 0; i < depthMax; i++ {
			currentId := (kind >> (idLength * i)) & idMask
			if currentId == baseId {
				return true
			}
		}
	}
	return false
}

var (
	Null       = Kind(0)
	Element    = Kind(1)
	State      = Kind(2, Element)
	Composite  = Kind(3, State)
	Parallel   = Kind(4, Composite)
	Final      = Kind(5, State)
	Linked     = Kind(6, State)
	Timed      = Kind(7, State)
	Transition = Kind(8, Element)
	Internal   = Kind(9, Transition)
	Local      = Kind(10, Transition)
	External   = Kind(11, Transition)
	Event      = Kind(12, Element)
	TimeEvent  = Kind(13, Event)
)
