package strava

// Bitfield is a set of small non-negative indexes packed into an integer.
type Bitfield uint64

func (b Bitfield) Get(i int) bool {
	if i < 0 || i >= 64 {
		return false
	}
	return b&(1<<uint(i)) != 0
}

func (b *Bitfield) Set(i int, on bool) {
	if i < 0 || i >= 64 {
		return
	}
	if on {
		*b |= 1 << uint(i)
	} else {
		*b &^= 1 << uint(i)
	}
}
