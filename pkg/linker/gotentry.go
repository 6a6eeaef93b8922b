package linker

// GotEntry is the link-time contents of one GOT slot.
type GotEntry struct {
	Idx int64
	Val uint64
	Sym *Symbol
}

func NewGotEntry(idx int64, val uint64, sym *Symbol) GotEntry {
	return GotEntry{
		Idx: idx,
		Val: val,
		Sym: sym,
	}
}

// IsRelative reports whether the slot must be rebased at load time in
// position-independent output.
func (e *GotEntry) IsRelative() bool {
	return isRelocatable(e.Sym)
}
