package linker

// GetRank orders competing definitions; lower wins. Live beats lazy, strong
// beats weak, and earlier files beat later ones.
func GetRank(file *ObjectFile, esym *Sym, isLazy bool) uint64 {
	isWeak := esym.IsWeak()
	if isLazy {
		if isWeak {
			return (4 << 24) + uint64(file.Priority)
		}
		return (3 << 24) + uint64(file.Priority)
	}
	if isWeak {
		return (2 << 24) + uint64(file.Priority)
	}
	return (1 << 24) + uint64(file.Priority)
}
