package linker

type Symbol struct {
	File *ObjectFile

	InputSection  *InputSection
	OutputSection *OutputSection

	Value uint64
	Name  string

	// Addr is the final address; valid only once IsResolved is set.
	Addr uint64

	SymIdx int32
	// GotIdx is the symbol's slot in .got, or -1.
	GotIdx int32

	IsWeak      bool
	IsAbs       bool
	IsSynthetic bool
	IsResolved  bool
}

func NewSymbol(name string) *Symbol {
	s := &Symbol{
		Name:   name,
		SymIdx: -1,
		GotIdx: -1,
	}
	return s
}

func (s *Symbol) SetInputSection(isec *InputSection) {
	s.InputSection = isec
	s.OutputSection = nil
}

func (s *Symbol) SetOutputSection(osec *OutputSection) {
	s.InputSection = nil
	s.OutputSection = osec
}

func (s *Symbol) define(file *ObjectFile, idx int64, isec *InputSection) {
	esym := &file.ElfSyms[idx]
	s.File = file
	s.SetInputSection(isec)
	s.Value = esym.Val
	s.SymIdx = int32(idx)
	s.IsWeak = esym.IsWeak()
	s.IsAbs = esym.IsAbs()
	s.IsSynthetic = false
}

// defineSynthetic turns s into a linker-defined symbol whose address is
// fixed by layout.
func (s *Symbol) defineSynthetic() {
	s.Clear()
	s.IsSynthetic = true
}

// defineZero resolves a permitted undefined reference to address 0.
func (s *Symbol) defineZero() {
	s.Clear()
	s.IsAbs = true
}

func (s *Symbol) ElfSym() *Sym {
	return &s.File.ElfSyms[s.SymIdx]
}

func (s *Symbol) IsDefined() bool {
	return s.File != nil || s.IsSynthetic
}

func (s *Symbol) Location() string {
	if s.IsSynthetic {
		return "linker configuration"
	}
	if s.File == nil {
		return ""
	}
	return s.File.File.Name
}

// Resolve computes the final address from the owning section. It reports
// false when the symbol lives in a section that was not placed.
func (s *Symbol) Resolve() bool {
	var addr uint64
	switch {
	case s.OutputSection != nil:
		addr = s.OutputSection.Shdr.Addr + s.Value
	case s.InputSection != nil:
		if s.InputSection.OutputSection == nil {
			return false
		}
		addr = s.InputSection.GetAddr() + s.Value
	case s.IsAbs:
		addr = s.Value
	default:
		return false
	}

	s.Addr = addr
	s.IsResolved = true
	return true
}

func (s *Symbol) Clear() {
	s.File = nil
	s.InputSection = nil
	s.OutputSection = nil
	s.Value = 0
	s.Addr = 0
	s.SymIdx = -1
	s.GotIdx = -1
	s.IsWeak = false
	s.IsAbs = false
	s.IsSynthetic = false
	s.IsResolved = false
}

func (s *Symbol) GetRank() uint64 {
	if s.IsSynthetic {
		return 0
	}
	if s.File == nil {
		return 7 << 24
	}
	return GetRank(s.File, s.ElfSym(), !s.File.IsAlive)
}
