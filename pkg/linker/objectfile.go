package linker

import (
	"debug/elf"
	"sort"
	"strings"

	"github.com/ksco/cfgld/pkg/utils"
)

type ObjectFile struct {
	InputFile
	Sections []*InputSection

	SymtabSec      *Shdr
	SymtabShndxSec []uint32
}

// NewObjectFile decodes a relocatable object. Members of archives start out
// dead and only join the link once a live object needs one of their symbols.
func NewObjectFile(file *File, inLib bool) (*ObjectFile, error) {
	f, err := NewInputFile(file)
	if err != nil {
		return nil, err
	}

	o := &ObjectFile{InputFile: *f}
	o.IsAlive = !inLib

	if err := o.parse(); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *ObjectFile) parse() error {
	o.SymtabSec = o.FindSection(uint32(elf.SHT_SYMTAB))
	if o.SymtabSec != nil {
		o.FirstGlobal = int64(o.SymtabSec.Info)

		if err := o.FillUpElfSyms(o.SymtabSec); err != nil {
			return err
		}

		var err error
		o.SymbolStrtab, err = o.GetBytesFromIdx(int64(o.SymtabSec.Link))
		if err != nil {
			return err
		}

		if o.FirstGlobal < 1 && len(o.ElfSyms) > 0 || o.FirstGlobal > int64(len(o.ElfSyms)) {
			return malformed(o.File.Name, "bad first global symbol index %d", o.FirstGlobal)
		}
	}

	if err := o.initializeSections(); err != nil {
		return err
	}
	if err := o.initializeSymbols(); err != nil {
		return err
	}
	return o.initializeRelocations()
}

func (o *ObjectFile) initializeSections() error {
	o.Sections = make([]*InputSection, len(o.ElfSections))
	for i := 0; i < len(o.ElfSections); i++ {
		shdr := &o.ElfSections[i]
		if (shdr.Flags&uint64(SHF_EXCLUDE) != 0) &&
			(shdr.Flags&uint64(elf.SHF_ALLOC) == 0) {
			continue
		}

		if shdr.Type == SHT_LLVM_ADDRSIG {
			continue
		}

		switch elf.SectionType(shdr.Type) {
		case elf.SHT_GROUP:
			// Ignore
		case elf.SHT_SYMTAB_SHNDX:
			if err := o.FillUpSymtabShndxSec(shdr); err != nil {
				return err
			}
		case elf.SHT_REL:
			if int(shdr.Info) < len(o.ElfSections) &&
				o.ElfSections[shdr.Info].Flags&uint64(elf.SHF_ALLOC) != 0 {
				return malformed(o.File.Name, "SHT_REL relocations are not supported on RISC-V")
			}
		case elf.SHT_SYMTAB, elf.SHT_STRTAB, elf.SHT_RELA, elf.SHT_NULL:
			break
		default:
			name, ok := getName(o.ShStrtab, shdr.Name)
			if !ok {
				return malformed(o.File.Name, "bad name offset %d for section %d", shdr.Name, i)
			}

			if name == ".note.GNU-stack" {
				continue
			}
			if strings.HasPrefix(name, ".gnu.warning.") {
				continue
			}

			isec, err := NewInputSection(o, name, int64(i))
			if err != nil {
				return err
			}
			o.Sections[i] = isec
		}
	}
	return nil
}

func (o *ObjectFile) initializeSymbols() error {
	if o.SymtabSec == nil {
		return nil
	}

	o.LocalSyms = make([]Symbol, o.FirstGlobal)
	for i := 0; i < len(o.LocalSyms); i++ {
		o.LocalSyms[i] = *NewSymbol("")
	}
	if len(o.LocalSyms) > 0 {
		o.LocalSyms[0].File = o
		o.LocalSyms[0].SymIdx = 0
		o.LocalSyms[0].IsAbs = true
	}

	for i := int64(1); i < o.FirstGlobal; i++ {
		esym := &o.ElfSyms[i]
		if esym.IsCommon() {
			return malformed(o.File.Name, "common local symbol at index %d", i)
		}

		name, ok := getName(o.SymbolStrtab, esym.Name)
		if !ok {
			return malformed(o.File.Name, "bad name offset %d for symbol %d", esym.Name, i)
		}

		sym := &o.LocalSyms[i]
		sym.File = o
		sym.Value = esym.Val
		sym.SymIdx = int32(i)
		sym.IsAbs = esym.IsAbs()

		if !esym.IsAbs() && !esym.IsUndef() {
			shndx, err := o.GetShndx(esym, i)
			if err != nil {
				return err
			}
			sym.SetInputSection(o.Sections[shndx])
			if name == "" && esym.Type() == uint8(elf.STT_SECTION) && sym.InputSection != nil {
				name = sym.InputSection.Name
			}
		}
		sym.Name = name
	}

	o.Symbols = make([]*Symbol, len(o.ElfSyms))
	for i := int64(0); i < o.FirstGlobal; i++ {
		o.Symbols[i] = &o.LocalSyms[i]
	}

	o.GlobalNames = make([]string, 0, int64(len(o.ElfSyms))-o.FirstGlobal)
	for i := o.FirstGlobal; i < int64(len(o.ElfSyms)); i++ {
		esym := &o.ElfSyms[i]
		name, ok := getName(o.SymbolStrtab, esym.Name)
		if !ok || name == "" {
			return malformed(o.File.Name, "bad name for global symbol %d", i)
		}
		if esym.IsCommon() {
			return &LinkError{
				Kind:   KindMalformedObject,
				Symbol: name,
				File:   o.File.Name,
				Detail: "common symbols are not supported (compile with -fno-common)",
			}
		}
		if !esym.IsAbs() && !esym.IsUndef() {
			if _, err := o.GetShndx(esym, i); err != nil {
				return err
			}
		}
		o.GlobalNames = append(o.GlobalNames, name)
	}
	return nil
}

func (o *ObjectFile) initializeRelocations() error {
	relaSize := utils.SizeOf[Rela]()

	for i := 0; i < len(o.ElfSections); i++ {
		shdr := &o.ElfSections[i]
		if shdr.Type != uint32(elf.SHT_RELA) {
			continue
		}

		if shdr.Info >= uint32(len(o.Sections)) {
			return malformed(o.File.Name, "invalid relocated section index %d", shdr.Info)
		}

		target := o.Sections[shdr.Info]
		if target == nil {
			continue
		}
		if target.Rels != nil {
			return malformed(o.File.Name, "section %s has more than one relocation section", target.Name)
		}

		if shdr.EntSize != 0 && shdr.EntSize != uint64(relaSize) {
			return malformed(o.File.Name, "unexpected relocation entry size %d", shdr.EntSize)
		}

		bs, err := o.GetBytesFromShdr(shdr)
		if err != nil {
			return err
		}
		if len(bs)%relaSize != 0 {
			return malformed(o.File.Name, "relocation section size %d is not a multiple of %d", len(bs), relaSize)
		}

		rels := make([]Rela, 0, len(bs)/relaSize)
		for len(bs) > 0 {
			rel := utils.Read[Rela](bs)
			if rel.Sym >= uint32(len(o.ElfSyms)) {
				return malformed(o.File.Name, "relocation in %s refers to symbol %d of %d",
					target.Name, rel.Sym, len(o.ElfSyms))
			}
			rels = append(rels, rel)
			bs = bs[relaSize:]
		}

		sort.SliceStable(rels, func(i, j int) bool {
			return rels[i].Offset < rels[j].Offset
		})
		target.Rels = rels
	}
	return nil
}

func (o *ObjectFile) FillUpSymtabShndxSec(s *Shdr) error {
	bs, err := o.GetBytesFromShdr(s)
	if err != nil {
		return err
	}
	nums := len(bs) / 4
	o.SymtabShndxSec = make([]uint32, 0, nums)
	for nums > 0 {
		o.SymtabShndxSec = append(o.SymtabShndxSec, utils.Read[uint32](bs))
		bs = bs[4:]
		nums--
	}
	return nil
}

// GetSection returns nil for symbols in sections the loader skipped.
func (o *ObjectFile) GetSection(esym *Sym, idx int64) *InputSection {
	shndx, err := o.GetShndx(esym, idx)
	if err != nil {
		return nil
	}
	return o.Sections[shndx]
}

func (o *ObjectFile) GetShndx(esym *Sym, idx int64) (int64, error) {
	shndx := int64(esym.Shndx)
	if esym.Shndx == uint16(elf.SHN_XINDEX) {
		if idx >= int64(len(o.SymtabShndxSec)) {
			return 0, malformed(o.File.Name, "missing extended section index for symbol %d", idx)
		}
		shndx = int64(o.SymtabShndxSec[idx])
	}
	if shndx >= int64(len(o.Sections)) {
		return 0, malformed(o.File.Name, "symbol %d refers to section %d of %d", idx, shndx, len(o.Sections))
	}
	return shndx, nil
}

// BindSymbols points the object's global slots at the table entries.
func (o *ObjectFile) BindSymbols(table *SymbolTable) {
	for i := o.FirstGlobal; i < int64(len(o.ElfSyms)); i++ {
		o.Symbols[i] = table.GetSymbolByName(o.GlobalNames[i-o.FirstGlobal])
	}
}

// ResolveSymbols offers the object's definitions to the table; the better
// ranked one wins. Used while deciding which archive members to load.
func (o *ObjectFile) ResolveSymbols() {
	for i := o.FirstGlobal; i < int64(len(o.ElfSyms)); i++ {
		sym := o.Symbols[i]
		esym := &o.ElfSyms[i]

		if esym.IsUndef() {
			continue
		}

		var isec *InputSection
		if !esym.IsAbs() {
			isec = o.GetSection(esym, i)
			if isec == nil {
				continue
			}
		}

		if GetRank(o, esym, !o.IsAlive) < sym.GetRank() {
			sym.define(o, i, isec)
		}
	}
}

func (o *ObjectFile) MarkLiveObjects(skip utils.MapSet[string], feeder func(*ObjectFile)) {
	utils.Assert(o.IsAlive)

	for i := o.FirstGlobal; i < int64(len(o.ElfSyms)); i++ {
		esym := &o.ElfSyms[i]
		sym := o.Symbols[i]

		if esym.IsDefined() || esym.IsUndefWeak() {
			continue
		}

		if sym.File == nil || skip.Contains(sym.Name) {
			continue
		}

		if !sym.File.SwapIsAlive(true) {
			feeder(sym.File)
		}
	}
}

// ClearSymbols forgets the definitions this object won during the rank pass.
func (o *ObjectFile) ClearSymbols() {
	for _, sym := range o.GetGlobalSyms() {
		if sym.File == o {
			sym.Clear()
		}
	}
}

// Flags returns the input's e_flags.
func (o *ObjectFile) Flags() uint32 {
	return o.GetEhdr().Flags
}
