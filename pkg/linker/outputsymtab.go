package linker

import (
	"debug/elf"

	"github.com/ksco/cfgld/pkg/utils"
)

// SymtabSection lists the resolved global symbols. Its names go to the
// image's .strtab.
type SymtabSection struct {
	Chunk
	Syms []Sym
}

func NewSymtabSection() *SymtabSection {
	o := &SymtabSection{Chunk: NewChunk()}
	o.Name = ".symtab"
	o.Shdr.Type = uint32(elf.SHT_SYMTAB)
	o.Shdr.AddrAlign = 8
	o.Shdr.EntSize = uint64(utils.SizeOf[Sym]())
	return o
}

func symShndx(sym *Symbol) uint16 {
	switch {
	case sym.OutputSection != nil:
		return uint16(sym.OutputSection.Shndx)
	case sym.InputSection != nil:
		return uint16(sym.InputSection.OutputSection.Shndx)
	}
	return uint16(elf.SHN_ABS)
}

func (o *SymtabSection) UpdateShdr(img *LinkImage) {
	strtab := img.Strtab
	strtab.Data = []byte{0}

	o.Syms = make([]Sym, 1, len(img.Symbols)+1)
	for _, sym := range img.Symbols {
		esym := Sym{
			Name:  strtab.Add(sym.Name),
			Info:  symInfo(elf.STB_GLOBAL, elf.STT_NOTYPE),
			Shndx: symShndx(sym),
			Val:   sym.Addr,
		}
		if sym.IsWeak {
			esym.Info = symInfo(elf.STB_WEAK, elf.STT_NOTYPE)
		}
		if sym.File != nil {
			in := sym.ElfSym()
			esym.Info = (esym.Info &^ 0xf) | in.Type()
			esym.Other = in.StVisibility()
			esym.Size = in.Size
		}
		o.Syms = append(o.Syms, esym)
	}

	o.Shdr.Link = uint32(strtab.Shndx)
	o.Shdr.Info = 1
	o.Shdr.Size = uint64(len(o.Syms)) * o.Shdr.EntSize
}

func (o *SymtabSection) CopyBuf(img *LinkImage) {
	buf := img.Buf[o.Shdr.Offset:]
	for i, esym := range o.Syms {
		utils.Write[Sym](buf[uint64(i)*o.Shdr.EntSize:], esym)
	}
}

type StrtabSection struct {
	Chunk
	Data []byte
}

func NewStrtabSection() *StrtabSection {
	o := &StrtabSection{Chunk: NewChunk()}
	o.Name = ".strtab"
	o.Shdr.Type = uint32(elf.SHT_STRTAB)
	o.Data = []byte{0}
	return o
}

// Add appends name and returns its offset.
func (o *StrtabSection) Add(name string) uint32 {
	off := uint32(len(o.Data))
	o.Data = append(o.Data, name...)
	o.Data = append(o.Data, 0)
	return off
}

func (o *StrtabSection) UpdateShdr(img *LinkImage) {
	o.Shdr.Size = uint64(len(o.Data))
}

func (o *StrtabSection) CopyBuf(img *LinkImage) {
	copy(img.Buf[o.Shdr.Offset:], o.Data)
}

type ShstrtabSection struct {
	StrtabSection
}

func NewShstrtabSection() *ShstrtabSection {
	o := &ShstrtabSection{StrtabSection: *NewStrtabSection()}
	o.Name = ".shstrtab"
	return o
}

// UpdateShdr names every section that has a header.
func (o *ShstrtabSection) UpdateShdr(img *LinkImage) {
	o.Data = []byte{0}
	for _, chunk := range img.Chunks {
		if chunk.GetShndx() > 0 {
			chunk.GetShdr().Name = o.Add(chunk.GetName())
		}
	}
	o.Shdr.Size = uint64(len(o.Data))
}
