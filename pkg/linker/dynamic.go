package linker

import (
	"debug/elf"

	"github.com/ksco/cfgld/pkg/utils"
)

// RelaDynSection holds the R_RISCV_RELATIVE fix-ups of a position-independent
// image.
type RelaDynSection struct {
	Chunk
}

func NewRelaDynSection() *RelaDynSection {
	o := &RelaDynSection{Chunk: NewChunk()}
	o.Name = ".rela.dyn"
	o.Shdr.Type = uint32(elf.SHT_RELA)
	o.Shdr.Flags = uint64(elf.SHF_ALLOC)
	o.Shdr.AddrAlign = 8
	o.Shdr.EntSize = uint64(utils.SizeOf[Rela]())
	return o
}

func (o *RelaDynSection) UpdateShdr(img *LinkImage) {
	o.Shdr.Size = uint64(len(img.DynRelocs)) * o.Shdr.EntSize
}

func (o *RelaDynSection) CopyBuf(img *LinkImage) {
	buf := img.Buf[o.Shdr.Offset:]
	for i, r := range img.DynRelocs {
		utils.Write[Rela](buf[uint64(i)*o.Shdr.EntSize:], Rela{
			Offset: r.Offset,
			Type:   uint32(elf.R_RISCV_RELATIVE),
			Addend: r.Addend,
		})
	}
}

type DynamicSection struct {
	Chunk
}

func NewDynamicSection() *DynamicSection {
	o := &DynamicSection{Chunk: NewChunk()}
	o.Name = ".dynamic"
	o.Shdr.Type = uint32(elf.SHT_DYNAMIC)
	o.Shdr.Flags = uint64(elf.SHF_ALLOC)
	o.Shdr.AddrAlign = 8
	o.Shdr.EntSize = uint64(utils.SizeOf[Dyn]())
	return o
}

func createDynamic(img *LinkImage) []Dyn {
	flags := uint64(0)
	if img.TextRel {
		flags |= uint64(elf.DF_TEXTREL)
	}

	vec := make([]Dyn, 0, 8)
	define := func(tag elf.DynTag, val uint64) {
		vec = append(vec, Dyn{Tag: uint64(tag), Val: val})
	}

	define(elf.DT_RELA, img.RelaDyn.Shdr.Addr)
	define(elf.DT_RELASZ, img.RelaDyn.Shdr.Size)
	define(elf.DT_RELAENT, img.RelaDyn.Shdr.EntSize)
	define(elf.DT_RELACOUNT, uint64(len(img.DynRelocs)))
	if flags != 0 {
		define(elf.DT_FLAGS, flags)
	}
	define(elf.DT_FLAGS_1, DF_1_PIE)
	define(elf.DT_NULL, 0)
	return vec
}

// UpdateShdr links the table to .strtab; no entry names a string, but
// sh_link of SHT_DYNAMIC must index a string table.
func (o *DynamicSection) UpdateShdr(img *LinkImage) {
	o.Shdr.Size = uint64(len(createDynamic(img))) * o.Shdr.EntSize
	o.Shdr.Link = uint32(img.Strtab.GetShndx())
}

func (o *DynamicSection) CopyBuf(img *LinkImage) {
	buf := img.Buf[o.Shdr.Offset:]
	for i, dyn := range createDynamic(img) {
		utils.Write[Dyn](buf[uint64(i)*o.Shdr.EntSize:], dyn)
	}
}
