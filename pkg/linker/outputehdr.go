package linker

import (
	"debug/elf"

	"github.com/ksco/cfgld/pkg/utils"
)

type OutputEhdr struct {
	Chunk
}

func NewOutputEhdr() *OutputEhdr {
	return &OutputEhdr{
		Chunk: Chunk{
			Shdr: Shdr{
				Size:      uint64(utils.SizeOf[Ehdr]()),
				AddrAlign: 8,
			},
		},
	}
}

func (o *OutputEhdr) Kind() int {
	return ChunkKindHeader
}

func (o *OutputEhdr) CopyBuf(img *LinkImage) {
	ehdr := &Ehdr{}
	WriteMagic(ehdr.Ident[:])
	ehdr.Ident[elf.EI_CLASS] = uint8(elf.ELFCLASS64)
	ehdr.Ident[elf.EI_DATA] = uint8(elf.ELFDATA2LSB)
	ehdr.Ident[elf.EI_VERSION] = uint8(elf.EV_CURRENT)
	ehdr.Ident[elf.EI_OSABI] = uint8(elf.ELFOSABI_NONE)
	ehdr.Ident[elf.EI_ABIVERSION] = 0
	ehdr.Type = uint16(img.Type)
	ehdr.Machine = uint16(elf.EM_RISCV)
	ehdr.Version = uint32(elf.EV_CURRENT)
	ehdr.Entry = img.Entry
	ehdr.PhOff = img.Phdr.Shdr.Offset
	ehdr.ShOff = img.Shdr.Shdr.Offset
	ehdr.Flags = img.Flags
	ehdr.EhSize = uint16(utils.SizeOf[Ehdr]())
	ehdr.PhEntSize = uint16(utils.SizeOf[Phdr]())
	ehdr.PhNum = uint16(len(img.Phdr.Phdrs))
	ehdr.ShEntSize = uint16(utils.SizeOf[Shdr]())
	ehdr.ShNum = uint16(img.Shdr.Shdr.Size / uint64(utils.SizeOf[Shdr]()))
	ehdr.ShStrndx = uint16(img.Shstrtab.Shndx)

	utils.Write[Ehdr](img.Buf[o.Shdr.Offset:], *ehdr)
}
