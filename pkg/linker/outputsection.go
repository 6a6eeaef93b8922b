package linker

import (
	"debug/elf"

	"github.com/ksco/cfgld/pkg/config"
	"github.com/ksco/cfgld/pkg/utils"
)

// OutputSection is one configured section of the image. Data holds the
// concatenated member bytes once layout has run; NOBITS sections have none.
type OutputSection struct {
	Chunk
	Rule    *config.SectionRule
	Members []*InputSection
	Data    []byte
	Idx     uint32
}

func NewOutputSection(rule *config.SectionRule, idx uint32) *OutputSection {
	o := &OutputSection{Chunk: NewChunk()}
	o.Name = rule.Name
	o.Rule = rule
	o.Shdr.Type = uint32(elf.SHT_NOBITS)
	o.Shdr.AddrAlign = rule.Alignment
	o.Idx = idx
	return o
}

func (o *OutputSection) Kind() int {
	return ChunkKindOutputSection
}

func (o *OutputSection) IsNobits() bool {
	return o.Shdr.Type == uint32(elf.SHT_NOBITS)
}

func (o *OutputSection) Perm() uint32 {
	return toPhdrFlags(o.Shdr.Flags)
}

// ComputeSectionSize assigns member offsets and derives size, alignment,
// type and flags from the members.
func (o *OutputSection) ComputeSectionSize() {
	offset := uint64(0)
	align := o.Rule.Alignment
	nobits := true
	flags := uint64(0)

	for _, isec := range o.Members {
		offset = utils.AlignTo(offset, isec.Alignment())
		isec.Offset = offset
		offset += isec.ShSize
		align = max(align, isec.Alignment())

		if !isec.IsNobits() {
			nobits = false
		}
		flags |= isec.Shdr().Flags & uint64(elf.SHF_ALLOC|elf.SHF_WRITE|elf.SHF_EXECINSTR)
	}

	o.Shdr.Size = offset
	o.Shdr.AddrAlign = align
	o.Shdr.Flags = flags
	if nobits {
		o.Shdr.Type = uint32(elf.SHT_NOBITS)
	} else {
		o.Shdr.Type = uint32(elf.SHT_PROGBITS)
	}
}

// CollectContents moves member bytes into Data. Afterwards the members no
// longer reference their contents.
func (o *OutputSection) CollectContents() {
	if o.IsNobits() {
		for _, isec := range o.Members {
			isec.TakeContents()
		}
		return
	}

	o.Data = make([]byte, o.Shdr.Size)
	for _, isec := range o.Members {
		contents := isec.TakeContents()
		if isec.IsNobits() {
			continue
		}
		copy(o.Data[isec.Offset:], contents)
	}
}

func (o *OutputSection) CopyBuf(img *LinkImage) {
	if o.IsNobits() {
		return
	}
	copy(img.Buf[o.Shdr.Offset:], o.Data)
}
