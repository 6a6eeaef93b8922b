package linker

import (
	"debug/elf"
	"fmt"

	"go.uber.org/zap"

	"github.com/ksco/cfgld/pkg/config"
	"github.com/ksco/cfgld/pkg/utils"
)

// LinkImage is everything needed to emit the output file. NewLinkImage fixes
// the file layout; WriteImage serializes it.
type LinkImage struct {
	Type      elf.Type
	Entry     uint64
	Flags     uint32
	LoadAlign uint64

	OutputSections []*OutputSection
	Got            *GotSection
	DynRelocs      []DynReloc
	Symbols        []*Symbol

	// TextRel is set when a dynamic fix-up lands in a read-only section.
	TextRel bool

	Chunks   []Chunker
	Segments []*Segment

	Ehdr     *OutputEhdr
	Phdr     *OutputPhdr
	Shdr     *OutputShdr
	RelaDyn  *RelaDynSection
	Dynamic  *DynamicSection
	Symtab   *SymtabSection
	Strtab   *StrtabSection
	Shstrtab *ShstrtabSection

	FileSize uint64
	Buf      []byte
}

func NewLinkImage(cfg *config.Config, objs []*ObjectFile, osecs []*OutputSection,
	got *GotSection, table *SymbolTable, dynRelocs []DynReloc) (*LinkImage, error) {
	img := &LinkImage{
		Type:           elf.ET_EXEC,
		LoadAlign:      LoadAlignment(cfg),
		OutputSections: osecs,
		Got:            got,
		DynRelocs:      dynRelocs,
		Flags:          MergeFlags(objs),
	}
	if cfg.Output.DynamicRelocation {
		img.Type = elf.ET_DYN
	}

	entry := table.Lookup(cfg.Output.Entry)
	if entry == nil || !entry.IsDefined() {
		return nil, &LinkError{
			Kind:   KindUndefinedSymbol,
			Symbol: cfg.Output.Entry,
			Detail: "entry symbol is not defined",
		}
	}
	if !entry.IsResolved {
		return nil, &LinkError{
			Kind:   KindUnresolvedRelocationSymbol,
			Symbol: cfg.Output.Entry,
			File:   entry.Location(),
			Detail: "entry symbol is in a section that was not placed",
		}
	}
	img.Entry = entry.Addr

	for _, sym := range table.Defined() {
		if sym.IsResolved {
			img.Symbols = append(img.Symbols, sym)
		}
	}

	for _, r := range dynRelocs {
		if r.Section.GetShdr().Flags&uint64(elf.SHF_WRITE) == 0 {
			img.TextRel = true
			break
		}
	}

	img.CreateSyntheticSections(cfg.Output.DynamicRelocation)
	img.SetShndx()

	for _, chunk := range img.Chunks {
		chunk.UpdateShdr(img)
	}

	img.SetDynamicAddresses()
	img.Segments = CreateSegments(img)
	img.Phdr.UpdateShdr(img)
	img.Shdr.UpdateShdr(img)
	img.FileSize = img.SetOsecOffsets()

	Logger().Debug("image layout",
		zap.Stringer("type", img.Type),
		zap.String("entry", fmt.Sprintf("%#x", img.Entry)),
		zap.Int("segments", len(img.Segments)),
		zap.Int("symbols", len(img.Symbols)),
		zap.Uint64("file_size", img.FileSize))
	return img, nil
}

// MergeFlags combines the inputs' e_flags: the usage bits (RVC, RVE, TSO)
// accumulate and the float ABI is the highest any object uses.
func MergeFlags(objs []*ObjectFile) uint32 {
	ret := uint32(0)
	for _, obj := range objs {
		flags := obj.Flags()
		ret |= flags & EF_RISCV_USAGE_FLAGS
		if flags&EF_RISCV_FLOAT_ABI > ret&EF_RISCV_FLOAT_ABI {
			ret = (ret &^ EF_RISCV_FLOAT_ABI) | (flags & EF_RISCV_FLOAT_ABI)
		}
	}
	return ret
}

// CreateSyntheticSections lays out the chunk list in file order: headers,
// output sections, the GOT, dynamic tables, then the non-allocated tables.
func (img *LinkImage) CreateSyntheticSections(dynamic bool) {
	push := func(chunk Chunker) Chunker {
		img.Chunks = append(img.Chunks, chunk)
		return chunk
	}

	img.Ehdr = push(NewOutputEhdr()).(*OutputEhdr)
	img.Phdr = push(NewOutputPhdr()).(*OutputPhdr)

	for _, osec := range img.OutputSections {
		push(osec)
	}

	if img.Got != nil {
		push(img.Got)
	}

	if dynamic {
		img.RelaDyn = push(NewRelaDynSection()).(*RelaDynSection)
		img.Dynamic = push(NewDynamicSection()).(*DynamicSection)
	}

	img.Symtab = push(NewSymtabSection()).(*SymtabSection)
	img.Strtab = push(NewStrtabSection()).(*StrtabSection)
	img.Shstrtab = push(NewShstrtabSection()).(*ShstrtabSection)
	img.Shdr = push(NewOutputShdr()).(*OutputShdr)
}

func (img *LinkImage) SetShndx() {
	shndx := int64(1)
	for _, chunk := range img.Chunks {
		if chunk.Kind() != ChunkKindHeader {
			chunk.SetShndx(shndx)
			shndx++
		}
	}
}

// SetDynamicAddresses places .rela.dyn and .dynamic on a fresh page after
// the last output section or the GOT.
func (img *LinkImage) SetDynamicAddresses() {
	if img.RelaDyn == nil {
		return
	}

	end := uint64(0)
	for _, osec := range img.OutputSections {
		end = max(end, osec.Shdr.Addr+osec.Shdr.Size)
	}
	if img.Got != nil {
		end = max(end, img.Got.Shdr.Addr+img.Got.Shdr.Size)
	}

	addr := utils.AlignTo(end, img.LoadAlign)
	img.RelaDyn.Shdr.Addr = addr
	addr += img.RelaDyn.Shdr.Size
	addr = utils.AlignTo(addr, img.Dynamic.Shdr.AddrAlign)
	img.Dynamic.Shdr.Addr = addr
}

// SetOsecOffsets assigns file offsets and returns the file size. Every
// segment starts at an offset congruent to its address modulo the load
// alignment; inside a segment, offsets follow addresses.
func (img *LinkImage) SetOsecOffsets() uint64 {
	fileoff := img.Ehdr.Shdr.Size
	img.Phdr.Shdr.Offset = fileoff
	fileoff += img.Phdr.Shdr.Size

	align := img.LoadAlign
	for _, seg := range img.Segments {
		first := seg.Chunks[0].GetShdr()
		fileoff += (first.Addr - fileoff) & (align - 1)

		for _, chunk := range seg.Chunks {
			chunk.GetShdr().Offset = fileoff + chunk.GetShdr().Addr - first.Addr
		}
		fileoff += seg.FileSize()
	}

	// Empty sections get the offset of whatever precedes them.
	cursor := img.Ehdr.Shdr.Size + img.Phdr.Shdr.Size
	for _, osec := range img.OutputSections {
		if osec.Shdr.Size == 0 {
			osec.Shdr.Offset = cursor
			continue
		}
		cursor = osec.Shdr.Offset
		if !osec.IsNobits() {
			cursor += osec.Shdr.Size
		}
	}

	for _, chunk := range img.Chunks {
		switch chunk.(type) {
		case *OutputEhdr, *OutputPhdr, *OutputSection:
			continue
		}
		if isAllocChunk(chunk) {
			continue
		}

		fileoff = utils.AlignTo(fileoff, chunk.GetShdr().AddrAlign)
		chunk.GetShdr().Offset = fileoff
		fileoff += chunk.GetShdr().Size
	}
	return fileoff
}
