package linker

import (
	"debug/elf"

	"github.com/ksco/cfgld/pkg/utils"
)

type InputFile struct {
	File         *File
	Symbols      []*Symbol
	ElfSections  []Shdr
	FirstGlobal  int64
	ShStrtab     []byte
	SymbolStrtab []byte

	ElfSyms  []Sym
	IsAlive  bool
	Priority uint32

	LocalSyms   []Symbol
	GlobalNames []string
}

// NewInputFile validates the ELF header and decodes the section header
// table of a 64-bit little-endian RISC-V relocatable object.
func NewInputFile(file *File) (*InputFile, error) {
	f := &InputFile{File: file}
	contents := file.Contents

	ehdrSize := utils.SizeOf[Ehdr]()
	if len(contents) < ehdrSize {
		return nil, malformed(file.Name, "file too small (%d bytes)", len(contents))
	}
	if !CheckMagic(contents) {
		return nil, malformed(file.Name, "not an ELF file")
	}
	if contents[elf.EI_CLASS] != byte(elf.ELFCLASS64) {
		return nil, malformed(file.Name, "unsupported ELF class %v", elf.Class(contents[elf.EI_CLASS]))
	}
	if contents[elf.EI_DATA] != byte(elf.ELFDATA2LSB) {
		return nil, malformed(file.Name, "unsupported data encoding %v", elf.Data(contents[elf.EI_DATA]))
	}
	if contents[elf.EI_VERSION] != byte(elf.EV_CURRENT) {
		return nil, malformed(file.Name, "unsupported ELF version %d", contents[elf.EI_VERSION])
	}

	ehdr := utils.Read[Ehdr](contents)
	if elf.Type(ehdr.Type) != elf.ET_REL {
		return nil, malformed(file.Name, "%s is not a relocatable object",
			fileTypeName(GetFileType(contents)))
	}
	if elf.Machine(ehdr.Machine) != elf.EM_RISCV {
		return nil, malformed(file.Name, "unsupported machine %v", elf.Machine(ehdr.Machine))
	}
	if mt := GetMachineTypeFromContents(contents); mt != MachineTypeRISCV64 {
		return nil, malformed(file.Name, "incompatible machine type %s", MachineTypeStringer{mt})
	}

	if ehdr.ShOff == 0 {
		return f, nil
	}

	shdrSize := uint64(utils.SizeOf[Shdr]())
	if uint64(ehdr.ShEntSize) != shdrSize {
		return nil, malformed(file.Name, "unexpected section header size %d", ehdr.ShEntSize)
	}
	if ehdr.ShOff > uint64(len(contents)) || uint64(len(contents))-ehdr.ShOff < shdrSize {
		return nil, malformed(file.Name, "section header table is out of range: %d", ehdr.ShOff)
	}

	shdr := utils.Read[Shdr](contents[ehdr.ShOff:])

	numSections := uint64(ehdr.ShNum)
	if numSections == 0 {
		numSections = shdr.Size
	}
	if numSections > (uint64(len(contents))-ehdr.ShOff)/shdrSize {
		return nil, malformed(file.Name, "truncated section header table (%d entries)", numSections)
	}

	f.ElfSections = make([]Shdr, 0, numSections)
	for i := uint64(0); i < numSections; i++ {
		f.ElfSections = append(f.ElfSections, utils.Read[Shdr](contents[ehdr.ShOff+i*shdrSize:]))
	}

	shstrtabIdx := int64(ehdr.ShStrndx)
	if ehdr.ShStrndx == uint16(elf.SHN_XINDEX) {
		shstrtabIdx = int64(shdr.Link)
	}

	var err error
	if f.ShStrtab, err = f.GetBytesFromIdx(shstrtabIdx); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *InputFile) GetBytesFromShdr(s *Shdr) ([]byte, error) {
	if s.Type == uint32(elf.SHT_NOBITS) {
		return nil, nil
	}

	end := s.Offset + s.Size
	if end < s.Offset || uint64(len(f.File.Contents)) < end {
		return nil, malformed(f.File.Name, "section data is out of range: offset %d size %d", s.Offset, s.Size)
	}

	return f.File.Contents[s.Offset:end], nil
}

func (f *InputFile) GetBytesFromIdx(idx int64) ([]byte, error) {
	if idx < 0 || idx >= int64(len(f.ElfSections)) {
		return nil, malformed(f.File.Name, "section index %d is out of range", idx)
	}
	return f.GetBytesFromShdr(&f.ElfSections[idx])
}

func (f *InputFile) FillUpElfSyms(s *Shdr) error {
	bs, err := f.GetBytesFromShdr(s)
	if err != nil {
		return err
	}

	symSize := utils.SizeOf[Sym]()
	if s.EntSize != 0 && s.EntSize != uint64(symSize) {
		return malformed(f.File.Name, "unexpected symbol entry size %d", s.EntSize)
	}
	if len(bs)%symSize != 0 {
		return malformed(f.File.Name, "symbol table size %d is not a multiple of %d", len(bs), symSize)
	}

	nums := len(bs) / symSize
	f.ElfSyms = make([]Sym, 0, nums)
	for ; nums > 0; nums-- {
		f.ElfSyms = append(f.ElfSyms, utils.Read[Sym](bs))
		bs = bs[symSize:]
	}
	return nil
}

func (f *InputFile) FindSection(ty uint32) *Shdr {
	for i := 0; i < len(f.ElfSections); i++ {
		sec := &f.ElfSections[i]
		if sec.Type == ty {
			return sec
		}
	}
	return nil
}

func (f *InputFile) SwapIsAlive(isAlive bool) bool {
	old := f.IsAlive
	f.IsAlive = isAlive
	return old
}

func (f *InputFile) GetGlobalSyms() []*Symbol {
	return f.Symbols[f.FirstGlobal:]
}

func (f *InputFile) GetEhdr() Ehdr {
	return utils.Read[Ehdr](f.File.Contents)
}

func (f *InputFile) String() string {
	return f.File.Name
}
