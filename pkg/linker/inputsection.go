package linker

import (
	"debug/elf"
	"fmt"
)

type InputSection struct {
	File          *ObjectFile
	OutputSection *OutputSection
	Name          string
	Contents      []byte
	Rels          []Rela
	Offset        uint64
	Shndx         uint32
	ShSize        uint64
	AddrAlign     uint64
	IsAlive       bool
}

func NewInputSection(file *ObjectFile, name string, shndx int64) (*InputSection, error) {
	s := &InputSection{
		File:    file,
		Name:    name,
		Shndx:   uint32(shndx),
		IsAlive: true,
	}

	shdr := s.Shdr()
	if shdr.Flags&uint64(elf.SHF_COMPRESSED) != 0 {
		return nil, malformed(file.File.Name, "compressed section %s is not supported", name)
	}

	contents, err := file.GetBytesFromShdr(shdr)
	if err != nil {
		return nil, err
	}

	s.Contents = contents
	s.ShSize = shdr.Size
	s.AddrAlign = shdr.AddrAlign
	return s, nil
}

func (s *InputSection) Shdr() *Shdr {
	return &s.File.ElfSections[s.Shndx]
}

func (s *InputSection) IsAlloc() bool {
	return s.Shdr().Flags&uint64(elf.SHF_ALLOC) != 0
}

func (s *InputSection) IsNobits() bool {
	return s.Shdr().Type == uint32(elf.SHT_NOBITS)
}

// Alignment treats sh_addralign 0 as 1.
func (s *InputSection) Alignment() uint64 {
	if s.AddrAlign == 0 {
		return 1
	}
	return s.AddrAlign
}

func (s *InputSection) GetAddr() uint64 {
	return s.OutputSection.Shdr.Addr + s.Offset
}

// TakeContents hands the section bytes over to the caller; the input
// section keeps no reference afterwards.
func (s *InputSection) TakeContents() []byte {
	contents := s.Contents
	s.Contents = nil
	return contents
}

func (s *InputSection) String() string {
	return fmt.Sprintf("%s(%s)", s.File.File.Name, s.Name)
}
