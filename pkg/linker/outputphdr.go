package linker

import (
	"debug/elf"

	"github.com/ksco/cfgld/pkg/utils"
)

// Segment is a run of allocated chunks sharing one PT_LOAD.
type Segment struct {
	Flags  uint32
	Chunks []Chunker
}

func (s *Segment) VAddr() uint64 {
	return s.Chunks[0].GetShdr().Addr
}

// FileSize covers everything up to the end of the last chunk with file
// contents; NOBITS holes before it are zero-filled.
func (s *Segment) FileSize() uint64 {
	end := s.VAddr()
	for _, chunk := range s.Chunks {
		if chunk.GetShdr().Type != uint32(elf.SHT_NOBITS) {
			end = chunk.GetShdr().Addr + chunk.GetShdr().Size
		}
	}
	return end - s.VAddr()
}

func (s *Segment) MemSize() uint64 {
	last := s.Chunks[len(s.Chunks)-1].GetShdr()
	return last.Addr + last.Size - s.VAddr()
}

func toPhdrFlags(flags uint64) uint32 {
	ret := uint32(elf.PF_R)
	if flags&uint64(elf.SHF_WRITE) != 0 {
		ret |= uint32(elf.PF_W)
	}
	if flags&uint64(elf.SHF_EXECINSTR) != 0 {
		ret |= uint32(elf.PF_X)
	}
	return ret
}

// CreateSegments groups consecutive non-empty output sections with equal
// permissions. The GOT and the dynamic tables always start segments of
// their own.
func CreateSegments(img *LinkImage) []*Segment {
	segs := make([]*Segment, 0)
	var cur *Segment

	for _, chunk := range img.Chunks {
		if !isAllocChunk(chunk) || chunk.GetShdr().Size == 0 {
			continue
		}

		flags := toPhdrFlags(chunk.GetShdr().Flags)
		_, isOsec := chunk.(*OutputSection)
		startsDynamic := !isOsec && cur != nil && isOsecSegment(cur)

		if cur == nil || cur.Flags != flags || startsDynamic {
			cur = &Segment{Flags: flags}
			segs = append(segs, cur)
		}
		cur.Chunks = append(cur.Chunks, chunk)
	}
	return segs
}

func isOsecSegment(seg *Segment) bool {
	_, ok := seg.Chunks[0].(*OutputSection)
	return ok
}

type OutputPhdr struct {
	Chunk

	Phdrs []Phdr
}

func NewOutputPhdr() *OutputPhdr {
	o := &OutputPhdr{Chunk: NewChunk()}
	o.Shdr.AddrAlign = 8
	return o
}

func createPhdr(img *LinkImage) []Phdr {
	vec := make([]Phdr, 0, len(img.Segments)+2)

	for _, seg := range img.Segments {
		vec = append(vec, Phdr{
			Type:     uint32(elf.PT_LOAD),
			Flags:    seg.Flags,
			Offset:   seg.Chunks[0].GetShdr().Offset,
			VAddr:    seg.VAddr(),
			PAddr:    seg.VAddr(),
			FileSize: seg.FileSize(),
			MemSize:  seg.MemSize(),
			Align:    img.LoadAlign,
		})
	}

	if img.Dynamic != nil {
		shdr := img.Dynamic.GetShdr()
		vec = append(vec, Phdr{
			Type:     uint32(elf.PT_DYNAMIC),
			Flags:    uint32(elf.PF_R),
			Offset:   shdr.Offset,
			VAddr:    shdr.Addr,
			PAddr:    shdr.Addr,
			FileSize: shdr.Size,
			MemSize:  shdr.Size,
			Align:    shdr.AddrAlign,
		})
	}

	vec = append(vec, Phdr{
		Type:  uint32(elf.PT_GNU_STACK),
		Flags: uint32(elf.PF_R) | uint32(elf.PF_W),
		Align: 16,
	})

	return vec
}

func (o *OutputPhdr) Kind() int {
	return ChunkKindHeader
}

func (o *OutputPhdr) UpdateShdr(img *LinkImage) {
	o.Phdrs = createPhdr(img)
	o.Shdr.Size = uint64(len(o.Phdrs)) * uint64(utils.SizeOf[Phdr]())
}

// CopyBuf rebuilds the table since offsets are only final after sizing.
func (o *OutputPhdr) CopyBuf(img *LinkImage) {
	o.Phdrs = createPhdr(img)
	buf := img.Buf[o.Shdr.Offset:]
	for i, phdr := range o.Phdrs {
		utils.Write[Phdr](buf[i*utils.SizeOf[Phdr]():], phdr)
	}
}
