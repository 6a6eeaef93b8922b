package linker

import (
	"github.com/ksco/cfgld/pkg/utils"
)

func ReadFatArchiveMembers(file *File) ([]*File, error) {
	hdrSize := utils.SizeOf[ArHdr]()
	pos := 8
	var strTab []byte
	var files []*File

	for len(file.Contents)-pos >= 2 {
		if pos%2 == 1 {
			pos++
		}
		if len(file.Contents)-pos < hdrSize {
			if len(file.Contents) == pos {
				break
			}
			return nil, malformed(file.Name, "truncated archive member header at %d", pos)
		}

		hdr := utils.Read[ArHdr](file.Contents[pos:])
		size, err := hdr.GetSize()
		if err != nil {
			return nil, &LinkError{Kind: KindMalformedObject, File: file.Name, Cause: err}
		}

		body := pos + hdrSize
		pos = body + size
		if pos > len(file.Contents) {
			return nil, malformed(file.Name, "archive member at %d overruns the file", body-hdrSize)
		}

		if hdr.IsStrtab() {
			strTab = file.Contents[body:pos]
			continue
		}

		if hdr.IsSymtab() {
			continue
		}

		ptr := file.Contents[body:pos]
		name, err := hdr.ReadName(strTab, &ptr)
		if err != nil {
			return nil, &LinkError{Kind: KindMalformedObject, File: file.Name, Cause: err}
		}

		if name == "__.SYMDEF" || name == "__.SYMDEF SORTED" {
			continue
		}

		files = append(files, &File{
			Name:     file.Name + "(" + name + ")",
			Contents: ptr,
			Parent:   file,
		})
	}

	return files, nil
}

func ReadArchiveMembers(file *File) ([]*File, error) {
	switch GetFileType(file.Contents) {
	case FileTypeAr:
		return ReadFatArchiveMembers(file)
	case FileTypeThinAr:
		return nil, malformed(file.Name, "thin archives are not supported")
	}
	return nil, malformed(file.Name, "not an archive")
}
