package linker

import (
	"fmt"
	"os"
	"path/filepath"
)

type File struct {
	Name     string
	Contents []byte

	Parent *File
}

func NewFile(filename string) (*File, error) {
	contents, err := os.ReadFile(filename)
	if err != nil {
		return nil, ioError(filename, err)
	}
	return &File{
		Name:     filename,
		Contents: contents,
	}, nil
}

func isRegularFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// FindFile resolves an input path as given, then against each search
// directory in order.
func FindFile(libraryPaths []string, name string) (string, error) {
	if isRegularFile(name) {
		return name, nil
	}

	if !filepath.IsAbs(name) {
		for _, dir := range libraryPaths {
			path := filepath.Join(dir, name)
			if isRegularFile(path) {
				return path, nil
			}
		}
	}

	return "", ioError(name, os.ErrNotExist)
}

// FindLibrary resolves -l<name> to lib<name>.a in the search directories.
func FindLibrary(libraryPaths []string, name string) (string, error) {
	for _, dir := range libraryPaths {
		path := filepath.Join(dir, "lib"+name+".a")
		if isRegularFile(path) {
			return path, nil
		}
	}

	return "", &LinkError{
		Kind:   KindIoError,
		File:   "-l" + name,
		Detail: fmt.Sprintf("library not found in %d search path(s)", len(libraryPaths)),
	}
}
