package linker

import (
	"context"
	"runtime"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ksco/cfgld/pkg/utils"
)

// ReadInputFiles loads every command-line input concurrently and returns the
// objects in command-line order. Arguments of the form -l<name> are looked up
// as lib<name>.a in libraryPaths. Archive members come back lazy; an archive
// named more than once contributes its members only the first time.
func ReadInputFiles(ctx context.Context, libraryPaths []string, args []string) ([]*ObjectFile, error) {
	paths := make([]string, 0, len(args))

	var errs error
	for _, arg := range args {
		var path string
		var err error
		if name, ok := utils.RemovePrefix(arg, "-l"); ok {
			path, err = FindLibrary(libraryPaths, name)
		} else {
			path, err = FindFile(libraryPaths, arg)
		}
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		paths = append(paths, path)
	}
	if errs != nil {
		return nil, errs
	}

	results := make([][]*ObjectFile, len(paths))
	fileErrs := make([]error, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i], fileErrs[i] = ReadFile(path)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := multierr.Combine(fileErrs...); err != nil {
		return nil, err
	}

	objs := make([]*ObjectFile, 0, len(paths))
	visited := utils.NewMapSet[string]()
	priority := uint32(10000)
	for i, files := range results {
		if isArchive(files) {
			if visited.Contains(paths[i]) {
				Logger().Debug("skipping repeated archive", zap.String("file", paths[i]))
				continue
			}
			visited.Add(paths[i])
		}

		for _, obj := range files {
			obj.Priority = priority
			priority++
			objs = append(objs, obj)
		}
	}

	if len(objs) == 0 {
		return nil, &LinkError{Kind: KindIoError, Detail: "no input files"}
	}

	Logger().Debug("loaded inputs", zap.Int("files", len(paths)), zap.Int("objects", len(objs)))
	return objs, nil
}

// ReadFile loads one input path: a relocatable object or a flat archive.
func ReadFile(path string) ([]*ObjectFile, error) {
	file, err := NewFile(path)
	if err != nil {
		return nil, err
	}

	switch ft := GetFileType(file.Contents); ft {
	case FileTypeObject:
		obj, err := NewObjectFile(file, false)
		if err != nil {
			return nil, err
		}
		return []*ObjectFile{obj}, nil
	case FileTypeThinAr, FileTypeAr:
		members, err := ReadArchiveMembers(file)
		if err != nil {
			return nil, err
		}

		objs := make([]*ObjectFile, 0, len(members))
		for _, child := range members {
			switch GetFileType(child.Contents) {
			case FileTypeObject:
				obj, err := NewObjectFile(child, true)
				if err != nil {
					return nil, err
				}
				objs = append(objs, obj)
			case FileTypeUnknown, FileTypeEmpty:
				Logger().Debug("skipping archive member",
					zap.String("archive", child.Parent.Name), zap.String("member", child.Name))
			default:
				return nil, malformed(child.Name, "archive member is a %s",
					fileTypeName(GetFileType(child.Contents)))
			}
		}
		return objs, nil
	default:
		return nil, malformed(file.Name, "unsupported input: %s", fileTypeName(ft))
	}
}

// isArchive reports whether files were extracted from an archive.
func isArchive(files []*ObjectFile) bool {
	return len(files) > 0 && files[0].File.Parent != nil
}
