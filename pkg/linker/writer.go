package linker

import (
	"github.com/google/renameio/v2"
	"go.uber.org/zap"
)

// WriteImage renders img and commits it to path atomically. On failure
// nothing is left at path.
func WriteImage(img *LinkImage, path string) error {
	img.Buf = make([]byte, img.FileSize)
	for _, chunk := range img.Chunks {
		chunk.CopyBuf(img)
	}

	f, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o777))
	if err != nil {
		return ioError(path, err)
	}
	defer f.Cleanup()

	if _, err := f.Write(img.Buf); err != nil {
		return ioError(path, err)
	}
	if err := f.CloseAtomicallyReplace(); err != nil {
		return ioError(path, err)
	}

	Logger().Debug("wrote output", zap.String("file", path), zap.Int("bytes", len(img.Buf)))
	return nil
}
