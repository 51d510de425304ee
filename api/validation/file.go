package validation

import (
	"bytes"
	"io"
	"mime/multipart"
)

type FileType string

const (
	FileTypePNG  FileType = "png"
	FileTypeJPEG FileType = "jpeg"
	FileTypeWebP FileType = "webp"
)

var magicBytes = map[FileType][]byte{
	FileTypePNG:  {0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A},
	FileTypeJPEG: {0xFF, 0xD8, 0xFF},
}

// DetectFileType sniffs the leading bytes and rewinds the file. Only
// the image formats the pipelines accept are recognized.
func DetectFileType(file multipart.File) (FileType, error) {
	buffer := make([]byte, 512)
	n, err := file.Read(buffer)
	if err != nil && err != io.EOF {
		return "", err
	}

	if _, err := file.Seek(0, 0); err != nil {
		return "", err
	}

	for fileType, signature := range magicBytes {
		if bytes.HasPrefix(buffer[:n], signature) {
			return fileType, nil
		}
	}

	// WEBP is RIFF....WEBP: the container tag sits at offset 8.
	if n >= 12 && bytes.Equal(buffer[:4], []byte("RIFF")) && bytes.Equal(buffer[8:12], []byte("WEBP")) {
		return FileTypeWebP, nil
	}

	return "", ErrInvalidFileType
}

func IsAllowedImageType(fileType FileType) bool {
	switch fileType {
	case FileTypePNG, FileTypeJPEG, FileTypeWebP:
		return true
	default:
		return false
	}
}
