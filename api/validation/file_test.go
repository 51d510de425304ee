package validation

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

// memoryFile adapts a byte slice to the multipart.File interface.
type memoryFile struct {
	*bytes.Reader
}

func newMemoryFile(data []byte) *memoryFile {
	return &memoryFile{bytes.NewReader(data)}
}

func (f *memoryFile) Close() error { return nil }

func TestDetectFileType(t *testing.T) {
	webp := append([]byte("RIFF"), 0x24, 0x00, 0x00, 0x00)
	webp = append(webp, []byte("WEBP")...)
	webp = append(webp, make([]byte, 16)...)

	tests := []struct {
		name string
		data []byte
		want FileType
	}{
		{"png", append([]byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, make([]byte, 16)...), FileTypePNG},
		{"jpeg", append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, make([]byte, 16)...), FileTypeJPEG},
		{"webp", webp, FileTypeWebP},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			file := newMemoryFile(tt.data)
			got, err := DetectFileType(file)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}

			// The reader must be rewound for the subsequent copy.
			head := make([]byte, 4)
			if _, err := io.ReadFull(file, head); err != nil {
				t.Fatalf("Failed to re-read file: %v", err)
			}
			if !bytes.Equal(head, tt.data[:4]) {
				t.Error("Expected file position reset after detection")
			}
		})
	}
}

func TestDetectFileType_Rejected(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"gif", append([]byte("GIF89a"), make([]byte, 16)...)},
		{"pdf", append([]byte("%PDF-1.4"), make([]byte, 16)...)},
		{"empty", nil},
		{"riff without webp", append([]byte("RIFFxxxxWAVE"), make([]byte, 16)...)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DetectFileType(newMemoryFile(tt.data)); !errors.Is(err, ErrInvalidFileType) {
				t.Errorf("Expected ErrInvalidFileType, got %v", err)
			}
		})
	}
}

func TestIsAllowedImageType(t *testing.T) {
	for _, ft := range []FileType{FileTypePNG, FileTypeJPEG, FileTypeWebP} {
		if !IsAllowedImageType(ft) {
			t.Errorf("Expected %s to be allowed", ft)
		}
	}
	if IsAllowedImageType("gif") {
		t.Error("Expected gif to be rejected")
	}
}
