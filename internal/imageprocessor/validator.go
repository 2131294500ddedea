package imageprocessor

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

var allowedExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
}

// ValidateUpload restricts uploads to jpg/jpeg/png by file extension and by
// sniffed content type. It returns the detected MIME type.
func ValidateUpload(filename string, data []byte) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !allowedExtensions[ext] {
		return "", fmt.Errorf("%w: extension %q not allowed", ErrUnsupportedFormat, ext)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty file", ErrUnsupportedFormat)
	}

	detected := mimetype.Detect(data)
	if !detected.Is("image/jpeg") && !detected.Is("image/png") {
		return "", fmt.Errorf("%w: content type %s", ErrUnsupportedFormat, detected.String())
	}
	return detected.String(), nil
}
