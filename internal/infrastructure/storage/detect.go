package storage

import (
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"rosterchat/pkg/errors"
)

var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// DetectImage sniffs data and returns its MIME type and file extension.
func DetectImage(data []byte) (contentType string, ext string, err error) {
	if len(data) == 0 {
		return "", "", errors.Validation("Image is empty", nil)
	}

	mtype := mimetype.Detect(data)
	contentType = strings.ToLower(mtype.String())
	if idx := strings.Index(contentType, ";"); idx >= 0 {
		contentType = contentType[:idx]
	}

	if !allowedImageTypes[contentType] {
		return "", "", errors.Validation("Only JPEG, PNG, GIF and WebP images are allowed", nil)
	}

	return contentType, mtype.Extension(), nil
}
