package models

import (
	"errors"
	"fmt"
	"slices"

	"github.com/dustin/go-humanize"
)

const (
	// MaxUploadSize is the largest source photo the backend accepts.
	MaxUploadSize = 10 * 1024 * 1024
	// MinUploadSize guards against truncated or corrupt files.
	MinUploadSize = 1024
)

var (
	ErrFileTooLarge    = errors.New("file exceeds maximum upload size")
	ErrFileTooSmall    = errors.New("file is too small, possibly corrupt")
	ErrUnsupportedType = errors.New("unsupported file type")
)

// AllowedMimeTypes lists the source photo formats the product accepts.
func AllowedMimeTypes() []string {
	return []string{"image/jpeg", "image/png", "image/webp"}
}

// ValidateUpload checks a candidate source photo locally. It fails fast
// so an oversized or mistyped file never causes a network round trip.
func ValidateUpload(mimeType string, size int64) error {
	if !slices.Contains(AllowedMimeTypes(), mimeType) {
		return fmt.Errorf("%w: %s (want jpeg, png or webp)", ErrUnsupportedType, mimeType)
	}
	if size > MaxUploadSize {
		return fmt.Errorf("%w: %s (max %s)", ErrFileTooLarge,
			humanize.Bytes(uint64(size)), humanize.Bytes(uint64(MaxUploadSize)))
	}
	if size < MinUploadSize {
		return fmt.Errorf("%w: %s", ErrFileTooSmall, humanize.Bytes(uint64(size)))
	}
	return nil
}
