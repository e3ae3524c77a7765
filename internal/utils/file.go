package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// ObservationPrefix is the blob namespace of observation images
const ObservationPrefix = "observations"

// Blob name suffixes
const (
	thumbSuffix   = "_thumb.webp"
	croppedSuffix = "_cropped.webp"
)

// GetFileExtension returns the lowercase file extension without the dot
func GetFileExtension(filename string) string {
	ext := filepath.Ext(filename)
	if len(ext) > 0 {
		return strings.ToLower(ext[1:])
	}
	return ""
}

// IsImageFile checks if a file has an image extension
func IsImageFile(filename string) bool {
	switch GetFileExtension(filename) {
	case "jpg", "jpeg", "png", "gif", "bmp", "tiff", "tif", "webp":
		return true
	}
	return false
}

// ListImageFiles recursively lists all image files in a directory, sorted
func ListImageFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && IsImageFile(p) {
			files = append(files, p)
		}
		return nil
	})
	sort.Strings(files)
	return files, err
}

// FileExists checks if a file exists and is not a directory
func FileExists(filename string) bool {
	info, err := os.Stat(filename)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// RandomName returns 40 lowercase hex characters
func RandomName() (string, error) {
	var b [20]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("generate blob name: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}

// ImagePaths are the blob paths of one observation
type ImagePaths struct {
	Original string
	Thumb    string
	Cropped  string
}

// NewImagePaths allocates fresh blob paths under ObservationPrefix
func NewImagePaths() (ImagePaths, error) {
	name, err := RandomName()
	if err != nil {
		return ImagePaths{}, err
	}
	original := path.Join(ObservationPrefix, name+".webp")
	return ImagePaths{
		Original: original,
		Thumb:    ThumbPath(original),
		Cropped:  CroppedPath(original),
	}, nil
}

// ThumbPath derives the thumbnail path from the original path
func ThumbPath(original string) string {
	return strings.TrimSuffix(original, path.Ext(original)) + thumbSuffix
}

// CroppedPath derives the cropped image path from the original path
func CroppedPath(original string) string {
	return strings.TrimSuffix(original, path.Ext(original)) + croppedSuffix
}

// FormatFileSize formats file size in human-readable format
func FormatFileSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}

	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}
