package batch

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var ErrNoPhotos = errors.New("no photos found")

var photoExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
}

// CollectPhotos lists the photo files directly under dir, sorted by
// name. Subdirectories are not descended into.
func CollectPhotos(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	var photos []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if photoExtensions[ext] {
			photos = append(photos, filepath.Join(dir, entry.Name()))
		}
	}

	if len(photos) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoPhotos, dir)
	}

	sort.Strings(photos)
	return photos, nil
}
