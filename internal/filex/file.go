package filex

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ReadImageFile reads the file at path and returns its contents together
// with the lowercased extension without the leading dot ("png", "jpg").
// Files without an extension are rejected because the avatar storage key
// needs one.
func ReadImageFile(path string) ([]byte, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", path, err)
	}

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	if ext == "" {
		return nil, "", fmt.Errorf("file %s has no extension", path)
	}

	return data, ext, nil
}
