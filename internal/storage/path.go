package storage

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// CleanKey normalizes an object key and rejects keys that escape the bucket root.
func CleanKey(key string) (string, error) {
	key = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(key), "/"))
	if key == "" {
		return "", fmt.Errorf("object key is required")
	}
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") || strings.Contains(cleaned, "/../") {
		return "", fmt.Errorf("invalid object key: %q", key)
	}
	return cleaned, nil
}

// IsPrefix reports whether a table source names every object under a prefix.
func IsPrefix(source string) bool {
	return strings.HasSuffix(strings.TrimSpace(source), "/")
}

func IsParquetKey(key string) bool {
	return strings.EqualFold(path.Ext(key), ".parquet")
}

// SnapshotFileName is the local file name of a table's index-th downloaded object.
func SnapshotFileName(tableName string, index int) (string, error) {
	if err := validatePathComponent(tableName, "table name"); err != nil {
		return "", err
	}
	if index < 0 {
		return "", fmt.Errorf("index must be >= 0")
	}
	return fmt.Sprintf("%s-%05d.parquet", tableName, index), nil
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
