// Package util contains small generic helpers shared across packages.
package util

// CloneSlice clones slice with cloneSize.
// This function will use src length as the clone size if cloneSize is 0.
func CloneSlice[T any](src []T, cloneSize int) []T {
	if cloneSize == 0 {
		cloneSize = len(src)
	}
	clone := make([]T, cloneSize)
	copy(clone, src)

	return clone
}

// TruncateBytes returns at most limit leading bytes of src, and whether it was truncated.
func TruncateBytes(src []byte, limit int) ([]byte, bool) {
	if limit <= 0 || len(src) <= limit {
		return src, false
	}

	return src[:limit], true
}
