package util

// CloneSlice returns an independent copy of src. The clone shares no
// backing array with src, so callers can hand it out without exposing
// their internal state to mutation.
func CloneSlice[T any](src []T) []T {
	clone := make([]T, len(src))
	copy(clone, src)

	return clone
}
