package utils

// Ptr returns a pointer to v. Useful for pointer fields of literals.
func Ptr[T any](v T) *T {
	return &v
}
