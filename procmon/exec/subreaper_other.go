//go:build !linux

package exec

// SetSubreaper does nothing outside Linux.
func SetSubreaper() error { return nil }
