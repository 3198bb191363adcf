//go:build !linux

package rt

// Prepare is a no-op outside Linux.
func Prepare() error {
	return nil
}
