//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package storage

// Lock is a no-op on platforms without flock.
func Lock(dir string) (*FileLock, error) {
	return &FileLock{}, nil
}
