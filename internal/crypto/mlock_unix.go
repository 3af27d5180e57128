//go:build linux || darwin || freebsd

package crypto

import "golang.org/x/sys/unix"

// lockMemory keeps key material out of swap where the OS allows it.
func lockMemory(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return unix.Mlock(b)
}
