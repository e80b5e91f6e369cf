//go:build !darwin && !linux

package pty

// detectDefaultShell returns /bin/sh on unsupported platforms.
func detectDefaultShell() string {
	return "/bin/sh"
}
