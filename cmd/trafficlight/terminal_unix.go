//go:build !windows

package main

import (
	"os"

	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// quietInterrupt clears ECHOCTL on the controlling terminal, so stopping a run with Ctrl+C
// doesn't leave "^C" in the middle of the summary. the returned func restores the old mode.
func quietInterrupt() func() {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return func() {}
	}

	saved, err := unix.IoctlGetTermios(fd, getTermios)
	if err != nil {
		return func() {}
	}

	quiet := *saved
	quiet.Lflag &^= unix.ECHOCTL
	if err := unix.IoctlSetTermios(fd, setTermios, &quiet); err != nil {
		return func() {}
	}
	return func() { _ = unix.IoctlSetTermios(fd, setTermios, saved) }
}
