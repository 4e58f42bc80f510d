//go:build darwin || freebsd || openbsd || netbsd || dragonfly

package main

import "golang.org/x/sys/unix"

// termios ioctl requests for this platform.
const (
	getTermios = unix.TIOCGETA
	setTermios = unix.TIOCSETA
)
