package relay

import "golang.org/x/sys/unix"

// truncated reports whether the kernel cut the datagram to the buffer size.
func truncated(flags int) bool {
	return flags&unix.MSG_TRUNC != 0
}
