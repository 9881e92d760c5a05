//go:build !linux

package relay

// truncated is not reported outside Linux.
func truncated(flags int) bool {
	return false
}
