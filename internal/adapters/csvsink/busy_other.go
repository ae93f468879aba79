//go:build !windows

package csvsink

// isSharingViolation is always false; only Windows locks files on open.
func isSharingViolation(error) bool {
	return false
}
