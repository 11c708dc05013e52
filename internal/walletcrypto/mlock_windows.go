//go:build windows

package walletcrypto

// mlock is a no-op on Windows; VirtualLock is not wired here. The data
// is still zeroed on Destroy, it is simply not pinned out of swap.
func mlock(_ []byte) bool {
	return false
}

// munlock is a no-op on Windows, matching mlock.
func munlock(_ []byte) {}
