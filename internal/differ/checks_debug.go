//go:build !release

package differ

// verifyRoundTrip makes Diff panic when its edit script does not reproduce
// the new text. Release builds skip the check.
const verifyRoundTrip = true
