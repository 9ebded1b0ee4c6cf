//go:build release

package differ

const verifyRoundTrip = false
