package events

import "strings"

// normalizeAsset trims surrounding space. Currency keys are case sensitive
// (pUSD, PERI) and keep their casing.
func normalizeAsset(asset string) string {
	return strings.TrimSpace(asset)
}
