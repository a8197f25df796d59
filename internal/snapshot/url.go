package snapshot

import "strings"

// CacheKey derives the filesystem-safe artifact name for a URL. The scheme
// separator and path separators are replaced so the key is a single path
// component. This derivation is part of the on-disk contract: it must stay
// stable across restarts or cache hits break after a redeploy.
func CacheKey(rawURL string) string {
	key := strings.ReplaceAll(rawURL, "://", "_")
	key = strings.ReplaceAll(key, "/", "_")
	return key + ".png"
}
