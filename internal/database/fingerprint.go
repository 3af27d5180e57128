package database

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
)

// fingerprint hashes entries into a stable identifier. An empty set yields
// an empty string so callers can tell "nothing to index" from "changed".
func fingerprint(entries []string) string {
	if len(entries) == 0 {
		return ""
	}
	sorted := append([]string(nil), entries...)
	sort.Strings(sorted)

	hasher := sha256.New()
	for _, e := range sorted {
		fmt.Fprintf(hasher, "%s;", e)
	}
	return hex.EncodeToString(hasher.Sum(nil))
}
