package batch

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"

	"scenebatch/internal/domain"
)

// Fingerprint derives the stable batch id for a (user, item-set) pair. Items
// are sorted by scene id (then prompt, then variants, so duplicated scene
// ids still order deterministically) before hashing: submission order never
// changes the fingerprint. SHA-256 over a length-prefixed serialization
// keeps logically different requests from colliding.
func Fingerprint(userID string, items []domain.BatchItem) string {
	sorted := append([]domain.BatchItem(nil), items...)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.SceneID != b.SceneID {
			return a.SceneID < b.SceneID
		}
		if a.Prompt != b.Prompt {
			return a.Prompt < b.Prompt
		}
		return a.Variants < b.Variants
	})

	h := sha256.New()
	writeField(h, userID)
	for _, item := range sorted {
		writeField(h, item.SceneID)
		writeField(h, item.Prompt)
		writeField(h, fmt.Sprintf("%d", item.Variants))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func writeField(w io.Writer, field string) {
	fmt.Fprintf(w, "%d:%s", len(field), field)
}
