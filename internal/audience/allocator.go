package audience

import (
	"math"

	"github.com/mailsplit/mailsplit/internal/store"
)

// Allocate partitions an already-shuffled sample across variants in declared
// order. Each variant gets floor(sampleSize * allocation/100) recipients as a
// contiguous slice, so slices are pairwise disjoint. The rounding remainder
// is dropped, not redistributed.
func Allocate(sample []*store.Contact, variants []*store.Variant) map[string][]string {
	out := make(map[string][]string, len(variants))
	total := len(sample)
	offset := 0

	for _, v := range variants {
		size := int(math.Floor(float64(total) * v.TrafficAllocation / 100))
		if offset+size > total {
			size = total - offset
		}
		emails := make([]string, 0, size)
		for _, c := range sample[offset : offset+size] {
			emails = append(emails, c.Email)
		}
		out[v.ID] = emails
		offset += size
	}
	return out
}
