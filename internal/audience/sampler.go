// Package audience derives the eligible subset of a contact population for
// an experiment and partitions a drawn sample across variants.
package audience

import (
	"math"
	"math/rand"

	"github.com/mailsplit/mailsplit/internal/stats"
	"github.com/mailsplit/mailsplit/internal/store"
)

// Eligible applies segment filters to a population of active contacts.
// Dimensions combine conjunctively; tag membership is any-of within its
// list, company is exact membership, engagement is an inclusive range with
// missing bounds defaulting to 0 and 100.
func Eligible(contacts []*store.Contact, filters store.SegmentFilters) []*store.Contact {
	minScore, maxScore := 0.0, 100.0
	if filters.EngagementMin != nil {
		minScore = *filters.EngagementMin
	}
	if filters.EngagementMax != nil {
		maxScore = *filters.EngagementMax
	}

	var eligible []*store.Contact
	for _, c := range contacts {
		if len(filters.Tags) > 0 && !hasAnyTag(c.Tags, filters.Tags) {
			continue
		}
		if len(filters.Companies) > 0 && !contains(filters.Companies, c.Company) {
			continue
		}
		if filters.EngagementMin != nil || filters.EngagementMax != nil {
			score := stats.EngagementScore(c.LifetimeSent, c.LifetimeOpened, c.LifetimeClicked)
			if score < minScore || score > maxScore {
				continue
			}
		}
		eligible = append(eligible, c)
	}
	return eligible
}

// SampleSize is floor(eligible * percentage/100), clamped to the eligible count.
func SampleSize(eligibleCount int, testPercentage float64) int {
	size := int(math.Floor(float64(eligibleCount) * testPercentage / 100))
	if size > eligibleCount {
		size = eligibleCount
	}
	if size < 0 {
		size = 0
	}
	return size
}

// Sample draws n contacts uniformly at random without replacement. The rand
// source is injected so tests can seed it; the input slice is not mutated.
func Sample(eligible []*store.Contact, n int, rng *rand.Rand) []*store.Contact {
	if n > len(eligible) {
		n = len(eligible)
	}
	shuffled := make([]*store.Contact, len(eligible))
	copy(shuffled, eligible)
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	return shuffled[:n]
}

func hasAnyTag(tags, wanted []string) bool {
	for _, w := range wanted {
		if contains(tags, w) {
			return true
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
