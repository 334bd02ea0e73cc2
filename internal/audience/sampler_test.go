package audience

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailsplit/mailsplit/internal/store"
)

func contact(email, company string, tags ...string) *store.Contact {
	return &store.Contact{Email: email, Company: company, Tags: tags, Status: "active"}
}

func TestEligible_NoFilters(t *testing.T) {
	contacts := []*store.Contact{
		contact("a@x.com", "Acme"),
		contact("b@x.com", "Globex"),
	}

	eligible := Eligible(contacts, store.SegmentFilters{})
	assert.Len(t, eligible, 2)
}

func TestEligible_TagAnyOf(t *testing.T) {
	contacts := []*store.Contact{
		contact("a@x.com", "", "vip"),
		contact("b@x.com", "", "newsletter"),
		contact("c@x.com", "", "trial"),
	}

	eligible := Eligible(contacts, store.SegmentFilters{Tags: []string{"vip", "newsletter"}})

	require.Len(t, eligible, 2)
	assert.Equal(t, "a@x.com", eligible[0].Email)
	assert.Equal(t, "b@x.com", eligible[1].Email)
}

func TestEligible_DimensionsAreConjunctive(t *testing.T) {
	contacts := []*store.Contact{
		contact("a@x.com", "Acme", "vip"),
		contact("b@x.com", "Globex", "vip"),
		contact("c@x.com", "Acme", "trial"),
	}

	eligible := Eligible(contacts, store.SegmentFilters{
		Tags:      []string{"vip"},
		Companies: []string{"Acme"},
	})

	require.Len(t, eligible, 1)
	assert.Equal(t, "a@x.com", eligible[0].Email)
}

func TestEligible_EngagementRange(t *testing.T) {
	engaged := contact("hot@x.com", "")
	engaged.LifetimeSent = 100
	engaged.LifetimeOpened = 80
	engaged.LifetimeClicked = 40 // score 60
	cold := contact("cold@x.com", "")
	cold.LifetimeSent = 100 // score 0

	min := 30.0
	eligible := Eligible([]*store.Contact{engaged, cold}, store.SegmentFilters{EngagementMin: &min})
	require.Len(t, eligible, 1)
	assert.Equal(t, "hot@x.com", eligible[0].Email)

	// Missing upper bound defaults to 100, so a fully-engaged contact passes.
	max := 50.0
	eligible = Eligible([]*store.Contact{engaged, cold}, store.SegmentFilters{EngagementMax: &max})
	require.Len(t, eligible, 1)
	assert.Equal(t, "cold@x.com", eligible[0].Email)
}

func TestSampleSize(t *testing.T) {
	assert.Equal(t, 20, SampleSize(100, 20))
	assert.Equal(t, 33, SampleSize(100, 33.5)) // floor
	assert.Equal(t, 100, SampleSize(100, 150)) // clamped
	assert.Equal(t, 0, SampleSize(0, 50))
	assert.Equal(t, 0, SampleSize(100, 0))
}

func TestSample_WithoutReplacement(t *testing.T) {
	var contacts []*store.Contact
	for i := 0; i < 100; i++ {
		contacts = append(contacts, contact(fmt.Sprintf("c%d@x.com", i), ""))
	}

	rng := rand.New(rand.NewSource(42))
	sample := Sample(contacts, 40, rng)

	require.Len(t, sample, 40)
	seen := make(map[string]bool)
	for _, c := range sample {
		assert.False(t, seen[c.Email], "duplicate %s in sample", c.Email)
		seen[c.Email] = true
	}

	// Input order is preserved.
	assert.Equal(t, "c0@x.com", contacts[0].Email)
	assert.Equal(t, "c99@x.com", contacts[99].Email)
}

func TestSample_Seeded(t *testing.T) {
	var contacts []*store.Contact
	for i := 0; i < 50; i++ {
		contacts = append(contacts, contact(fmt.Sprintf("c%d@x.com", i), ""))
	}

	a := Sample(contacts, 10, rand.New(rand.NewSource(7)))
	b := Sample(contacts, 10, rand.New(rand.NewSource(7)))

	require.Len(t, b, 10)
	for i := range a {
		assert.Equal(t, a[i].Email, b[i].Email)
	}
}

func TestSample_RequestLargerThanPopulation(t *testing.T) {
	contacts := []*store.Contact{contact("a@x.com", ""), contact("b@x.com", "")}
	sample := Sample(contacts, 10, rand.New(rand.NewSource(1)))
	assert.Len(t, sample, 2)
}
