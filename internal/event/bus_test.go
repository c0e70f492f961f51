package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBus_PublishInSubscriptionOrder(t *testing.T) {
	b := NewBus[int]()
	var got []string
	b.Subscribe(func(v int) { got = append(got, "a") })
	b.Subscribe(func(v int) { got = append(got, "b") })

	b.Publish(1)
	assert.Equal(t, []string{"a", "b"}, got)
	assert.Equal(t, 2, b.Len())
}

func TestBus_UnsubscribeIsIdempotent(t *testing.T) {
	b := NewBus[string]()
	calls := 0
	s := b.Subscribe(func(string) { calls++ })
	b.Publish("x")
	s.Unsubscribe()
	s.Unsubscribe()
	b.Publish("y")

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, b.Len())
}

func TestBus_UnsubscribeFromHandler(t *testing.T) {
	b := NewBus[int]()
	var sub Subscription
	calls := 0
	sub = b.Subscribe(func(int) {
		calls++
		sub.Unsubscribe()
	})
	b.Publish(1)
	b.Publish(2)
	assert.Equal(t, 1, calls)
}

func TestGroup_Unsubscribe(t *testing.T) {
	b := NewBus[RelationChanged]()
	var g Group
	n := 0
	g.Add(b.Subscribe(func(RelationChanged) { n++ }))
	g.Add(b.Subscribe(func(RelationChanged) { n++ }))
	b.Publish(RelationChanged{Kind: RelationBlocked})
	g.Unsubscribe()
	b.Publish(RelationChanged{Kind: RelationBlocked})

	assert.Equal(t, 2, n)
	assert.Equal(t, 0, b.Len())
}

func TestRelationChanged_AffectsBlocks(t *testing.T) {
	assert.True(t, RelationChanged{Kind: RelationBlocked}.AffectsBlocks())
	assert.True(t, RelationChanged{Kind: AccountAdded}.AffectsBlocks())
	assert.False(t, RelationChanged{Kind: RelationFollowed}.AffectsBlocks())
	assert.Equal(t, "unfollowed", RelationUnfollowed.String())
}
