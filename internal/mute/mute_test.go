package mute

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/timeline-pipeline/config"
	"github.com/d60-Lab/timeline-pipeline/internal/model"
)

func TestSettings_CompileEmptyMutesNothing(t *testing.T) {
	e, err := Settings{}.Compile()
	require.NoError(t, err)
	assert.False(t, e.Eval(&model.Status{ID: 1, Text: "anything"}))
}

func TestSettings_MuteRetweets(t *testing.T) {
	orig := &model.Status{ID: 1, UserID: 9, Text: "hi"}
	rt := (&model.Status{ID: 2, UserID: 3, Text: "RT"}).WithRetweetOf(orig)

	e, err := Settings{UserIDs: []int64{9}}.Compile()
	require.NoError(t, err)
	assert.True(t, e.Eval(orig))
	assert.False(t, e.Eval(rt))

	e, err = Settings{UserIDs: []int64{9}, MuteRetweets: true}.Compile()
	require.NoError(t, err)
	assert.True(t, e.Eval(rt))
}

func TestStore_UpdateNotifies(t *testing.T) {
	s := NewStore(FromConfig(config.MuteConfig{Keywords: []string{"spoiler"}}))
	assert.Equal(t, []string{"spoiler"}, s.Settings().Keywords)

	var got []Settings
	sub := s.Subscribe(func(v Settings) { got = append(got, v) })
	defer sub.Unsubscribe()

	require.NoError(t, s.Update(Settings{Sources: []string{"bot"}}))
	require.Len(t, got, 1)
	assert.Equal(t, []string{"bot"}, got[0].Sources)
	assert.Equal(t, []string{"bot"}, s.Settings().Sources)
}

func TestStore_UpdateRejectsInvalid(t *testing.T) {
	s := NewStore(Settings{})
	called := false
	s.Subscribe(func(Settings) { called = true })

	assert.Error(t, s.Update(Settings{Keywords: []string{""}}))
	assert.False(t, called)
	assert.True(t, s.Settings().Empty())
}
