package realtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessageValidation(t *testing.T) {
	now := time.Unix(1700000000, 0)

	tests := []struct {
		name       string
		targetType TargetType
		targetID   string
		priority   int
		wantErr    bool
	}{
		{"connection with id", TargetConnection, "c1", PriorityHigh, false},
		{"connection without id", TargetConnection, "", PriorityHigh, true},
		{"user without id", TargetUser, "", PriorityHigh, true},
		{"broadcast without id", TargetBroadcast, "", PriorityMedium, false},
		{"broadcast with id", TargetBroadcast, "u1", PriorityMedium, true},
		{"priority too low", TargetUser, "u1", 4, true},
		{"negative priority", TargetUser, "u1", -1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newMessage(tt.targetType, tt.targetID, Event(`{}`), tt.priority, now)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, KindValidation, KindOf(err))
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestNewMessageDefaultPriorities(t *testing.T) {
	now := time.Unix(1700000000, 0)

	targeted, err := newMessage(TargetUser, "u1", Event(`{}`), 0, now)
	require.NoError(t, err)
	assert.Equal(t, PriorityHigh, targeted.Priority)

	all, err := newMessage(TargetBroadcast, "", Event(`{}`), 0, now)
	require.NoError(t, err)
	assert.Equal(t, PriorityMedium, all.Priority)
}

func TestDeriveIDDeterministic(t *testing.T) {
	event := Event(`{"id":"e1","type":"chat"}`)

	first := deriveID(TargetUser, "u1", event)
	second := deriveID(TargetUser, "u1", event)
	assert.Equal(t, first, second)
	assert.Equal(t, "user:u1:e1", first)

	// Different targets never collide.
	assert.NotEqual(t, first, deriveID(TargetUser, "u2", event))
	assert.NotEqual(t, first, deriveID(TargetSession, "u1", event))
}

func TestDeriveIDWithoutEventID(t *testing.T) {
	event := Event(`{"type":"chat"}`)

	first := deriveID(TargetUser, "u1", event)
	second := deriveID(TargetUser, "u1", event)
	assert.NotEqual(t, first, second, "events without IDs must never be deduplicated")
}

func TestScorePriorityDominatesAge(t *testing.T) {
	older := time.Unix(1700000000, 0)
	newer := older.Add(time.Hour)

	lowOld, err := newMessage(TargetUser, "u1", Event(`{}`), PriorityLow, older)
	require.NoError(t, err)
	highNew, err := newMessage(TargetUser, "u1", Event(`{}`), PriorityHigh, newer)
	require.NoError(t, err)

	assert.Less(t, highNew.score(), lowOld.score(),
		"a newer high-priority message must dequeue before an older low-priority one")
}

func TestScoreFIFOWithinPriority(t *testing.T) {
	first := time.Unix(1700000000, 0)
	second := first.Add(time.Second)

	a, err := newMessage(TargetUser, "u1", Event(`{}`), PriorityMedium, first)
	require.NoError(t, err)
	b, err := newMessage(TargetUser, "u1", Event(`{}`), PriorityMedium, second)
	require.NoError(t, err)

	assert.Less(t, a.score(), b.score())
}

func TestExpired(t *testing.T) {
	now := time.Unix(1700000000, 0)

	msg, err := newMessage(TargetUser, "u1", Event(`{}`), 0, now)
	require.NoError(t, err)
	assert.False(t, msg.expired(now), "messages without expiry never expire")

	past := now.Add(-time.Minute)
	msg.ExpiresAt = &past
	assert.True(t, msg.expired(now))

	future := now.Add(time.Minute)
	msg.ExpiresAt = &future
	assert.False(t, msg.expired(now))
}
