package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to EventStatus
		ok       bool
	}{
		{StatusQueued, StatusProcessing, true},
		{StatusProcessing, StatusDone, true},
		{StatusProcessing, StatusQueued, true},
		{StatusProcessing, StatusFailed, true},
		{StatusQueued, StatusDone, false},
		{StatusQueued, StatusFailed, false},
		{StatusDone, StatusProcessing, false},
		{StatusDone, StatusQueued, false},
		{StatusFailed, StatusQueued, false},
		{StatusFailed, StatusProcessing, false},
	}

	for _, tc := range cases {
		ev := &QueueEvent{ID: 1, Status: tc.from}
		err := ev.Transition(tc.to)
		if tc.ok {
			require.NoError(t, err, "%s -> %s", tc.from, tc.to)
			require.Equal(t, tc.to, ev.Status)
		} else {
			require.Error(t, err, "%s -> %s", tc.from, tc.to)
			require.Equal(t, tc.from, ev.Status, "rejected transition must not mutate")
		}
	}
}

func TestTerminalStates(t *testing.T) {
	require.False(t, StatusQueued.Terminal())
	require.False(t, StatusProcessing.Terminal())
	require.True(t, StatusDone.Terminal())
	require.True(t, StatusFailed.Terminal())
}

func TestParseAspectType(t *testing.T) {
	for _, valid := range []string{"create", "update", "delete"} {
		aspect, err := ParseAspectType(valid)
		require.NoError(t, err)
		require.Equal(t, AspectType(valid), aspect)
	}

	_, err := ParseAspectType("destroy")
	require.Error(t, err)
}

func TestPermanentErrorClassification(t *testing.T) {
	base := errors.New("activity vanished upstream")

	require.False(t, IsPermanent(base))
	require.True(t, IsPermanent(Permanent(base)))
	require.True(t, IsPermanent(ErrReauthorizationRequired))

	wrapped := Permanent(base)
	require.ErrorIs(t, wrapped, base)
	require.Nil(t, Permanent(nil))
}

func TestCredentialExpiresWithin(t *testing.T) {
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

	fresh := Credential{ExpiresAt: now.Add(2 * time.Hour)}
	require.False(t, fresh.ExpiresWithin(time.Minute, now))

	closing := Credential{ExpiresAt: now.Add(30 * time.Second)}
	require.True(t, closing.ExpiresWithin(time.Minute, now))

	expired := Credential{ExpiresAt: now.Add(-time.Hour)}
	require.True(t, expired.ExpiresWithin(time.Minute, now))
}
