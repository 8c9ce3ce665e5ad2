package services

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestReleaseDecision(t *testing.T) {
	teacher := uuid.New()
	other := uuid.New()
	token := "tok"
	otherToken := "other"
	now := time.Now()
	live := now.Add(10 * time.Minute)
	stale := now.Add(-time.Minute)

	// Already free: releasing again is a no-op.
	require.Equal(t, releaseNoop, releaseDecision(nil, nil, nil, teacher, token, now))

	// Live claim with matching holder and token clears.
	require.Equal(t, releaseClear, releaseDecision(&teacher, &token, &live, teacher, token, now))

	// Expired claim clears regardless of who asks.
	require.Equal(t, releaseClear, releaseDecision(&other, &otherToken, &stale, teacher, token, now))

	// Live claim held by someone else conflicts.
	require.Equal(t, releaseConflict, releaseDecision(&other, &otherToken, &live, teacher, token, now))

	// Right holder, wrong token conflicts.
	require.Equal(t, releaseConflict, releaseDecision(&teacher, &otherToken, &live, teacher, token, now))
}

func TestClaimCacheKey(t *testing.T) {
	teacher := uuid.New()

	require.Empty(t, claimCacheKey("help", teacher, ""))

	k1 := claimCacheKey("help", teacher, "abc")
	k2 := claimCacheKey("review", teacher, "abc")
	require.NotEqual(t, k1, k2)
	require.Equal(t, k1, claimCacheKey("help", teacher, "abc"))
}
