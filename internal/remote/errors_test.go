package remote

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFromStatus(t *testing.T) {
	rl := FromStatus("start_conversation", http.StatusTooManyRequests, 3*time.Second, "slow down")
	require.Equal(t, KindRateLimited, rl.Kind)
	require.Equal(t, 3*time.Second, rl.RetryAfter)
	require.Equal(t, "start_conversation: rate limited (status 429): slow down", rl.Error())

	other := FromStatus("start_conversation", http.StatusForbidden, 3*time.Second, "no access")
	require.Equal(t, KindOther, other.Kind)
	require.Zero(t, other.RetryAfter)
}

func TestClassify(t *testing.T) {
	require.Equal(t, KindOther, Classify(errors.New("plain")))
	wrapped := fmt.Errorf("outer: %w", RateLimited("op", 0, nil))
	require.Equal(t, KindRateLimited, Classify(wrapped))
	require.True(t, IsRateLimited(wrapped))
	require.False(t, IsRateLimited(nil))
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.Equal(t, 12*time.Second, ParseRetryAfter("12", now))
	require.Zero(t, ParseRetryAfter("", now))
	require.Zero(t, ParseRetryAfter("soon", now))
	require.Equal(t, 30*time.Second, ParseRetryAfter(now.Add(30*time.Second).Format(http.TimeFormat), now))
	require.Zero(t, ParseRetryAfter(now.Add(-time.Minute).Format(http.TimeFormat), now))
}

func TestStepErrorUnwrap(t *testing.T) {
	last := RateLimited("fetch", 0, nil)
	err := &StepError{Step: "fetch_result", Attempts: 6, Err: ErrRetriesExhausted, Last: last}

	require.ErrorIs(t, err, ErrRetriesExhausted)
	require.ErrorIs(t, err, last)
	require.Contains(t, err.Error(), "after 6 attempt(s)")
}

func TestHandleHasResult(t *testing.T) {
	require.True(t, Handle{ConversationID: "c", MessageID: "m", AttachmentID: "a"}.HasResult())
	require.False(t, Handle{ConversationID: "c", MessageID: "m"}.HasResult())
}
