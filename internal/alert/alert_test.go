package alert

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmgate/llmgate/internal/config"
)

type recordingNotifier struct {
	throttles []ThrottleAlert
	health    []HealthAlert
	err       error
}

func (r *recordingNotifier) SendThrottleAlert(_ context.Context, alert ThrottleAlert) error {
	r.throttles = append(r.throttles, alert)
	return r.err
}

func (r *recordingNotifier) SendHealthAlert(_ context.Context, alert HealthAlert) error {
	r.health = append(r.health, alert)
	return r.err
}

func TestCooldownSuppressesRepeats(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	next := &recordingNotifier{}
	cooldown := NewCooldown(next, time.Minute)
	cooldown.Clock = func() time.Time { return now }

	ctx := context.Background()
	require.NoError(t, cooldown.SendThrottleAlert(ctx, ThrottleAlert{Provider: "openai"}))
	require.NoError(t, cooldown.SendThrottleAlert(ctx, ThrottleAlert{Provider: "openai"}))
	require.NoError(t, cooldown.SendThrottleAlert(ctx, ThrottleAlert{Provider: "anthropic"}))
	require.NoError(t, cooldown.SendHealthAlert(ctx, HealthAlert{Provider: "openai"}))
	assert.Len(t, next.throttles, 2)
	assert.Len(t, next.health, 1)

	now = now.Add(time.Minute)
	require.NoError(t, cooldown.SendThrottleAlert(ctx, ThrottleAlert{Provider: "openai"}))
	assert.Len(t, next.throttles, 3)
}

func TestCooldownApplyConfig(t *testing.T) {
	next := &recordingNotifier{}
	cooldown := NewCooldown(next, time.Hour)

	require.NoError(t, cooldown.Apply(&config.Config{Alerts: config.AlertsConfig{Cooldown: 0}}))
	ctx := context.Background()
	require.NoError(t, cooldown.SendHealthAlert(ctx, HealthAlert{Provider: "p"}))
	require.NoError(t, cooldown.SendHealthAlert(ctx, HealthAlert{Provider: "p"}))
	assert.Len(t, next.health, 2)

	require.Error(t, cooldown.Apply(nil))
}

func TestMultiJoinsErrors(t *testing.T) {
	failing := &recordingNotifier{err: errors.New("webhook down")}
	ok := &recordingNotifier{}
	multi := Multi{failing, nil, ok}

	err := multi.SendThrottleAlert(context.Background(), ThrottleAlert{Provider: "openai", OldRPM: 60, NewRPM: 30})
	require.Error(t, err)
	assert.Len(t, ok.throttles, 1)
	assert.Equal(t, 30, ok.throttles[0].NewRPM)
}

func TestLogNotifierNilLoggerIsNoop(t *testing.T) {
	n := &LogNotifier{}
	require.NoError(t, n.SendThrottleAlert(context.Background(), ThrottleAlert{}))
	require.NoError(t, n.SendHealthAlert(context.Background(), HealthAlert{}))
}
