package connectors

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sipeed/gatewaybridge/pkg/model"
)

type fakeSender struct {
	platform model.Platform
	fail     bool
}

func (f *fakeSender) Platform() model.Platform { return f.platform }

func (f *fakeSender) SendRaw(ctx context.Context, req DispatchRequest) (DispatchResult, error) {
	if f.fail {
		return DispatchResult{}, errors.New("boom")
	}
	return DispatchResult{PlatformMessageID: "wire-1"}, nil
}

func TestBaseSendSuppressesDuplicates(t *testing.T) {
	sender := &fakeSender{platform: model.PlatformWhatsApp}
	base := NewBase(sender, nil, nil)

	_, err := base.Send(context.Background(), DispatchRequest{MessageID: "m1", PlatformUserID: "u1"})
	require.NoError(t, err)

	_, err = base.Send(context.Background(), DispatchRequest{MessageID: "m1", PlatformUserID: "u1"})
	require.True(t, model.IsKind(err, model.KindDuplicate))
}

func TestBaseSendTripsCircuitBreaker(t *testing.T) {
	sender := &fakeSender{platform: model.PlatformWhatsApp, fail: true}
	breaker := NewCircuitBreaker(2, time.Minute)
	base := NewBase(sender, breaker, nil)
	ctx := context.Background()

	_, err := base.Send(ctx, DispatchRequest{MessageID: "m1", PlatformUserID: "u1"})
	require.Error(t, err)
	_, err = base.Send(ctx, DispatchRequest{MessageID: "m2", PlatformUserID: "u1"})
	require.Error(t, err)

	_, err = base.Send(ctx, DispatchRequest{MessageID: "m3", PlatformUserID: "u1"})
	require.ErrorIs(t, err, ErrCircuitOpen)
}

func TestBaseSendRateLimited(t *testing.T) {
	sender := &fakeSender{platform: model.PlatformWhatsApp}
	limiter := NewRecipientLimiter(0, 1) // zero steady rate, burst of 1
	base := NewBase(sender, nil, limiter)
	ctx := context.Background()

	_, err := base.Send(ctx, DispatchRequest{MessageID: "m1", PlatformUserID: "u1"})
	require.NoError(t, err)

	_, err = base.Send(ctx, DispatchRequest{MessageID: "m2", PlatformUserID: "u1"})
	require.True(t, model.IsKind(err, model.KindTransient))
}
