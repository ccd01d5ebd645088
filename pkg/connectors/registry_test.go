package connectors

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sipeed/gatewaybridge/pkg/model"
)

type nopConnector struct{ platform model.Platform }

func (n nopConnector) Platform() model.Platform { return n.platform }
func (n nopConnector) Send(ctx context.Context, req DispatchRequest) (DispatchResult, error) {
	return DispatchResult{}, nil
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Get(model.PlatformSlack)
	require.False(t, ok)

	r.Register(nopConnector{platform: model.PlatformSlack})
	c, ok := r.Get(model.PlatformSlack)
	require.True(t, ok)
	require.Equal(t, model.PlatformSlack, c.Platform())
}
