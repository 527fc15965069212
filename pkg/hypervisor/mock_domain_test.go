package hypervisor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainMock_Lifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewDomainMock()

	require.NoError(t, m.Define(ctx, "work", "<domain/>"))
	running, err := m.IsRunning(ctx, "work")
	require.NoError(t, err)
	assert.False(t, running)

	require.NoError(t, m.Start(ctx, "work"))
	running, err = m.IsRunning(ctx, "work")
	require.NoError(t, err)
	assert.True(t, running)

	require.NoError(t, m.Pause(ctx, "work"))
	require.NoError(t, m.Unpause(ctx, "work"))

	require.NoError(t, m.GracefulShutdown(ctx, "work"))
	running, err = m.IsRunning(ctx, "work")
	require.NoError(t, err)
	assert.False(t, running)

	require.NoError(t, m.WaitQrexecReady(ctx, "work"))
}

func TestDomainMock_Kill(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewDomainMock()
	require.NoError(t, m.Start(ctx, "sys-net"))
	require.NoError(t, m.Kill(ctx, "sys-net"))

	running, err := m.IsRunning(ctx, "sys-net")
	require.NoError(t, err)
	assert.False(t, running)
}
