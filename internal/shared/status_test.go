package shared

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestServiceStatusDefaultsToRunning(t *testing.T) {
	status := NewServiceStatus()

	suspended, redirect := status.Snapshot()
	require.False(t, suspended)
	require.Empty(t, redirect)
}

func TestServiceStatusSuspendResume(t *testing.T) {
	status := NewServiceStatus()

	status.Suspend("https://backup.example.com")
	suspended, redirect := status.Snapshot()
	require.True(t, suspended)
	require.Equal(t, "https://backup.example.com", redirect)

	status.Resume()
	suspended, redirect = status.Snapshot()
	require.False(t, suspended)
	require.Empty(t, redirect)
}

func TestServiceStatusNilSnapshot(t *testing.T) {
	var status *ServiceStatus

	suspended, redirect := status.Snapshot()
	require.False(t, suspended)
	require.Empty(t, redirect)
}
