package route

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeProber struct{ err error }

func (f fakeProber) Probe(context.Context) error { return f.err }

type fakePassive struct{ healthy bool }

func (f fakePassive) PassiveHealthy() bool { return f.healthy }

func TestFanOutHealth_DefaultsToHealthyBeforeFirstRefresh(t *testing.T) {
	h := NewFanOutHealth(nil)
	h.Register("p1", fakeProber{}, nil)
	require.True(t, h.IsHealthy("p1"))
}

func TestFanOutHealth_RefreshRecordsFailure(t *testing.T) {
	h := NewFanOutHealth(nil)
	h.Register("p1", fakeProber{err: errors.New("unreachable")}, nil)
	h.Register("p2", fakeProber{}, nil)

	h.Refresh(context.Background(), time.Second)

	require.False(t, h.IsHealthy("p1"))
	require.True(t, h.IsHealthy("p2"))
}

func TestFanOutHealth_PassiveSignalOverridesActiveResult(t *testing.T) {
	h := NewFanOutHealth(nil)
	h.Register("p1", fakeProber{}, fakePassive{healthy: false})

	h.Refresh(context.Background(), time.Second)

	require.False(t, h.IsHealthy("p1"), "a tripped breaker must win even though the active probe succeeded")
}

func TestFanOutHealth_OneFailingProbeDoesNotStopOthers(t *testing.T) {
	h := NewFanOutHealth(nil)
	for i := 0; i < 5; i++ {
		id := string(rune('a' + i))
		if i == 2 {
			h.Register(id, fakeProber{err: errors.New("down")}, nil)
		} else {
			h.Register(id, fakeProber{}, nil)
		}
	}

	h.Refresh(context.Background(), time.Second)

	for i := 0; i < 5; i++ {
		id := string(rune('a' + i))
		if i == 2 {
			require.False(t, h.IsHealthy(id))
		} else {
			require.True(t, h.IsHealthy(id))
		}
	}
}
