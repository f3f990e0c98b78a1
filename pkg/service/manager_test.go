package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func recording(name string, trace *[]string, startErr error) Func {
	return Func{
		ServiceName: name,
		OnStart: func(ctx context.Context) error {
			*trace = append(*trace, "start:"+name)
			return startErr
		},
		OnStop: func(ctx context.Context) error {
			*trace = append(*trace, "stop:"+name)
			return nil
		},
	}
}

func TestStartOrderAndReverseStop(t *testing.T) {
	m := NewManager()
	var trace []string
	require.NoError(t, m.Register(recording("store", &trace, nil)))
	require.NoError(t, m.Register(recording("gateway", &trace, nil)))
	require.NoError(t, m.Register(recording("scheduler", &trace, nil)))

	ctx := context.Background()
	require.NoError(t, m.StartAll(ctx))
	require.NoError(t, m.StopAll(ctx))

	require.Equal(t, []string{
		"start:store", "start:gateway", "start:scheduler",
		"stop:scheduler", "stop:gateway", "stop:store",
	}, trace)
}

func TestStartFailureUnwindsStartedServices(t *testing.T) {
	m := NewManager()
	var trace []string
	require.NoError(t, m.Register(recording("store", &trace, nil)))
	require.NoError(t, m.Register(recording("gateway", &trace, errors.New("no token"))))
	require.NoError(t, m.Register(recording("scheduler", &trace, nil)))

	err := m.StartAll(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "gateway")

	require.Equal(t, []string{"start:store", "start:gateway", "stop:store"}, trace)
	require.Equal(t, StateError, m.States()["gateway"])
	require.Equal(t, StateStopped, m.States()["store"])
	require.Equal(t, StateRegistered, m.States()["scheduler"])
}

func TestDuplicateRegistrationRejected(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Register(Func{ServiceName: "store"}))
	require.Error(t, m.Register(Func{ServiceName: "store"}))
}
