package system

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeService struct {
	name     string
	startErr error
	events   *[]string
}

func (f *fakeService) Name() string { return f.name }

func (f *fakeService) Start(context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	*f.events = append(*f.events, "start "+f.name)
	return nil
}

func (f *fakeService) Stop(context.Context) error {
	*f.events = append(*f.events, "stop "+f.name)
	return nil
}

func TestManagerStartOrderStopReversed(t *testing.T) {
	var events []string
	m := NewManager(nil)
	m.Register(&fakeService{name: "a", events: &events})
	m.Register(&fakeService{name: "b", events: &events})
	m.Register(&fakeService{name: "c", events: &events})

	ctx := context.Background()
	require.NoError(t, m.StartAll(ctx))
	require.NoError(t, m.StopAll(ctx))

	assert.Equal(t, []string{
		"start a", "start b", "start c",
		"stop c", "stop b", "stop a",
	}, events)
}

func TestManagerStartFailureUnwindsStarted(t *testing.T) {
	var events []string
	m := NewManager(nil)
	m.Register(&fakeService{name: "a", events: &events})
	m.Register(&fakeService{name: "b", startErr: errors.New("boom"), events: &events})
	m.Register(&fakeService{name: "c", events: &events})

	err := m.StartAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start b")
	assert.Equal(t, []string{"start a", "stop a"}, events)
}
