package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	waLog "go.mau.fi/whatsmeow/util/log"
)

type fakeService struct {
	started  bool
	stopped  bool
	startErr error
	order    *[]string
	name     string
}

func (f *fakeService) Start(ctx context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started = true
	*f.order = append(*f.order, "start:"+f.name)
	return nil
}

func (f *fakeService) Stop() {
	f.stopped = true
	*f.order = append(*f.order, "stop:"+f.name)
}

func TestStartAllAndStopAllOrder(t *testing.T) {
	var order []string
	a := &fakeService{name: "a", order: &order}
	b := &fakeService{name: "b", order: &order}

	m := NewManager(waLog.Noop)
	m.Register("a", a)
	m.Register("b", b)

	require.NoError(t, m.StartAll(context.Background()))
	m.StopAll()

	assert.Equal(t, []string{"start:a", "start:b", "stop:b", "stop:a"}, order)
}

func TestStartAllRollsBackOnFailure(t *testing.T) {
	var order []string
	a := &fakeService{name: "a", order: &order}
	b := &fakeService{name: "b", order: &order, startErr: errors.New("nope")}

	m := NewManager(waLog.Noop)
	m.Register("a", a)
	m.Register("b", b)

	err := m.StartAll(context.Background())
	require.Error(t, err)
	assert.True(t, a.stopped)
	assert.False(t, b.started)

	// StopAll after a failed start is a no-op.
	m.StopAll()
	assert.Equal(t, []string{"start:a", "stop:a"}, order)
}
