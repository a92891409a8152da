// internal/engine/monitor/manager_test.go
package monitor

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"marketplace-engine/internal/common/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMonitor struct {
	name   string
	cycles atomic.Int64
	fail   bool
}

func (f *fakeMonitor) Name() string { return f.name }

func (f *fakeMonitor) RunCycle(ctx context.Context) error {
	f.cycles.Add(1)
	if f.fail {
		return fmt.Errorf("cycle failed")
	}
	return nil
}

func TestManager_StartRunsImmediatelyAndStops(t *testing.T) {
	mgr := NewManager(nil, logger.NewTestLogger(t))
	mon := &fakeMonitor{name: "fake"}
	mgr.Register(mon, time.Hour)

	mgr.Start(context.Background())
	defer mgr.Stop()

	require.Eventually(t, func() bool {
		return mon.cycles.Load() == 1
	}, time.Second, 10*time.Millisecond)

	mgr.Stop()
	assert.Equal(t, int64(1), mon.cycles.Load())
}

func TestManager_RunCheckByName(t *testing.T) {
	mgr := NewManager(nil, logger.NewTestLogger(t))
	first := &fakeMonitor{name: "first"}
	second := &fakeMonitor{name: "second"}
	mgr.Register(first, time.Hour)
	mgr.Register(second, time.Hour)

	err := mgr.RunCheck(context.Background(), "second")

	assert.NoError(t, err)
	assert.Equal(t, int64(0), first.cycles.Load())
	assert.Equal(t, int64(1), second.cycles.Load())
}

func TestManager_RunCheckAll(t *testing.T) {
	mgr := NewManager(nil, logger.NewTestLogger(t))
	first := &fakeMonitor{name: "first"}
	second := &fakeMonitor{name: "second", fail: true}
	mgr.Register(first, time.Hour)
	mgr.Register(second, time.Hour)

	err := mgr.RunCheck(context.Background(), "all")

	assert.NoError(t, err)
	assert.Equal(t, int64(1), first.cycles.Load())
	assert.Equal(t, int64(1), second.cycles.Load())
}

func TestManager_RunCheckUnknownKind(t *testing.T) {
	mgr := NewManager(nil, logger.NewTestLogger(t))

	err := mgr.RunCheck(context.Background(), "bogus")

	assert.Error(t, err)
}

func TestManager_StopIsIdempotent(t *testing.T) {
	mgr := NewManager(nil, logger.NewTestLogger(t))
	mgr.Register(&fakeMonitor{name: "fake"}, time.Hour)

	mgr.Start(context.Background())
	mgr.Stop()
	mgr.Stop()
}
