package wakelock

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/c360/sensorhub/errors"
	"github.com/c360/sensorhub/metric"
)

// recordingLock tracks the underlying lock state and fails the test on a
// nested acquire or an unmatched release.
type recordingLock struct {
	t        *testing.T
	mu       sync.Mutex
	locked   bool
	acquires int
	releases int
}

func (l *recordingLock) Acquire(string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locked {
		l.t.Errorf("underlying lock acquired twice")
	}
	l.locked = true
	l.acquires++
	return nil
}

func (l *recordingLock) Release(string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.locked {
		l.t.Errorf("underlying lock released while not held")
	}
	l.locked = false
	l.releases++
	return nil
}

func (l *recordingLock) state() (bool, int, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.locked, l.acquires, l.releases
}

type mockLock struct {
	mock.Mock
}

func (m *mockLock) Acquire(name string) error { return m.Called(name).Error(0) }
func (m *mockLock) Release(name string) error { return m.Called(name).Error(0) }

func TestCoordinator_Transitions(t *testing.T) {
	lock := &recordingLock{t: t}
	c := NewCoordinator("SensorsHAL_WAKEUP", lock)

	g1 := c.Acquire()
	g2 := c.Acquire()
	assert.Equal(t, int64(2), c.RefCount())
	assert.True(t, c.Held())

	g1.Release()
	assert.True(t, c.Held(), "lock stays held while a guard is live")

	g2.Release()
	assert.Equal(t, int64(0), c.RefCount())
	assert.False(t, c.Held())

	locked, acquires, releases := lock.state()
	assert.False(t, locked)
	assert.Equal(t, 1, acquires)
	assert.Equal(t, 1, releases)
}

func TestGuard_ReleaseIsIdempotent(t *testing.T) {
	lock := &recordingLock{t: t}
	c := NewCoordinator("wl", lock)

	other := c.Acquire()
	g := c.Acquire()
	g.Release()
	g.Release()
	g.Release()
	assert.Equal(t, int64(1), c.RefCount(), "extra releases must not steal another guard's reference")

	other.Release()
	assert.Equal(t, int64(0), c.RefCount())

	var nilGuard *Guard
	assert.NotPanics(t, nilGuard.Release)
}

func TestCoordinator_ConcurrentGuards(t *testing.T) {
	lock := &recordingLock{t: t}
	c := NewCoordinator("wl", lock)

	const workers = 16
	const rounds = 500

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			r := rand.New(rand.NewSource(seed))
			var live []*Guard
			for i := 0; i < rounds; i++ {
				if len(live) == 0 || r.Intn(2) == 0 {
					live = append(live, c.Acquire())
				} else {
					idx := r.Intn(len(live))
					live[idx].Release()
					live = append(live[:idx], live[idx+1:]...)
				}
			}
			for _, g := range live {
				g.Release()
			}
		}(int64(w))
	}
	wg.Wait()

	assert.Equal(t, int64(0), c.RefCount())
	assert.False(t, c.Held())
	locked, acquires, releases := lock.state()
	assert.False(t, locked)
	assert.Equal(t, acquires, releases)
}

func TestCoordinator_HeldMatchesRefCount(t *testing.T) {
	c := NewCoordinator("wl", NopLock{})

	var wg sync.WaitGroup
	stop := make(chan struct{})
	violations := make(chan string, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			c.mu.Lock()
			ok := c.held == (c.refCount > 0)
			rc := c.refCount
			c.mu.Unlock()
			if !ok {
				select {
				case violations <- fmt.Sprintf("held mismatch at refcount %d", rc):
				default:
				}
				return
			}
		}
	}()

	var workers sync.WaitGroup
	for i := 0; i < 8; i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			for j := 0; j < 1000; j++ {
				c.Acquire().Release()
			}
		}()
	}
	workers.Wait()
	close(stop)
	wg.Wait()

	select {
	case v := <-violations:
		t.Fatal(v)
	default:
	}
}

func TestCoordinator_LockFailureKeepsCounting(t *testing.T) {
	lock := new(mockLock)
	lock.On("Acquire", "wl").Return(fmt.Errorf("permission denied")).Once()
	lock.On("Release", "wl").Return(nil).Once()

	c := NewCoordinator("wl", lock)
	g := c.Acquire()
	assert.Equal(t, int64(1), c.RefCount())
	assert.True(t, c.Held())

	g.Release()
	assert.Equal(t, int64(0), c.RefCount())
	lock.AssertExpectations(t)
}

func TestCoordinator_Metrics(t *testing.T) {
	m := metric.NewMetrics()
	c := NewCoordinator("wl", nil, WithMetrics(m))

	g1 := c.Acquire()
	g2 := c.Acquire()
	assert.Equal(t, 2.0, testutil.ToFloat64(m.WakelockRefCount))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WakelockHeld))

	g1.Release()
	g2.Release()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.WakelockRefCount))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.WakelockHeld))
}

func TestSysfsLock(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"wake_lock", "wake_unlock"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0644))
	}

	lock := NewSysfsLock(dir)
	require.NoError(t, lock.Acquire("SensorsHAL_WAKEUP"))
	require.NoError(t, lock.Release("SensorsHAL_WAKEUP"))

	got, err := os.ReadFile(filepath.Join(dir, "wake_lock"))
	require.NoError(t, err)
	assert.Equal(t, "SensorsHAL_WAKEUP", string(got))
	got, err = os.ReadFile(filepath.Join(dir, "wake_unlock"))
	require.NoError(t, err)
	assert.Equal(t, "SensorsHAL_WAKEUP", string(got))

	missing := NewSysfsLock(filepath.Join(dir, "absent"))
	err = missing.Acquire("x")
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))

	assert.Equal(t, DefaultSysfsDir, NewSysfsLock("").dir)
}
