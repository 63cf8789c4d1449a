package markers

import (
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quaketrack/quaketrack/internal/quake"
)

func ev(id string, mag float64) quake.Event {
	return quake.Event{ID: id, Latitude: 10, Longitude: 20, Magnitude: mag}
}

func ids(events []quake.Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.ID
	}
	return out
}

type changeLog struct {
	mu    sync.Mutex
	kinds []ChangeKind
}

func (l *changeLog) record(c Change) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.kinds = append(l.kinds, c.Kind)
}

func (l *changeLog) get() []ChangeKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ChangeKind(nil), l.kinds...)
}

func TestOnFetchSuccess_DedupKeepsLastOccurrence(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		m := New(time.Minute)
		defer m.Close()

		m.OnFetchSuccess([]quake.Event{ev("a", 1), ev("b", 2), ev("a", 3), ev("c", 4)})

		got := m.CurrentMarkers()
		assert.Equal(t, []string{"b", "a", "c"}, ids(got))
		assert.Equal(t, 3.0, got[1].Magnitude, "last occurrence wins")
		assert.Equal(t, 3, m.Len())
	})
}

func TestOnFetchSuccess_ReplacesNeverMerges(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		m := New(time.Minute)
		defer m.Close()

		m.OnFetchSuccess([]quake.Event{ev("a", 1), ev("b", 2)})
		m.OnFetchSuccess([]quake.Event{ev("c", 3)})
		assert.Equal(t, []string{"c"}, ids(m.CurrentMarkers()))

		m.OnFetchSuccess(nil)
		assert.Empty(t, m.CurrentMarkers(), "an empty result is installed as-is")
	})
}

func TestExpiry_ClearsAfterTTLAndStaysEmpty(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		m := New(28 * time.Second)
		defer m.Close()

		start := time.Now()
		m.OnFetchSuccess([]quake.Event{ev("a", 1)})
		assert.Equal(t, start.Add(28*time.Second), m.ExpiresAt())

		time.Sleep(28*time.Second - time.Millisecond)
		synctest.Wait()
		assert.Equal(t, 1, m.Len(), "still fresh just before the TTL")

		time.Sleep(2 * time.Millisecond)
		synctest.Wait()
		assert.Zero(t, m.Len(), "expired at TTL")
		assert.True(t, m.ExpiresAt().IsZero())

		time.Sleep(time.Hour)
		synctest.Wait()
		assert.Zero(t, m.Len(), "stays empty until the next success")

		m.OnFetchSuccess([]quake.Event{ev("b", 1)})
		assert.Equal(t, 1, m.Len())
	})
}

func TestExpiry_OldTimerNeverClearsNewerSet(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		m := New(28 * time.Second)
		defer m.Close()

		m.OnFetchSuccess([]quake.Event{ev("t1", 1)})
		time.Sleep(20 * time.Second)
		m.OnFetchSuccess([]quake.Event{ev("t2", 1)})

		// Past the deadline armed at t1.
		time.Sleep(10 * time.Second)
		synctest.Wait()
		assert.Equal(t, []string{"t2"}, ids(m.CurrentMarkers()))

		// Past the deadline armed at t2.
		time.Sleep(19 * time.Second)
		synctest.Wait()
		assert.Zero(t, m.Len())
	})
}

func TestExpiry_StaleGenerationIgnored(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		m := New(time.Minute)
		defer m.Close()

		m.OnFetchSuccess([]quake.Event{ev("a", 1)})
		staleGen := m.gen
		m.OnFetchSuccess([]quake.Event{ev("b", 1)})

		// A callback that raced past timer.Stop still cannot clear.
		m.onExpiry(staleGen)
		assert.Equal(t, []string{"b"}, ids(m.CurrentMarkers()))
	})
}

func TestExpiry_ShorterThanPollIntervalFlashesEmpty(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		m := New(5 * time.Second)
		defer m.Close()
		log := &changeLog{}
		m.Subscribe(log.record)

		// Installs every 10s with a 5s TTL: empty from 5s to 10s.
		m.OnFetchSuccess([]quake.Event{ev("a", 1)})
		time.Sleep(7 * time.Second)
		synctest.Wait()
		assert.Zero(t, m.Len())

		time.Sleep(3 * time.Second)
		m.OnFetchSuccess([]quake.Event{ev("a", 1)})
		assert.Equal(t, 1, m.Len())
		assert.Equal(t, []ChangeKind{ChangeReplaced, ChangeExpired, ChangeReplaced}, log.get())
	})
}

func TestClose_StopsTimerAndIgnoresInstalls(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		m := New(time.Second)
		log := &changeLog{}
		m.Subscribe(log.record)

		m.OnFetchSuccess([]quake.Event{ev("a", 1)})
		m.Close()
		m.Close()

		time.Sleep(2 * time.Second)
		synctest.Wait()
		assert.Equal(t, 1, m.Len(), "no expiry after Close")

		m.OnFetchSuccess([]quake.Event{ev("b", 1)})
		assert.Equal(t, []string{"a"}, ids(m.CurrentMarkers()))
		assert.Equal(t, []ChangeKind{ChangeReplaced}, log.get())
	})
}

func TestSubscribe_ReceivesSnapshots(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		m := New(time.Second)
		defer m.Close()

		var got []Change
		var mu sync.Mutex
		cancel := m.Subscribe(func(c Change) {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, c)
		})

		m.OnFetchSuccess([]quake.Event{ev("a", 1)})
		time.Sleep(2 * time.Second)
		synctest.Wait()

		mu.Lock()
		require.Len(t, got, 2)
		assert.Equal(t, ChangeReplaced, got[0].Kind)
		assert.Equal(t, []string{"a"}, ids(got[0].Markers))
		assert.False(t, got[0].ExpiresAt.IsZero())
		assert.Equal(t, ChangeExpired, got[1].Kind)
		assert.Empty(t, got[1].Markers)
		got[0].Markers[0].ID = "mutated"
		mu.Unlock()

		cancel()
		m.OnFetchSuccess([]quake.Event{ev("b", 1)})
		mu.Lock()
		assert.Len(t, got, 2, "cancelled subscription gets nothing")
		mu.Unlock()
	})
}

func TestCurrentMarkers_IsSnapshot(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		m := New(time.Minute)
		defer m.Close()

		input := []quake.Event{ev("a", 1)}
		m.OnFetchSuccess(input)
		input[0].ID = "changed-by-caller"

		snap := m.CurrentMarkers()
		snap[0].ID = "changed-by-reader"
		assert.Equal(t, []string{"a"}, ids(m.CurrentMarkers()))
	})
}

type countingObserver struct {
	mu        sync.Mutex
	installed []int
	expired   int
}

func (o *countingObserver) MarkersInstalled(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.installed = append(o.installed, n)
}

func (o *countingObserver) MarkersExpired() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.expired++
}

func TestObserver(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		obs := &countingObserver{}
		m := New(time.Second, WithObserver(obs))
		defer m.Close()

		m.OnFetchSuccess([]quake.Event{ev("a", 1), ev("a", 2), ev("b", 1)})
		time.Sleep(2 * time.Second)
		synctest.Wait()

		obs.mu.Lock()
		defer obs.mu.Unlock()
		assert.Equal(t, []int{2}, obs.installed)
		assert.Equal(t, 1, obs.expired)
	})
}
