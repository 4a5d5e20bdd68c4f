package notify

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// recorder — потокобезопасный наблюдатель для тестов
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Notify(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestNotifier_DeliversToAllObservers(t *testing.T) {
	n := New(nil, "", 16, zap.NewNop())
	first := &recorder{}
	second := &recorder{}
	n.Subscribe(first)
	n.Subscribe(second)

	n.Start()
	n.Publish(Event{ID: "e1", Name: EventRequestCreated, RequestID: "req-1"})
	n.Publish(Event{ID: "e2", Name: EventRequestApproved, RequestID: "req-1"})
	n.Stop()

	require.Equal(t, 2, first.count())
	require.Equal(t, 2, second.count())
	assert.Equal(t, "e1", first.events[0].ID)
	assert.Equal(t, EventRequestApproved, first.events[1].Name)
}

func TestNotifier_StopDrainsBuffer(t *testing.T) {
	n := New(nil, "", 128, zap.NewNop())
	rec := &recorder{}
	n.Subscribe(rec)

	n.Start()
	for i := 0; i < 100; i++ {
		n.Publish(Event{ID: "e", Name: EventRequestCreated})
	}
	n.Stop()

	// Drain Pattern: все принятые события доставлены до выхода
	assert.Equal(t, 100, rec.count())
}

func TestNotifier_PublishAfterStopIsDropped(t *testing.T) {
	n := New(nil, "", 16, zap.NewNop())
	rec := &recorder{}
	n.Subscribe(rec)

	n.Start()
	n.Stop()

	n.Publish(Event{ID: "late", Name: EventRequestExpired})
	assert.Equal(t, 0, rec.count())
}

func TestNotifier_ConcurrentPublishDuringStop(t *testing.T) {
	n := New(nil, "", 8, zap.NewNop())
	n.Subscribe(&recorder{})
	n.Start()

	// Остановка под огнем: publisher-ы не должны попасть в закрытый канал
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				n.Publish(Event{ID: "e", Name: EventRequestCreated})
			}
		}()
	}

	n.Stop()
	wg.Wait()
}

func TestNotifier_ObserverPanicIsIsolated(t *testing.T) {
	n := New(nil, "", 16, zap.NewNop())

	n.Subscribe(ObserverFunc(func(Event) { panic("observer bug") }))
	healthy := &recorder{}
	n.Subscribe(healthy)

	n.Start()
	n.Publish(Event{ID: "e1", Name: EventRequestCreated})
	n.Stop()

	// Паника соседа не мешает доставке
	assert.Equal(t, 1, healthy.count())
}

func TestNotifier_Unsubscribe(t *testing.T) {
	n := New(nil, "", 16, zap.NewNop())
	rec := &recorder{}
	id := n.Subscribe(rec)
	n.Unsubscribe(id)

	n.Start()
	n.Publish(Event{ID: "e1", Name: EventRequestCreated})
	n.Stop()

	assert.Equal(t, 0, rec.count())
}

func TestNotifier_FillsTimestampIfZero(t *testing.T) {
	n := New(nil, "", 16, zap.NewNop())
	rec := &recorder{}
	n.Subscribe(rec)

	n.Start()
	n.Publish(Event{ID: "e1", Name: EventRequestCreated})
	n.Stop()

	require.Equal(t, 1, rec.count())
	assert.False(t, rec.events[0].Timestamp.IsZero())
	assert.WithinDuration(t, time.Now(), rec.events[0].Timestamp, time.Minute)
}
