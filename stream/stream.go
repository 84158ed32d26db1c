// Package stream implements per-task event channels and the process-local
// stream registry. Streams have strict process affinity: a stream opened here
// can only be continued here, and continuation attempts for streams owned by
// another process are rejected with stream_not_found_here so the caller can
// re-resolve placement.
package stream

import (
	"context"
	"sync"
	"time"

	"github.com/taskmesh/taskmesh/core"
	"github.com/taskmesh/taskmesh/logging"
)

const defaultBuffer = 64

// Channel is the ordered event stream of one task. Events are sent by the
// execution loop and consumed by exactly one attached reader. Close is
// idempotent; sends racing or following a close are dropped rather than
// panicking, so a slow consumer can never crash the producer.
type Channel struct {
	TaskID string

	mu         sync.Mutex
	ch         chan core.Event
	done       chan struct{}
	senders    sync.WaitGroup
	closed     bool
	attached   bool
	lastActive time.Time
}

// NewChannel creates a buffered channel for taskID.
func NewChannel(taskID string) *Channel {
	return &Channel{
		TaskID:     taskID,
		ch:         make(chan core.Event, defaultBuffer),
		done:       make(chan struct{}),
		lastActive: time.Now(),
	}
}

// Send delivers an event, blocking until the consumer drains the buffer, the
// stream closes or ctx is done. Sends against a closed stream are a silent
// no-op; a send blocked on a full buffer is released by Close.
func (c *Channel) Send(ctx context.Context, ev core.Event) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.lastActive = time.Now()
	c.senders.Add(1)
	c.mu.Unlock()
	defer c.senders.Done()

	select {
	case c.ch <- ev:
		return nil
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Events returns the receive side.
func (c *Channel) Events() <-chan core.Event { return c.ch }

// Attach claims the consumer side. At most one consumer may be attached;
// continuation requests racing a live consumer are rejected with
// stream_conflict instead of competing for events.
func (c *Channel) Attach() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attached {
		return core.Errorf(core.CodeStreamConflict, "stream %s already has a consumer", c.TaskID)
	}
	c.attached = true
	return nil
}

// Detach releases the consumer side so a later continuation can attach.
func (c *Channel) Detach() {
	c.mu.Lock()
	c.attached = false
	c.mu.Unlock()
}

// Close terminates the stream exactly once. In-flight sends are released
// before the event channel is closed, so no sender can hit a closed channel.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()

	c.senders.Wait()
	close(c.ch)
}

// Closed reports whether the stream has been closed.
func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Touch marks consumer activity for idle accounting.
func (c *Channel) Touch() {
	c.mu.Lock()
	c.lastActive = time.Now()
	c.mu.Unlock()
}

func (c *Channel) idleSince(now time.Time, ttl time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return now.Sub(c.lastActive) > ttl
}

// DefaultIdleTTL is how long an untouched stream survives before eviction.
const DefaultIdleTTL = 120 * time.Second

// RegistryOptions configure the Registry.
type RegistryOptions struct {
	Logger logging.Logger
	// IdleTTL overrides the idle eviction window.
	IdleTTL time.Duration
	// JanitorInterval overrides how often idle streams are swept.
	JanitorInterval time.Duration
}

// Registry tracks the streams owned by this process, keyed by task id. It
// enforces single-writer semantics per task and evicts idle streams.
type Registry struct {
	mu      sync.Mutex
	streams map[string]*Channel
	ttl     time.Duration
	logger  logging.Logger
	done    chan struct{}
	once    sync.Once
}

// NewRegistry constructs a Registry and starts its idle sweeper.
func NewRegistry(optFns ...func(o *RegistryOptions)) *Registry {
	opts := RegistryOptions{
		Logger:          logging.NoOpLogger{},
		IdleTTL:         DefaultIdleTTL,
		JanitorInterval: 10 * time.Second,
	}
	for _, f := range optFns {
		f(&opts)
	}
	r := &Registry{
		streams: map[string]*Channel{},
		ttl:     opts.IdleTTL,
		logger:  opts.Logger,
		done:    make(chan struct{}),
	}
	go r.janitor(opts.JanitorInterval)
	return r
}

// Open registers a new stream for taskID. A live stream for the same task is
// a conflict: the existing writer keeps it.
func (r *Registry) Open(taskID string) (*Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.streams[taskID]; ok && !existing.Closed() {
		return nil, core.Errorf(core.CodeStreamConflict, "stream for task %s is already open", taskID)
	}
	c := NewChannel(taskID)
	r.streams[taskID] = c
	r.logger.Debug("stream.open", "task_id", taskID)
	return c, nil
}

// LookupLocal returns the stream for taskID if this process owns it. The
// error carries stream_not_found_here: the stream may exist elsewhere, and
// callers must not treat the miss as proof the task is gone.
func (r *Registry) LookupLocal(taskID string) (*Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.streams[taskID]
	if !ok {
		return nil, core.Errorf(core.CodeStreamNotFound, "no stream for task %s in this process", taskID)
	}
	return c, nil
}

// Close closes and removes the stream for taskID.
func (r *Registry) Close(taskID string) {
	r.mu.Lock()
	c, ok := r.streams[taskID]
	delete(r.streams, taskID)
	r.mu.Unlock()
	if ok {
		c.Close()
		r.logger.Debug("stream.close", "task_id", taskID)
	}
}

// Len reports the number of registered streams.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.streams)
}

// Shutdown stops the sweeper and closes every stream.
func (r *Registry) Shutdown() {
	r.once.Do(func() { close(r.done) })
	r.mu.Lock()
	streams := make([]*Channel, 0, len(r.streams))
	for _, c := range r.streams {
		streams = append(streams, c)
	}
	r.streams = map[string]*Channel{}
	r.mu.Unlock()
	for _, c := range streams {
		c.Close()
	}
}

func (r *Registry) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.done:
			return
		case now := <-ticker.C:
			r.evictIdle(now)
		}
	}
}

func (r *Registry) evictIdle(now time.Time) {
	r.mu.Lock()
	var evict []*Channel
	for id, c := range r.streams {
		if c.Closed() || c.idleSince(now, r.ttl) {
			evict = append(evict, c)
			delete(r.streams, id)
		}
	}
	r.mu.Unlock()
	for _, c := range evict {
		c.Close()
		r.logger.Info("stream.evict_idle", "task_id", c.TaskID)
	}
}
