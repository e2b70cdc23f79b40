// Package bundler accumulates records destined for grouped delivery and
// flushes them once their bundle has aged past the configured interval.
//
// Bundles are keyed by (type, priority): records only ever group with records
// of the same type and the same priority class. One background ticker serves
// every bundle; there is no per-bundle goroutine, so resource usage stays flat
// as key cardinality grows.
package bundler

import (
	"context"
	"sync"
	"time"

	"notifyd/internal/notification"
	"notifyd/pkg/logx"
)

const (
	DefaultInterval = 5 * time.Minute
	DefaultTick     = 10 * time.Second
)

// Key identifies a bundle.
type Key struct {
	Type     notification.Type
	Priority notification.Priority
}

func (k Key) String() string { return string(k.Type) + "/" + k.Priority.String() }

// Flushed is one popped bundle: members in insertion order.
type Flushed struct {
	Key     Key
	Records []notification.Record
}

// FlushFunc receives expired bundles from the background tick.
// It is invoked outside the bundler's lock and must tolerate being called
// from the ticker goroutine.
type FlushFunc func(f Flushed)

type bundle struct {
	firstSeen time.Time
	records   []notification.Record
}

// Bundler is safe for concurrent use.
type Bundler struct {
	mu      sync.Mutex
	bundles map[Key]*bundle

	interval time.Duration
	tick     time.Duration
	onFlush  FlushFunc
	log      logx.Logger
	now      func() time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type Option func(*Bundler)

func WithInterval(d time.Duration) Option {
	return func(b *Bundler) {
		if d > 0 {
			b.interval = d
		}
	}
}

func WithTick(d time.Duration) Option {
	return func(b *Bundler) {
		if d > 0 {
			b.tick = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *Bundler) { b.now = now }
}

func New(onFlush FlushFunc, log logx.Logger, opts ...Option) *Bundler {
	if log.IsZero() {
		log = logx.Nop()
	}
	b := &Bundler{
		bundles:  map[Key]*bundle{},
		interval: DefaultInterval,
		tick:     DefaultTick,
		onFlush:  onFlush,
		log:      log,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Add appends a record to its bundle, creating the bundle on first sight.
// Returns the key the record landed in.
func (b *Bundler) Add(r notification.Record) Key {
	k := Key{Type: r.Type, Priority: r.Priority}
	b.mu.Lock()
	bd := b.bundles[k]
	if bd == nil {
		bd = &bundle{firstSeen: b.now()}
		b.bundles[k] = bd
	}
	bd.records = append(bd.records, r)
	n := len(bd.records)
	b.mu.Unlock()

	b.log.Debug("record bundled", logx.String("key", k.String()), logx.Int("size", n))
	return k
}

// Flush pops the bundle for key and returns its members in insertion order.
// Pop-under-lock makes flushing idempotent: concurrent flushes for the same
// key race for the map entry and the losers observe an empty bundle.
func (b *Bundler) Flush(key Key) []notification.Record {
	b.mu.Lock()
	bd := b.bundles[key]
	delete(b.bundles, key)
	b.mu.Unlock()

	if bd == nil {
		return nil
	}
	return bd.records
}

// FlushAll pops every bundle, expired or not. Used on shutdown so pending
// records still reach the sink.
func (b *Bundler) FlushAll() []Flushed {
	b.mu.Lock()
	out := make([]Flushed, 0, len(b.bundles))
	for k, bd := range b.bundles {
		out = append(out, Flushed{Key: k, Records: bd.records})
	}
	b.bundles = map[Key]*bundle{}
	b.mu.Unlock()
	return out
}

// Pending returns the number of records currently waiting across all bundles.
func (b *Bundler) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, bd := range b.bundles {
		n += len(bd.records)
	}
	return n
}

// Start launches the background ticker. Idempotent.
func (b *Bundler) Start(ctx context.Context) {
	b.mu.Lock()
	if b.stopCh != nil {
		b.mu.Unlock()
		return
	}
	b.stopCh = make(chan struct{})
	stopCh := b.stopCh
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		t := time.NewTicker(b.tick)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-t.C:
				b.flushExpired()
			}
		}
	}()
}

// Stop halts the ticker and waits for it to exit. Pending bundles stay in the
// map; callers that want them drained use FlushAll afterwards.
func (b *Bundler) Stop() {
	b.mu.Lock()
	stopCh := b.stopCh
	b.mu.Unlock()
	if stopCh == nil {
		return
	}
	b.stopOnce.Do(func() { close(stopCh) })
	b.wg.Wait()
}

// flushExpired pops every bundle whose age reached the interval, then hands
// them to the flush callback outside the lock.
func (b *Bundler) flushExpired() {
	now := b.now()

	b.mu.Lock()
	var expired []Flushed
	for k, bd := range b.bundles {
		if now.Sub(bd.firstSeen) >= b.interval {
			expired = append(expired, Flushed{Key: k, Records: bd.records})
			delete(b.bundles, k)
		}
	}
	b.mu.Unlock()

	for _, f := range expired {
		b.log.Debug("bundle expired",
			logx.String("key", f.Key.String()), logx.Int("size", len(f.Records)))
		if b.onFlush != nil {
			b.onFlush(f)
		}
	}
}
