package broadcast

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/roomadapter-go/internal/wildcard"
	"github.com/rmacdonaldsmith/roomadapter-go/pkg/broadcast"
	"github.com/rmacdonaldsmith/roomadapter-go/pkg/membership"
	wildcardpkg "github.com/rmacdonaldsmith/roomadapter-go/pkg/wildcard"
)

// ErrNilRegistry is returned when a dispatcher is created without a registry
var ErrNilRegistry = errors.New("membership registry cannot be nil")

// outcome of one socket delivery
type outcome int

const (
	delivered outcome = iota
	suppressed
	failed
)

// Dispatcher implements the broadcast.Dispatcher interface on top of a membership registry.
// It reads the registry but never mutates it.
type Dispatcher struct {
	registry membership.Registry
	config   broadcast.Config
	logger   *zap.Logger
	recorder broadcast.Recorder
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithLogger sets the dispatcher logger
func WithLogger(logger *zap.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithRecorder sets the sink that observes completed broadcasts
func WithRecorder(recorder broadcast.Recorder) Option {
	return func(d *Dispatcher) {
		if recorder != nil {
			d.recorder = recorder
		}
	}
}

// NewDispatcher creates a dispatcher reading from registry
func NewDispatcher(registry membership.Registry, config broadcast.Config, opts ...Option) (*Dispatcher, error) {
	if registry == nil {
		return nil, ErrNilRegistry
	}

	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	d := &Dispatcher{
		registry: registry,
		config:   config,
		logger:   zap.NewNop(),
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Config returns the dispatcher configuration
func (d *Dispatcher) Config() broadcast.Config {
	return d.config
}

// Broadcast resolves opts into a delivery set and delivers msg to each socket found in lookup.
//
// Flow:
// 1. Validate lookup and transformer (configuration errors are returned)
// 2. Resolve rooms, patterns and exclusions under the registry read lock
// 3. Drop ids missing from lookup
// 4. Transform and deliver without holding any lock
func (d *Dispatcher) Broadcast(ctx context.Context, msg broadcast.Message, opts broadcast.Options, lookup broadcast.Lookup) (broadcast.Result, error) {
	if lookup == nil {
		return broadcast.Result{}, &broadcast.ConfigurationError{Field: "Lookup", Reason: "lookup is nil"}
	}
	if opts.Transformer != nil {
		if err := opts.Transformer.Validate(); err != nil {
			return broadcast.Result{}, err
		}
	}

	method := opts.Method
	if method == "" {
		method = broadcast.DefaultMethod
	}

	start := time.Now()
	ids := d.resolve(opts)

	result := broadcast.Result{Targeted: len(ids)}
	sockets := make([]broadcast.Socket, 0, len(ids))
	for _, id := range ids {
		socket, ok := lookup.Socket(id)
		if !ok || socket == nil {
			result.Missing++
			continue
		}
		sockets = append(sockets, socket)
	}

	outcomes := d.deliverAll(ctx, sockets, method, msg, opts.Transformer)
	for _, o := range outcomes {
		switch o {
		case delivered:
			result.Delivered++
		case suppressed:
			result.Suppressed++
		case failed:
			result.Failed++
		}
	}

	elapsed := time.Since(start)
	d.recorder.ObserveBroadcast(result, elapsed)
	d.logger.Debug("broadcast complete",
		zap.Strings("rooms", opts.Rooms),
		zap.String("method", method),
		zap.Int("targeted", result.Targeted),
		zap.Int("delivered", result.Delivered),
		zap.Int("suppressed", result.Suppressed),
		zap.Int("failed", result.Failed),
		zap.Int("missing", result.Missing),
		zap.Duration("elapsed", elapsed))

	return result, nil
}

// resolve returns the deduplicated delivery set in resolution order.
// Members of one room are visited in sorted order.
func (d *Dispatcher) resolve(opts broadcast.Options) []string {
	except := d.exclusion(opts.Except)
	seen := make(map[string]struct{})
	var ids []string

	add := func(members []string) {
		slices.Sort(members)
		for _, id := range members {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			if except.has(id) {
				continue
			}
			ids = append(ids, id)
		}
	}

	d.registry.Read(func(v membership.View) {
		if len(opts.Rooms) == 0 {
			add(collect(v.Sockets))
			return
		}

		for _, room := range opts.Rooms {
			add(collect(func(visit func(string)) { v.Members(room, visit) }))

			var patterns []string
			v.MatchPatterns(room, func(p string) {
				patterns = append(patterns, p)
			})
			for _, p := range patterns {
				add(collect(func(visit func(string)) { v.Members(p, visit) }))
			}
		}
	})

	return ids
}

func collect(each func(visit func(string))) []string {
	var out []string
	each(func(id string) { out = append(out, id) })
	return out
}

// exclusion is the compiled Except list
type exclusion struct {
	ids      map[string]struct{}
	patterns []string
}

func (d *Dispatcher) exclusion(except []string) exclusion {
	e := exclusion{ids: make(map[string]struct{}, len(except))}
	for _, id := range except {
		e.ids[id] = struct{}{}
		if d.config.ExceptWildcard && wildcardpkg.IsPattern(id) {
			e.patterns = append(e.patterns, id)
		}
	}
	return e
}

func (e exclusion) has(id string) bool {
	if _, ok := e.ids[id]; ok {
		return true
	}
	for _, p := range e.patterns {
		if wildcard.Matches(p, id) {
			return true
		}
	}
	return false
}

// deliverAll runs one delivery per socket, sequentially or on a bounded worker pool
func (d *Dispatcher) deliverAll(ctx context.Context, sockets []broadcast.Socket, method string, msg broadcast.Message, t *broadcast.Transformer) []outcome {
	if t != nil && t.Kind() == broadcast.AsyncTransformer {
		return d.deliverAsync(ctx, sockets, method, msg, t.AsyncFunc())
	}

	outcomes := make([]outcome, len(sockets))

	workers := min(d.config.Workers, len(sockets))
	if workers <= 1 {
		for i, socket := range sockets {
			outcomes[i] = d.deliver(socket, method, msg, t)
		}
		return outcomes
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				outcomes[i] = d.deliver(sockets[i], method, msg, t)
			}
		}()
	}
	for i := range sockets {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return outcomes
}

// deliver applies the sync transformer, if any, and calls the socket method
func (d *Dispatcher) deliver(socket broadcast.Socket, method string, msg broadcast.Message, t *broadcast.Transformer) outcome {
	if t == nil {
		return d.call(socket, method, msg)
	}

	data, err := broadcast.Copy(socket.ID(), msg)
	if err != nil {
		return d.fail(socket, err)
	}
	env := &broadcast.Envelope{SocketID: socket.ID(), Data: data}
	if !t.SyncFunc()(env) {
		return suppressed
	}
	return d.call(socket, method, env.Data)
}

// completion is the first callback of one async transformer
type completion struct {
	index   int
	err     error
	deliver bool
	data    broadcast.Message
}

// deliverAsync starts every async hook at once and calls sockets in completion order.
// Sockets still waiting when ctx ends or AsyncTimeout elapses are failed; the rest are unaffected.
func (d *Dispatcher) deliverAsync(ctx context.Context, sockets []broadcast.Socket, method string, msg broadcast.Message, fn func(*broadcast.Envelope, broadcast.Callback)) []outcome {
	outcomes := make([]outcome, len(sockets))
	if len(sockets) == 0 {
		return outcomes
	}

	// buffered so late or abandoned callbacks never block
	done := make(chan completion, len(sockets))
	waiting := make([]bool, len(sockets))
	pending := 0
	for i, socket := range sockets {
		data, err := broadcast.Copy(socket.ID(), msg)
		if err != nil {
			outcomes[i] = d.fail(socket, err)
			continue
		}
		waiting[i] = true
		pending++
		go runAsync(fn, i, &broadcast.Envelope{SocketID: socket.ID(), Data: data}, done)
	}

	calls := make(chan completion, len(sockets))
	var wg sync.WaitGroup
	for w := 0; w < max(1, min(d.config.Workers, len(sockets))); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := range calls {
				outcomes[c.index] = d.call(sockets[c.index], method, c.data)
			}
		}()
	}

	settle := func(c completion) {
		waiting[c.index] = false
		pending--
		switch {
		case c.err != nil:
			outcomes[c.index] = d.fail(sockets[c.index], c.err)
		case !c.deliver:
			outcomes[c.index] = suppressed
		default:
			calls <- c
		}
	}

	timer := time.NewTimer(d.config.AsyncTimeout)
	defer timer.Stop()

	var abandoned func(socket broadcast.Socket) error
	for pending > 0 && abandoned == nil {
		select {
		case c := <-done:
			settle(c)
		case <-ctx.Done():
			err := ctx.Err()
			abandoned = func(broadcast.Socket) error { return err }
		case <-timer.C:
			abandoned = func(socket broadcast.Socket) error {
				return &broadcast.TransformTimeoutError{SocketID: socket.ID(), Timeout: d.config.AsyncTimeout}
			}
		}
	}

	// Callbacks that already arrived win over cancellation
	for drained := pending == 0; !drained; {
		select {
		case c := <-done:
			settle(c)
			drained = pending == 0
		default:
			drained = true
		}
	}

	for i, socket := range sockets {
		if waiting[i] {
			outcomes[i] = d.fail(socket, abandoned(socket))
		}
	}

	close(calls)
	wg.Wait()

	return outcomes
}

// runAsync invokes fn and forwards its first callback to done
func runAsync(fn func(*broadcast.Envelope, broadcast.Callback), index int, env *broadcast.Envelope, done chan<- completion) {
	var once sync.Once
	fn(env, func(err error, deliver bool) {
		once.Do(func() {
			done <- completion{index: index, err: err, deliver: deliver, data: env.Data}
		})
	})
}

func (d *Dispatcher) call(socket broadcast.Socket, method string, msg broadcast.Message) outcome {
	if err := socket.Call(method, msg); err != nil {
		return d.fail(socket, fmt.Errorf("%s: %w", method, err))
	}
	return delivered
}

func (d *Dispatcher) fail(socket broadcast.Socket, err error) outcome {
	d.logger.Warn("broadcast delivery failed",
		zap.String("socket", socket.ID()),
		zap.Error(err))
	socket.Fail(err)
	return failed
}

type nopRecorder struct{}

func (nopRecorder) ObserveBroadcast(broadcast.Result, time.Duration) {}

// Verify that Dispatcher implements the broadcast.Dispatcher interface at compile time
var _ broadcast.Dispatcher = (*Dispatcher)(nil)
