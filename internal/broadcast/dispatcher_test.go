package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/roomadapter-go/internal/membership"
	"github.com/rmacdonaldsmith/roomadapter-go/pkg/broadcast"
	membershippkg "github.com/rmacdonaldsmith/roomadapter-go/pkg/membership"
)

// call is one recorded Socket.Call
type call struct {
	method string
	msg    broadcast.Message
}

// fakeSocket records calls and failures
type fakeSocket struct {
	id      string
	callErr error
	onCall  func()

	mu     sync.Mutex
	calls  []call
	errors []error
}

func newFakeSocket(id string) *fakeSocket {
	return &fakeSocket{id: id}
}

func (s *fakeSocket) ID() string { return s.id }

func (s *fakeSocket) Call(method string, msg broadcast.Message) error {
	if s.onCall != nil {
		s.onCall()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call{method: method, msg: msg})
	return s.callErr
}

func (s *fakeSocket) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, err)
}

func (s *fakeSocket) Calls() []call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]call(nil), s.calls...)
}

func (s *fakeSocket) Errors() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.errors...)
}

// recorder captures observed results
type recorder struct {
	mu      sync.Mutex
	results []broadcast.Result
}

func (r *recorder) ObserveBroadcast(result broadcast.Result, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
}

type fixture struct {
	registry   *membership.InMemoryRegistry
	dispatcher *Dispatcher
	sockets    broadcast.SocketMap
}

func newFixture(t *testing.T, mcfg membershippkg.Config, bcfg broadcast.Config, ids ...string) *fixture {
	t.Helper()

	registry := membership.NewInMemoryRegistry(mcfg)
	dispatcher, err := NewDispatcher(registry, bcfg)
	require.NoError(t, err)

	sockets := broadcast.SocketMap{}
	for _, id := range ids {
		sockets[id] = newFakeSocket(id)
	}
	return &fixture{registry: registry, dispatcher: dispatcher, sockets: sockets}
}

func (f *fixture) socket(id string) *fakeSocket {
	return f.sockets[id].(*fakeSocket)
}

func defaultFixture(t *testing.T, ids ...string) *fixture {
	return newFixture(t, membershippkg.DefaultConfig(), broadcast.DefaultConfig(), ids...)
}

func TestNewDispatcher(t *testing.T) {
	t.Run("nil registry", func(t *testing.T) {
		_, err := NewDispatcher(nil, broadcast.DefaultConfig())
		assert.ErrorIs(t, err, ErrNilRegistry)
	})

	t.Run("negative workers", func(t *testing.T) {
		_, err := NewDispatcher(membership.NewInMemoryRegistry(membershippkg.DefaultConfig()), broadcast.Config{Workers: -1})
		assert.ErrorIs(t, err, broadcast.ErrInvalidWorkers)
	})

	t.Run("zero workers defaults to sequential", func(t *testing.T) {
		d, err := NewDispatcher(membership.NewInMemoryRegistry(membershippkg.DefaultConfig()), broadcast.Config{})
		require.NoError(t, err)
		assert.Equal(t, 1, d.Config().Workers)
	})
}

func TestDispatcher_PatternRoomReceivesConcreteTarget(t *testing.T) {
	f := defaultFixture(t, "s1")
	f.registry.Add("s1", "chat.*")

	msg := broadcast.Message{"hello"}
	result, err := f.dispatcher.Broadcast(context.Background(), msg, broadcast.Options{Rooms: []string{"chat.general"}}, f.sockets)
	require.NoError(t, err)

	calls := f.socket("s1").Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, msg, calls[0].msg)
	assert.Equal(t, broadcast.DefaultMethod, calls[0].method)
	assert.Equal(t, broadcast.Result{Targeted: 1, Delivered: 1}, result)
}

func TestDispatcher_Dedup(t *testing.T) {
	tests := []struct {
		name  string
		joins map[string][]string
		rooms []string
	}{
		{
			name:  "one pattern reached through two targets",
			joins: map[string][]string{"s1": {"a.*"}},
			rooms: []string{"a.b", "a.c"},
		},
		{
			name:  "literal and pattern membership",
			joins: map[string][]string{"s1": {"a.*", "a.b"}},
			rooms: []string{"a.b"},
		},
		{
			name:  "same room listed twice",
			joins: map[string][]string{"s1": {"lobby"}},
			rooms: []string{"lobby", "lobby"},
		},
		{
			name:  "target is the pattern room itself",
			joins: map[string][]string{"s1": {"a.*"}},
			rooms: []string{"a.*"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := defaultFixture(t, "s1")
			for id, rooms := range tt.joins {
				for _, room := range rooms {
					f.registry.Add(id, room)
				}
			}

			result, err := f.dispatcher.Broadcast(context.Background(), broadcast.Message{"m"}, broadcast.Options{Rooms: tt.rooms}, f.sockets)
			require.NoError(t, err)
			assert.Len(t, f.socket("s1").Calls(), 1)
			assert.Equal(t, 1, result.Delivered)
		})
	}
}

func TestDispatcher_AllSocketsWhenNoRooms(t *testing.T) {
	f := defaultFixture(t, "s1", "s2", "s3")
	f.registry.Add("s1", "a")
	f.registry.Add("s2", "b")
	f.registry.Add("s3", "a")

	result, err := f.dispatcher.Broadcast(context.Background(), broadcast.Message{"m"}, broadcast.Options{}, f.sockets)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Delivered)
	for _, id := range []string{"s1", "s2", "s3"} {
		assert.Len(t, f.socket(id).Calls(), 1, id)
	}
}

func TestDispatcher_UnknownRoomReachesNobody(t *testing.T) {
	f := defaultFixture(t, "s1")
	f.registry.Add("s1", "a")

	result, err := f.dispatcher.Broadcast(context.Background(), broadcast.Message{"m"}, broadcast.Options{Rooms: []string{"nowhere"}}, f.sockets)
	require.NoError(t, err)
	assert.Equal(t, broadcast.Result{}, result)
	assert.Empty(t, f.socket("s1").Calls())
}

func TestDispatcher_Except(t *testing.T) {
	f := defaultFixture(t, "s1", "s2")
	f.registry.Add("s1", "room")
	f.registry.Add("s2", "room")

	result, err := f.dispatcher.Broadcast(context.Background(), broadcast.Message{"m"}, broadcast.Options{
		Rooms:  []string{"room"},
		Except: []string{"s1"},
	}, f.sockets)
	require.NoError(t, err)

	assert.Empty(t, f.socket("s1").Calls())
	assert.Len(t, f.socket("s2").Calls(), 1)
	assert.Equal(t, 1, result.Targeted)
}

func TestDispatcher_ExceptWildcard(t *testing.T) {
	tests := []struct {
		name           string
		exceptWildcard bool
		wantDelivered  []string
	}{
		{name: "literal except", exceptWildcard: false, wantDelivered: []string{"admin-1", "user-1"}},
		{name: "pattern except", exceptWildcard: true, wantDelivered: []string{"user-1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, membershippkg.DefaultConfig(), broadcast.Config{ExceptWildcard: tt.exceptWildcard}, "admin-1", "user-1")
			f.registry.Add("admin-1", "room")
			f.registry.Add("user-1", "room")

			_, err := f.dispatcher.Broadcast(context.Background(), broadcast.Message{"m"}, broadcast.Options{
				Rooms:  []string{"room"},
				Except: []string{"admin-*"},
			}, f.sockets)
			require.NoError(t, err)

			var got []string
			for _, id := range []string{"admin-1", "user-1"} {
				if len(f.socket(id).Calls()) > 0 {
					got = append(got, id)
				}
			}
			assert.Equal(t, tt.wantDelivered, got)
		})
	}
}

func TestDispatcher_MissingSocketsSkippedSilently(t *testing.T) {
	f := defaultFixture(t, "s1")
	f.registry.Add("s1", "room")
	f.registry.Add("gone", "room")

	result, err := f.dispatcher.Broadcast(context.Background(), broadcast.Message{"m"}, broadcast.Options{Rooms: []string{"room"}}, f.sockets)
	require.NoError(t, err)

	assert.Equal(t, broadcast.Result{Targeted: 2, Delivered: 1, Missing: 1}, result)
	assert.Empty(t, f.socket("s1").Errors())
}

func TestDispatcher_Method(t *testing.T) {
	f := defaultFixture(t, "s1")
	f.registry.Add("s1", "room")

	_, err := f.dispatcher.Broadcast(context.Background(), broadcast.Message{"m"}, broadcast.Options{
		Rooms:  []string{"room"},
		Method: "send",
	}, f.sockets)
	require.NoError(t, err)

	calls := f.socket("s1").Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "send", calls[0].method)
}

func TestDispatcher_CallErrorReportedOnSocket(t *testing.T) {
	f := defaultFixture(t, "s1", "s2")
	f.socket("s1").callErr = broadcast.ErrUnknownMethod
	f.registry.Add("s1", "room")
	f.registry.Add("s2", "room")

	result, err := f.dispatcher.Broadcast(context.Background(), broadcast.Message{"m"}, broadcast.Options{Rooms: []string{"room"}}, f.sockets)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, result.Delivered)
	errs := f.socket("s1").Errors()
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], broadcast.ErrUnknownMethod)
}

func TestDispatcher_SyncTransformer(t *testing.T) {
	t.Run("false vetoes delivery", func(t *testing.T) {
		f := defaultFixture(t, "s1", "s2")
		f.registry.Add("s1", "room")
		f.registry.Add("s2", "room")

		result, err := f.dispatcher.Broadcast(context.Background(), broadcast.Message{"m"}, broadcast.Options{
			Rooms: []string{"room"},
			Transformer: broadcast.Sync(func(env *broadcast.Envelope) bool {
				return env.SocketID != "s1"
			}),
		}, f.sockets)
		require.NoError(t, err)

		assert.Empty(t, f.socket("s1").Calls())
		assert.Empty(t, f.socket("s1").Errors())
		assert.Len(t, f.socket("s2").Calls(), 1)
		assert.Equal(t, broadcast.Result{Targeted: 2, Delivered: 1, Suppressed: 1}, result)
	})

	t.Run("mutation is per socket", func(t *testing.T) {
		f := defaultFixture(t, "s1", "s2")
		f.registry.Add("s1", "room")
		f.registry.Add("s2", "room")

		msg := broadcast.Message{"greeting", map[string]any{"to": "everyone"}}
		_, err := f.dispatcher.Broadcast(context.Background(), msg, broadcast.Options{
			Rooms: []string{"room"},
			Transformer: broadcast.Sync(func(env *broadcast.Envelope) bool {
				env.Data[1].(map[string]any)["to"] = env.SocketID
				return true
			}),
		}, f.sockets)
		require.NoError(t, err)

		for _, id := range []string{"s1", "s2"} {
			calls := f.socket(id).Calls()
			require.Len(t, calls, 1)
			assert.Equal(t, id, calls[0].msg[1].(map[string]any)["to"])
		}
		assert.Equal(t, "everyone", msg[1].(map[string]any)["to"], "original message must not change")
	})
}

func TestDispatcher_AsyncTransformer(t *testing.T) {
	errRejected := errors.New("rejected")

	tests := []struct {
		name       string
		fn         func(*broadcast.Envelope, broadcast.Callback)
		wantCalls  int
		wantErrors int
		want       broadcast.Result
	}{
		{
			name:       "error routes to socket",
			fn:         func(_ *broadcast.Envelope, cb broadcast.Callback) { cb(errRejected, true) },
			wantCalls:  0,
			wantErrors: 1,
			want:       broadcast.Result{Targeted: 1, Failed: 1},
		},
		{
			name:      "false suppresses",
			fn:        func(_ *broadcast.Envelope, cb broadcast.Callback) { cb(nil, false) },
			wantCalls: 0,
			want:      broadcast.Result{Targeted: 1, Suppressed: 1},
		},
		{
			name: "completion from another goroutine delivers",
			fn: func(env *broadcast.Envelope, cb broadcast.Callback) {
				go func() {
					env.Data = append(env.Data, "stamped")
					cb(nil, true)
				}()
			},
			wantCalls: 1,
			want:      broadcast.Result{Targeted: 1, Delivered: 1},
		},
		{
			name: "only the first callback counts",
			fn: func(_ *broadcast.Envelope, cb broadcast.Callback) {
				cb(nil, true)
				cb(errRejected, false)
			},
			wantCalls: 1,
			want:      broadcast.Result{Targeted: 1, Delivered: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := defaultFixture(t, "s1")
			f.registry.Add("s1", "room")

			result, err := f.dispatcher.Broadcast(context.Background(), broadcast.Message{"m"}, broadcast.Options{
				Rooms:       []string{"room"},
				Transformer: broadcast.Async(tt.fn),
			}, f.sockets)
			require.NoError(t, err)

			assert.Len(t, f.socket("s1").Calls(), tt.wantCalls)
			errs := f.socket("s1").Errors()
			assert.Len(t, errs, tt.wantErrors)
			if tt.wantErrors > 0 {
				assert.ErrorIs(t, errs[0], errRejected)
			}
			assert.Equal(t, tt.want, result)
		})
	}
}

func TestDispatcher_AsyncTransformerCancelled(t *testing.T) {
	f := defaultFixture(t, "s1")
	f.registry.Add("s1", "room")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := f.dispatcher.Broadcast(ctx, broadcast.Message{"m"}, broadcast.Options{
		Rooms:       []string{"room"},
		Transformer: broadcast.Async(func(*broadcast.Envelope, broadcast.Callback) {}),
	}, f.sockets)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Failed)
	errs := f.socket("s1").Errors()
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], context.Canceled)
}

func TestDispatcher_AsyncTransformerNeverCompletes(t *testing.T) {
	for _, workers := range []int{1, 4} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			f := newFixture(t, membershippkg.DefaultConfig(),
				broadcast.Config{Workers: workers, AsyncTimeout: 200 * time.Millisecond}, "s1", "s2")
			f.registry.Add("s1", "room")
			f.registry.Add("s2", "room")

			type broadcastReturn struct {
				result broadcast.Result
				err    error
			}
			returned := make(chan broadcastReturn, 1)
			go func() {
				result, err := f.dispatcher.Broadcast(context.Background(), broadcast.Message{"m"}, broadcast.Options{
					Rooms: []string{"room"},
					Transformer: broadcast.Async(func(env *broadcast.Envelope, cb broadcast.Callback) {
						if env.SocketID == "s1" {
							return
						}
						cb(nil, true)
					}),
				}, f.sockets)
				returned <- broadcastReturn{result: result, err: err}
			}()

			// s2 does not wait for s1's deadline
			assert.Eventually(t, func() bool {
				return len(f.socket("s2").Calls()) == 1
			}, 150*time.Millisecond, 5*time.Millisecond)

			var got broadcastReturn
			select {
			case got = <-returned:
			case <-time.After(2 * time.Second):
				t.Fatal("Broadcast did not return")
			}
			require.NoError(t, got.err)
			assert.Equal(t, broadcast.Result{Targeted: 2, Delivered: 1, Failed: 1}, got.result)

			assert.Empty(t, f.socket("s1").Calls())
			errs := f.socket("s1").Errors()
			require.Len(t, errs, 1)
			var timeoutErr *broadcast.TransformTimeoutError
			require.ErrorAs(t, errs[0], &timeoutErr)
			assert.Equal(t, "s1", timeoutErr.SocketID)
			assert.Empty(t, f.socket("s2").Errors())
		})
	}
}

func TestDispatcher_AsyncTransformerLateCallbackIgnored(t *testing.T) {
	f := newFixture(t, membershippkg.DefaultConfig(),
		broadcast.Config{AsyncTimeout: 20 * time.Millisecond}, "s1")
	f.registry.Add("s1", "room")

	release := make(chan struct{})
	late := make(chan struct{})
	result, err := f.dispatcher.Broadcast(context.Background(), broadcast.Message{"m"}, broadcast.Options{
		Rooms: []string{"room"},
		Transformer: broadcast.Async(func(_ *broadcast.Envelope, cb broadcast.Callback) {
			go func() {
				defer close(late)
				<-release
				cb(nil, true)
			}()
		}),
	}, f.sockets)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)

	close(release)
	select {
	case <-late:
	case <-time.After(time.Second):
		t.Fatal("late callback blocked")
	}
	assert.Empty(t, f.socket("s1").Calls())
	assert.Len(t, f.socket("s1").Errors(), 1)
}

func TestDispatcher_SerializationError(t *testing.T) {
	f := defaultFixture(t, "s1", "s2")
	f.registry.Add("s1", "room")
	f.registry.Add("s2", "room")

	transformed := 0
	result, err := f.dispatcher.Broadcast(context.Background(), broadcast.Message{make(chan int)}, broadcast.Options{
		Rooms: []string{"room"},
		Transformer: broadcast.Sync(func(*broadcast.Envelope) bool {
			transformed++
			return true
		}),
	}, f.sockets)
	require.NoError(t, err, "serialization failures must not abort the broadcast")

	assert.Zero(t, transformed)
	assert.Equal(t, broadcast.Result{Targeted: 2, Failed: 2}, result)
	for _, id := range []string{"s1", "s2"} {
		assert.Empty(t, f.socket(id).Calls())
		errs := f.socket(id).Errors()
		require.Len(t, errs, 1)

		var serr *broadcast.SerializationError
		require.ErrorAs(t, errs[0], &serr)
		assert.Equal(t, id, serr.SocketID)
	}
}

func TestDispatcher_ConfigurationErrors(t *testing.T) {
	tests := []struct {
		name   string
		opts   broadcast.Options
		lookup broadcast.Lookup
	}{
		{name: "nil lookup", opts: broadcast.Options{}, lookup: nil},
		{name: "nil sync function", opts: broadcast.Options{Transformer: broadcast.Sync(nil)}},
		{name: "nil async function", opts: broadcast.Options{Transformer: broadcast.Async(nil)}},
		{name: "zero transformer", opts: broadcast.Options{Transformer: &broadcast.Transformer{}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := defaultFixture(t, "s1")
			f.registry.Add("s1", "room")

			lookup := tt.lookup
			if lookup == nil && tt.name != "nil lookup" {
				lookup = f.sockets
			}

			_, err := f.dispatcher.Broadcast(context.Background(), broadcast.Message{"m"}, tt.opts, lookup)
			var cerr *broadcast.ConfigurationError
			require.ErrorAs(t, err, &cerr)
			assert.Empty(t, f.socket("s1").Calls())
		})
	}
}

func TestDispatcher_WildcardDisabled(t *testing.T) {
	f := newFixture(t, membershippkg.Config{Wildcard: false}, broadcast.DefaultConfig(), "s1")
	f.registry.Add("s1", "chat.*")

	result, err := f.dispatcher.Broadcast(context.Background(), broadcast.Message{"m"}, broadcast.Options{Rooms: []string{"chat.general"}}, f.sockets)
	require.NoError(t, err)
	assert.Zero(t, result.Delivered)

	result, err = f.dispatcher.Broadcast(context.Background(), broadcast.Message{"m"}, broadcast.Options{Rooms: []string{"chat.*"}}, f.sockets)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Delivered, "a literal * room is still addressable")
}

func TestDispatcher_DeliveryDoesNotHoldRegistryLock(t *testing.T) {
	f := defaultFixture(t, "s1")
	f.registry.Add("s1", "room")

	f.socket("s1").onCall = func() {
		// would deadlock if the registry lock were still held
		f.registry.Add("s1", "other")
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := f.dispatcher.Broadcast(context.Background(), broadcast.Message{"m"}, broadcast.Options{Rooms: []string{"room"}}, f.sockets)
		assert.NoError(t, err)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Broadcast blocked on the registry lock")
	}
	assert.Equal(t, []string{"other", "room"}, f.registry.Get("s1"))
}

func TestDispatcher_Workers(t *testing.T) {
	const n = 50
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("s%02d", i)
	}

	f := newFixture(t, membershippkg.DefaultConfig(), broadcast.Config{Workers: 4}, ids...)
	for _, id := range ids {
		f.registry.Add(id, "room")
	}

	result, err := f.dispatcher.Broadcast(context.Background(), broadcast.Message{"m"}, broadcast.Options{
		Rooms:       []string{"room"},
		Transformer: broadcast.Sync(func(*broadcast.Envelope) bool { return true }),
	}, f.sockets)
	require.NoError(t, err)

	assert.Equal(t, n, result.Delivered)
	for _, id := range ids {
		assert.Len(t, f.socket(id).Calls(), 1, id)
	}
}

func TestDispatcher_SequentialOrder(t *testing.T) {
	f := defaultFixture(t, "a", "b", "c")
	f.registry.Add("c", "first")
	f.registry.Add("a", "second")
	f.registry.Add("b", "second")

	var order []string
	_, err := f.dispatcher.Broadcast(context.Background(), broadcast.Message{"m"}, broadcast.Options{
		Rooms: []string{"first", "second"},
		Transformer: broadcast.Sync(func(env *broadcast.Envelope) bool {
			order = append(order, env.SocketID)
			return true
		}),
	}, f.sockets)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a", "b"}, order)
}

func TestDispatcher_Recorder(t *testing.T) {
	registry := membership.NewInMemoryRegistry(membershippkg.DefaultConfig())
	rec := &recorder{}
	d, err := NewDispatcher(registry, broadcast.DefaultConfig(), WithRecorder(rec))
	require.NoError(t, err)

	registry.Add("s1", "room")
	_, err = d.Broadcast(context.Background(), broadcast.Message{"m"}, broadcast.Options{}, broadcast.SocketMap{"s1": newFakeSocket("s1")})
	require.NoError(t, err)

	require.Len(t, rec.results, 1)
	assert.Equal(t, broadcast.Result{Targeted: 1, Delivered: 1}, rec.results[0])
}
