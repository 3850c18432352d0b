package membership

import (
	"fmt"
	"math/rand"
	"reflect"
	"slices"
	"sync"
	"testing"

	"github.com/rmacdonaldsmith/roomadapter-go/pkg/membership"
)

func newRegistry() *InMemoryRegistry {
	return NewInMemoryRegistry(membership.DefaultConfig())
}

// checkSymmetry verifies id ∈ Clients(room) ⇔ room ∈ Get(id) for every pair
func checkSymmetry(t *testing.T, r *InMemoryRegistry) {
	t.Helper()

	for _, room := range r.Get("") {
		members := r.Clients(room)
		if len(members) == 0 {
			t.Errorf("Room %q is listed but has no members", room)
		}
		for _, id := range members {
			if !slices.Contains(r.Get(id), room) {
				t.Errorf("Socket %q is a member of %q but Get does not list the room", id, room)
			}
		}
	}

	r.Read(func(v membership.View) {
		v.Sockets(func(id string) {
			rooms := r.sockets[id]
			if len(rooms) == 0 {
				t.Errorf("Socket %q is tracked with no rooms", id)
			}
			for room := range rooms {
				if _, ok := r.rooms[room][id]; !ok {
					t.Errorf("Socket %q lists room %q but is not a member", id, room)
				}
			}
		})
	})
}

func TestInMemoryRegistry_AddAndGet(t *testing.T) {
	r := newRegistry()
	r.Add("s1", "r1")
	r.Add("s1", "r2")
	r.Add("s2", "r1")

	if got, want := r.Get("s1"), []string{"r1", "r2"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Get(s1) = %v, want %v", got, want)
	}
	if got, want := r.Get(""), []string{"r1", "r2"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Get(\"\") = %v, want %v", got, want)
	}
	if got, want := r.Clients("r1"), []string{"s1", "s2"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Clients(r1) = %v, want %v", got, want)
	}
	if got := r.Get("unknown"); len(got) != 0 {
		t.Errorf("Get(unknown) = %v, want empty", got)
	}
	if got := r.Clients("unknown"); len(got) != 0 {
		t.Errorf("Clients(unknown) = %v, want empty", got)
	}
	checkSymmetry(t, r)
}

func TestInMemoryRegistry_SetIsAddAlias(t *testing.T) {
	r := newRegistry()
	r.Set("s1", "r1")

	if got := r.Clients("r1"); !reflect.DeepEqual(got, []string{"s1"}) {
		t.Fatalf("Clients(r1) = %v, want [s1]", got)
	}
}

func TestInMemoryRegistry_DelScenario(t *testing.T) {
	r := newRegistry()
	r.Add("s1", "r1")
	r.Add("s2", "r1")
	r.Del("s1", "r1")

	if got := r.Clients("r1"); !reflect.DeepEqual(got, []string{"s2"}) {
		t.Errorf("Clients(r1) = %v, want [s2]", got)
	}
	if got := r.Get("s1"); len(got) != 0 {
		t.Errorf("Get(s1) = %v, want empty", got)
	}
	if stats := r.Stats(); stats.Sockets != 1 {
		t.Errorf("Expected s1 entry to be deleted, stats = %+v", stats)
	}
	checkSymmetry(t, r)
}

func TestInMemoryRegistry_EmptyRoomCleanup(t *testing.T) {
	r := newRegistry()
	r.Add("s1", "lobby")
	r.Del("s1", "lobby")

	if !r.IsEmpty("lobby") {
		t.Error("Expected lobby to be empty")
	}
	if slices.Contains(r.Get(""), "lobby") {
		t.Error("Expected lobby to be absent from the room list")
	}
	if stats := r.Stats(); stats.Rooms != 0 || stats.Sockets != 0 {
		t.Errorf("Expected no rooms or sockets, got %+v", stats)
	}
}

func TestInMemoryRegistry_Idempotence(t *testing.T) {
	once := newRegistry()
	once.Add("s1", "r1")
	once.Add("s2", "r1")
	once.Del("s2", "r1")

	twice := newRegistry()
	twice.Add("s1", "r1")
	twice.Add("s1", "r1")
	twice.Add("s2", "r1")
	twice.Del("s2", "r1")
	twice.Del("s2", "r1")

	if !reflect.DeepEqual(once.Get(""), twice.Get("")) {
		t.Errorf("Rooms differ: %v vs %v", once.Get(""), twice.Get(""))
	}
	if !reflect.DeepEqual(once.Clients("r1"), twice.Clients("r1")) {
		t.Errorf("Members differ: %v vs %v", once.Clients("r1"), twice.Clients("r1"))
	}
	if once.Stats() != twice.Stats() {
		t.Errorf("Stats differ: %+v vs %+v", once.Stats(), twice.Stats())
	}
}

func TestInMemoryRegistry_DelNonexistent(t *testing.T) {
	r := newRegistry()
	r.Add("s1", "r1")

	r.Del("ghost", "r1")
	r.Del("s1", "nowhere")
	r.Del("ghost", "")
	r.Empty("nowhere")

	if got := r.Clients("r1"); !reflect.DeepEqual(got, []string{"s1"}) {
		t.Fatalf("Expected state untouched, Clients(r1) = %v", got)
	}
	if got := r.Get(""); !reflect.DeepEqual(got, []string{"r1"}) {
		t.Fatalf("Expected no phantom rooms, got %v", got)
	}
}

func TestInMemoryRegistry_DelAllRooms(t *testing.T) {
	r := newRegistry()
	r.Add("s1", "a")
	r.Add("s1", "b.*")
	r.Add("s2", "a")

	r.Del("s1", "")

	if got := r.Get("s1"); len(got) != 0 {
		t.Errorf("Get(s1) = %v, want empty", got)
	}
	if got := r.Get(""); !reflect.DeepEqual(got, []string{"a"}) {
		t.Errorf("Get(\"\") = %v, want [a]", got)
	}
	if got := r.Stats().Patterns; got != 0 {
		t.Errorf("Expected pattern b.* to be deregistered, %d patterns left", got)
	}
	checkSymmetry(t, r)
}

func TestInMemoryRegistry_PatternLifecycle(t *testing.T) {
	r := newRegistry()
	r.Add("s1", "chat.*")
	r.Add("s2", "chat.*")

	if got := r.index.Patterns(); !reflect.DeepEqual(got, []string{"chat.*"}) {
		t.Fatalf("Expected chat.* registered, got %v", got)
	}

	r.Del("s1", "chat.*")
	if got := r.index.Patterns(); len(got) != 1 {
		t.Fatalf("Pattern must stay registered while the room has members, got %v", got)
	}

	r.Del("s2", "chat.*")
	if got := r.index.Patterns(); len(got) != 0 {
		t.Fatalf("Expected pattern removed with its last member, got %v", got)
	}
}

func TestInMemoryRegistry_WildcardDelete(t *testing.T) {
	tests := []struct {
		name      string
		config    membership.Config
		wantRooms []string
	}{
		{
			name:      "wildcard delete resolves pattern against socket rooms",
			config:    membership.Config{Wildcard: true, WildcardDelete: true},
			wantRooms: []string{"news"},
		},
		{
			name:      "wildcard delete off removes literal room only",
			config:    membership.Config{Wildcard: true, WildcardDelete: false},
			wantRooms: []string{"chat.general", "chat.random", "news"},
		},
		{
			name:      "index disabled passes the pattern through literally",
			config:    membership.Config{Wildcard: false, WildcardDelete: true},
			wantRooms: []string{"chat.general", "chat.random", "news"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewInMemoryRegistry(tt.config)
			r.Add("s1", "chat.general")
			r.Add("s1", "chat.random")
			r.Add("s1", "chat.*")
			r.Add("s1", "news")
			r.Add("s2", "chat.general")

			r.Del("s1", "chat.*")

			if got := r.Get("s1"); !reflect.DeepEqual(got, tt.wantRooms) {
				t.Errorf("Get(s1) = %v, want %v", got, tt.wantRooms)
			}
			if got := r.Clients("chat.general"); !slices.Contains(got, "s2") {
				t.Errorf("Other sockets must be untouched, Clients(chat.general) = %v", got)
			}
			checkSymmetry(t, r)
		})
	}
}

func TestInMemoryRegistry_WildcardDeleteUnknownSocket(t *testing.T) {
	r := NewInMemoryRegistry(membership.Config{Wildcard: true, WildcardDelete: true})
	r.Add("s1", "chat.a")

	r.Del("ghost", "chat.*")

	if got := r.Clients("chat.a"); !reflect.DeepEqual(got, []string{"s1"}) {
		t.Fatalf("Clients(chat.a) = %v, want [s1]", got)
	}
}

func TestInMemoryRegistry_WildcardDisabledStillJoinsLiteralRoom(t *testing.T) {
	r := NewInMemoryRegistry(membership.Config{Wildcard: false})
	r.Add("s1", "chat.*")

	if got := r.Clients("chat.*"); !reflect.DeepEqual(got, []string{"s1"}) {
		t.Fatalf("Clients(chat.*) = %v, want [s1]", got)
	}
	if got := r.Stats().Patterns; got != 0 {
		t.Fatalf("Disabled index must not register patterns, got %d", got)
	}
}

func TestInMemoryRegistry_Empty(t *testing.T) {
	r := newRegistry()
	r.Add("s1", "a")
	r.Add("s2", "a")
	r.Add("s2", "b.*")
	r.Add("s3", "c")

	r.Empty("a", "b.*", "missing")

	if !r.IsEmpty("a") || !r.IsEmpty("b.*") {
		t.Error("Expected emptied rooms to be gone")
	}
	if got := r.Get(""); !reflect.DeepEqual(got, []string{"c"}) {
		t.Errorf("Get(\"\") = %v, want [c]", got)
	}
	if got := r.Get("s2"); len(got) != 0 {
		t.Errorf("Get(s2) = %v, want empty", got)
	}
	if stats := r.Stats(); stats.Sockets != 1 || stats.Patterns != 0 {
		t.Errorf("Unexpected stats after Empty: %+v", stats)
	}
	checkSymmetry(t, r)
}

func TestInMemoryRegistry_Clear(t *testing.T) {
	r := newRegistry()
	r.Add("s1", "a.*")
	r.Add("s2", "b")

	r.Clear()

	if stats := r.Stats(); stats != (membership.Stats{}) {
		t.Fatalf("Expected empty registry after Clear, got %+v", stats)
	}

	var matched []string
	r.Read(func(v membership.View) {
		v.MatchPatterns("a.x", func(p string) { matched = append(matched, p) })
	})
	if len(matched) != 0 {
		t.Fatalf("Expected no dangling patterns after Clear, got %v", matched)
	}
}

func TestInMemoryRegistry_ViewMembers(t *testing.T) {
	r := newRegistry()
	r.Add("s1", "a")
	r.Add("s2", "a")

	var got []string
	var exists, missing bool
	r.Read(func(v membership.View) {
		exists = v.Members("a", func(id string) { got = append(got, id) })
		missing = v.Members("b", func(string) {})
	})

	slices.Sort(got)
	if !exists || missing {
		t.Errorf("Members existence: a=%v b=%v", exists, missing)
	}
	if !reflect.DeepEqual(got, []string{"s1", "s2"}) {
		t.Errorf("Members(a) = %v", got)
	}
}

// TestInMemoryRegistry_RandomOperationsKeepSymmetry drives a random sequence of
// mutations and checks the invariants after each step
func TestInMemoryRegistry_RandomOperationsKeepSymmetry(t *testing.T) {
	r := NewInMemoryRegistry(membership.Config{Wildcard: true, WildcardDelete: true})
	rng := rand.New(rand.NewSource(42))

	ids := []string{"s1", "s2", "s3", "s4"}
	rooms := []string{"a", "b", "a.*", "a.b", "*", "c"}

	for step := 0; step < 500; step++ {
		id := ids[rng.Intn(len(ids))]
		room := rooms[rng.Intn(len(rooms))]
		switch rng.Intn(5) {
		case 0, 1:
			r.Add(id, room)
		case 2:
			r.Del(id, room)
		case 3:
			r.Del(id, "")
		case 4:
			r.Empty(room)
		}
		checkSymmetry(t, r)
		if t.Failed() {
			t.Fatalf("Invariant broken at step %d", step)
		}
	}
}

func TestInMemoryRegistry_ConcurrentAccess(t *testing.T) {
	r := newRegistry()
	var wg sync.WaitGroup

	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				id := fmt.Sprintf("s%d", w)
				room := fmt.Sprintf("room-%d.*", i%5)
				r.Add(id, room)
				r.Clients(room)
				r.Read(func(v membership.View) {
					v.MatchPatterns("room-1.x", func(string) {})
				})
				if i%3 == 0 {
					r.Del(id, room)
				}
			}
			r.Del(fmt.Sprintf("s%d", w), "")
		}(w)
	}
	wg.Wait()

	if stats := r.Stats(); stats != (membership.Stats{}) {
		t.Fatalf("Expected registry to drain, got %+v", stats)
	}
}
