package vars

import (
	"fmt"
	"reflect"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

func newTestStore(t *testing.T, defs []Def, persist Persistence) *Store {
	t.Helper()
	s, errs := New(defs, persist, zerolog.Nop())
	if len(errs) > 0 {
		t.Fatalf("unexpected load errors: %v", errs)
	}
	return s
}

func TestPushAndContains(t *testing.T) {
	s := newTestStore(t, []Def{{Name: "ips", Capacity: 4}}, nil)

	if s.Contains("ips", "1.2.3.4") {
		t.Error("empty variable should not contain anything")
	}

	s.Push("ips", "1.2.3.4")
	if !s.Contains("ips", "1.2.3.4") {
		t.Error("pushed value should be contained")
	}
	if s.Contains("ips", "5.6.7.8") {
		t.Error("unpushed value should not be contained")
	}
}

func TestCapacityEviction(t *testing.T) {
	s := newTestStore(t, []Def{{Name: "v", Capacity: 3}}, nil)

	for i := 0; i < 5; i++ {
		s.Push("v", fmt.Sprintf("val%d", i))
	}

	if got := s.Len("v"); got != 3 {
		t.Fatalf("Len = %d, want 3", got)
	}
	want := []string{"val2", "val3", "val4"}
	if got := s.Snapshot("v"); !reflect.DeepEqual(got, want) {
		t.Errorf("Snapshot = %v, want %v", got, want)
	}
	if s.Contains("v", "val0") || s.Contains("v", "val1") {
		t.Error("evicted values should not be contained")
	}
}

func TestPushRefreshesExistingValue(t *testing.T) {
	s := newTestStore(t, []Def{{Name: "v", Capacity: 3}}, nil)

	s.Push("v", "a")
	s.Push("v", "b")
	s.Push("v", "c")
	// Re-pushing "a" must move it to most-recent, not duplicate it.
	s.Push("v", "a")

	want := []string{"b", "c", "a"}
	if got := s.Snapshot("v"); !reflect.DeepEqual(got, want) {
		t.Fatalf("Snapshot = %v, want %v", got, want)
	}

	// The next overflow evicts "b", not "a".
	s.Push("v", "d")
	want = []string{"c", "a", "d"}
	if got := s.Snapshot("v"); !reflect.DeepEqual(got, want) {
		t.Errorf("Snapshot after overflow = %v, want %v", got, want)
	}
}

func TestDefaultCapacity(t *testing.T) {
	s := newTestStore(t, []Def{{Name: "v"}}, nil)

	for i := 0; i < DefaultCapacity+10; i++ {
		s.Push("v", fmt.Sprintf("val%d", i))
	}
	if got := s.Len("v"); got != DefaultCapacity {
		t.Errorf("Len = %d, want %d", got, DefaultCapacity)
	}
}

func TestResolve(t *testing.T) {
	s := newTestStore(t, []Def{{Name: "known", Capacity: 1}}, nil)

	if !s.Resolve("known") {
		t.Error("Resolve(known) = false")
	}
	if s.Resolve("unknown") {
		t.Error("Resolve(unknown) = true")
	}
}

func TestConcurrentPushContains(t *testing.T) {
	s := newTestStore(t, []Def{{Name: "v", Capacity: 100}}, nil)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				s.Push("v", fmt.Sprintf("g%d-%d", g, i%50))
				s.Contains("v", fmt.Sprintf("g%d-%d", g, i%50))
			}
		}(g)
	}
	wg.Wait()

	if got := s.Len("v"); got > 100 {
		t.Errorf("Len = %d, want <= 100", got)
	}
}

// memPersistence is an in-memory Persistence for tests.
type memPersistence struct {
	mu     sync.Mutex
	values map[string][]string
	loadErr error
	saves  int
}

func (m *memPersistence) Load(name string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return append([]string(nil), m.values[name]...), nil
}

func (m *memPersistence) Save(name string, values []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.values == nil {
		m.values = make(map[string][]string)
	}
	m.values[name] = append([]string(nil), values...)
	m.saves++
	return nil
}

func TestPersistentLoadAndSave(t *testing.T) {
	persist := &memPersistence{values: map[string][]string{
		"ips": {"1.1.1.1", "2.2.2.2"},
	}}

	s := newTestStore(t, []Def{{Name: "ips", Capacity: 10, Persistent: true}}, persist)

	if !s.Contains("ips", "1.1.1.1") || !s.Contains("ips", "2.2.2.2") {
		t.Fatal("loaded values should be contained")
	}

	s.Push("ips", "3.3.3.3")
	persist.mu.Lock()
	got := append([]string(nil), persist.values["ips"]...)
	persist.mu.Unlock()
	want := []string{"1.1.1.1", "2.2.2.2", "3.3.3.3"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("persisted = %v, want %v", got, want)
	}
}

func TestPersistentLoadFailureIsSurfacedNotFatal(t *testing.T) {
	persist := &memPersistence{loadErr: fmt.Errorf("backend down")}

	s, errs := New([]Def{{Name: "ips", Capacity: 10, Persistent: true}}, persist, zerolog.Nop())
	if len(errs) != 1 {
		t.Fatalf("load errors = %d, want 1", len(errs))
	}
	// The variable still works, starting empty.
	if s.Len("ips") != 0 {
		t.Error("variable should start empty after load failure")
	}
	s.Push("ips", "1.1.1.1")
	if !s.Contains("ips", "1.1.1.1") {
		t.Error("variable should accept pushes after load failure")
	}
}

func TestCloseSavesPersistentVariables(t *testing.T) {
	persist := &memPersistence{}
	s := newTestStore(t, []Def{
		{Name: "a", Capacity: 5, Persistent: true},
		{Name: "b", Capacity: 5},
	}, persist)

	s.Push("a", "x")
	s.Push("b", "y")
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	persist.mu.Lock()
	defer persist.mu.Unlock()
	if !reflect.DeepEqual(persist.values["a"], []string{"x"}) {
		t.Errorf("persisted a = %v, want [x]", persist.values["a"])
	}
	if _, ok := persist.values["b"]; ok {
		t.Error("non-persistent variable should not be saved")
	}
}
