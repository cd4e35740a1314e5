package subscribers

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"songbot/internal/storage"
	logx "songbot/pkg/logx"
)

func openStore(t *testing.T, mem *storage.Memory) *Store {
	t.Helper()
	s, err := Open(context.Background(), mem, logx.Nop(), Hooks{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestSubscribeIdempotent(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	s := openStore(t, mem)

	added, err := s.Subscribe(ctx, 42)
	if err != nil || !added {
		t.Fatalf("first subscribe: added=%v err=%v", added, err)
	}
	added, err = s.Subscribe(ctx, 42)
	if err != nil || added {
		t.Fatalf("second subscribe: added=%v err=%v", added, err)
	}
	if s.Len() != 1 {
		t.Fatalf("len=%d", s.Len())
	}
	if mem.Saves() != 1 {
		t.Fatalf("no-op subscribe should not write, saves=%d", mem.Saves())
	}
}

func TestUnsubscribeAbsentIsNoop(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory(1)
	s := openStore(t, mem)

	removed, err := s.Unsubscribe(ctx, 99)
	if err != nil || removed {
		t.Fatalf("removed=%v err=%v", removed, err)
	}
	removed, err = s.Unsubscribe(ctx, 1)
	if err != nil || !removed {
		t.Fatalf("removed=%v err=%v", removed, err)
	}
	ids, _ := mem.LoadSubscribers(ctx)
	if len(ids) != 0 {
		t.Fatalf("persisted=%v", ids)
	}
}

func TestFailedSaveLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory(1, 2)
	s := openStore(t, mem)

	mem.FailNext(errors.New("disk full"))
	if _, err := s.Subscribe(ctx, 3); !errors.Is(err, storage.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if s.Contains(3) {
		t.Fatalf("memory changed despite failed save")
	}

	mem.FailNext(errors.New("disk full"))
	if _, err := s.Prune(ctx, []int64{1}); !errors.Is(err, storage.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	snap, _ := s.Snapshot()
	if !reflect.DeepEqual(snap, []int64{1, 2}) {
		t.Fatalf("snapshot=%v", snap)
	}
}

func TestPruneOnlyRemovesMembersInOneSave(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory(1, 2, 3, 4)
	s := openStore(t, mem)

	n, err := s.Prune(ctx, []int64{2, 4, 99})
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 2 {
		t.Fatalf("removed=%d", n)
	}
	if mem.Saves() != 1 {
		t.Fatalf("saves=%d", mem.Saves())
	}
	ids, _ := mem.LoadSubscribers(ctx)
	if !reflect.DeepEqual(ids, []int64{1, 3}) {
		t.Fatalf("persisted=%v", ids)
	}

	if n, _ := s.Prune(ctx, []int64{99}); n != 0 || mem.Saves() != 1 {
		t.Fatalf("pruning non-members should not write")
	}
}

func TestSnapshotIsSortedCopy(t *testing.T) {
	s := openStore(t, storage.NewMemory(30, 10, 20, 10))
	snap, err := s.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if !reflect.DeepEqual(snap, []int64{10, 20, 30}) {
		t.Fatalf("snapshot=%v", snap)
	}
	snap[0] = 999
	if !s.Contains(10) || s.Contains(999) {
		t.Fatalf("snapshot aliases internal state")
	}
}

func TestClosedStore(t *testing.T) {
	s := openStore(t, storage.NewMemory(1))
	s.Close()
	if _, err := s.Snapshot(); !errors.Is(err, storage.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if _, err := s.Subscribe(context.Background(), 2); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestConcurrentMutationsPersistLastState(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	s := openStore(t, mem)

	var wg sync.WaitGroup
	for i := int64(0); i < 50; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, _ = s.Subscribe(ctx, id)
			if id%2 == 0 {
				_, _ = s.Unsubscribe(ctx, id)
			}
		}(i)
	}
	wg.Wait()

	persisted, _ := mem.LoadSubscribers(ctx)
	snap, _ := s.Snapshot()
	if !reflect.DeepEqual(persisted, snap) {
		t.Fatalf("disk %v != memory %v", persisted, snap)
	}
	if len(snap) != 25 {
		t.Fatalf("len=%d", len(snap))
	}
}

func TestHooksSeeCommittedChanges(t *testing.T) {
	ctx := context.Background()
	var added, removed []int64
	s, err := Open(ctx, storage.NewMemory(5), logx.Nop(), Hooks{
		OnChange: func(a, r []int64, size int) {
			added = append(added, a...)
			removed = append(removed, r...)
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	_, _ = s.Subscribe(ctx, 6)
	_, _ = s.Prune(ctx, []int64{5})
	if !reflect.DeepEqual(added, []int64{6}) || !reflect.DeepEqual(removed, []int64{5}) {
		t.Fatalf("added=%v removed=%v", added, removed)
	}
}

func TestSetOps(t *testing.T) {
	s := NewSet(3, 1)
	if !s.Add(2) || s.Add(2) {
		t.Fatalf("Add semantics")
	}
	c := s.Clone()
	c.Remove(1)
	if !s.Contains(1) {
		t.Fatalf("Clone shares storage")
	}
	if got := s.Sorted(); !reflect.DeepEqual(got, []int64{1, 2, 3}) {
		t.Fatalf("Sorted=%v", got)
	}
}
