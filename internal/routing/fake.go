package routing

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// FakeRouter is an in-memory Router modelling the parts of the XInput
// device hierarchy the relay touches.
type FakeRouter struct {
	mu       sync.Mutex
	nextID   int
	names    map[string]int
	masters  map[int]int // pointer master id -> keyboard master id
	attached map[int]int // slave id -> master id

	// Failures keyed by operation name ("create-master", "reattach",
	// "remove-master", "list") make the next matching call fail.
	Failures map[string]error

	// BeforeRemove, when set, runs at the start of every RemoveMaster call.
	BeforeRemove func(id int)
}

// NewFakeRouter returns an empty hierarchy holding the core master pair
// ("Virtual core pointer"/"Virtual core keyboard"), as every X server does.
func NewFakeRouter() *FakeRouter {
	f := &FakeRouter{
		nextID:   2,
		names:    make(map[string]int),
		masters:  make(map[int]int),
		attached: make(map[int]int),
		Failures: make(map[string]error),
	}
	f.addMaster("Virtual core")
	return f
}

func (f *FakeRouter) fail(op string) error {
	if err, ok := f.Failures[op]; ok {
		delete(f.Failures, op)
		return err
	}
	return nil
}

func (f *FakeRouter) addMaster(name string) {
	ptr := f.nextID
	kbd := f.nextID + 1
	f.nextID += 2
	f.names[PointerMaster(name)] = ptr
	f.names[KeyboardMaster(name)] = kbd
	f.masters[ptr] = kbd
}

// AddDevice registers a slave device the way the X server does when a
// uinput device appears. Both pointer and keyboard selectors resolve.
func (f *FakeRouter) AddDevice(name string) (pointerID, keyboardID int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pointerID = f.nextID
	keyboardID = f.nextID + 1
	f.nextID += 2
	f.names[PointerSlave(name)] = pointerID
	f.names[KeyboardSlave(name)] = keyboardID
	return pointerID, keyboardID
}

// Hide removes a single selector, leaving the device's other half listed.
func (f *FakeRouter) Hide(selector string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id, ok := f.names[selector]; ok {
		delete(f.attached, id)
		delete(f.names, selector)
	}
}

func (f *FakeRouter) CreateMaster(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("create-master"); err != nil {
		return err
	}
	if _, exists := f.names[PointerMaster(name)]; exists {
		return fmt.Errorf("master %q already exists", name)
	}
	f.addMaster(name)
	return nil
}

func (f *FakeRouter) IDByName(_ context.Context, name string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("list"); err != nil {
		return 0, err
	}
	id, ok := f.names[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return id, nil
}

func (f *FakeRouter) Reattach(_ context.Context, id, master int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("reattach"); err != nil {
		return err
	}
	if !f.isMaster(master) {
		return fmt.Errorf("%d is not a master device", master)
	}
	if !f.exists(id) {
		return fmt.Errorf("no device with id %d", id)
	}
	f.attached[id] = master
	return nil
}

func (f *FakeRouter) RemoveMaster(_ context.Context, id int) error {
	if f.BeforeRemove != nil {
		f.BeforeRemove(id)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("remove-master"); err != nil {
		return err
	}
	kbd, ok := f.masters[id]
	if !ok {
		return fmt.Errorf("%d is not a pointer master", id)
	}
	delete(f.masters, id)
	for name, nid := range f.names {
		if nid == id || nid == kbd {
			delete(f.names, name)
		}
	}
	// Slaves of a removed master float.
	for slave, m := range f.attached {
		if m == id || m == kbd {
			delete(f.attached, slave)
		}
	}
	return nil
}

func (f *FakeRouter) isMaster(id int) bool {
	for ptr, kbd := range f.masters {
		if id == ptr || id == kbd {
			return true
		}
	}
	return false
}

func (f *FakeRouter) exists(id int) bool {
	for _, nid := range f.names {
		if nid == id {
			return true
		}
	}
	return false
}

// MasterCount returns the number of master pairs, the core pair included.
func (f *FakeRouter) MasterCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.masters)
}

// AttachedTo returns the slave ids attached to master, sorted.
func (f *FakeRouter) AttachedTo(master int) []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []int
	for slave, m := range f.attached {
		if m == master {
			ids = append(ids, slave)
		}
	}
	sort.Ints(ids)
	return ids
}

// Attachments returns a copy of the slave -> master map.
func (f *FakeRouter) Attachments() map[int]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[int]int, len(f.attached))
	for k, v := range f.attached {
		out[k] = v
	}
	return out
}
