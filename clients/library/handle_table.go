package chfslib

import (
	"sync"
)

// Descriptors encode gen<<slotBits | slot, offset by firstUserFD. The
// generation wraps at genMask, keeping descriptors within int32.
const (
	firstUserFD = 3
	slotBits    = 20
	slotMask    = 1<<slotBits - 1
	genBits     = 31 - slotBits
	genMask     = 1<<genBits - 1
)

// openFile is one open descriptor. mu serializes I/O on it and guards
// offset.
type openFile struct {
	mu      sync.Mutex
	inodeID string
	path    string
	flags   int
	offset  int64
}

type slot struct {
	gen  uint32
	file *openFile
}

// handleTable is a slot arena with a free list. Releasing a slot bumps
// its generation so stale descriptors stop resolving.
type handleTable struct {
	mu    sync.Mutex
	slots []slot
	free  []int
	open  int
}

func newHandleTable() *handleTable {
	return &handleTable{}
}

func encodeFD(idx int, gen uint32) int {
	return firstUserFD + (int(gen)<<slotBits | idx)
}

func decodeFD(fd int) (int, uint32, bool) {
	if fd < firstUserFD {
		return 0, 0, false
	}
	v := fd - firstUserFD
	return v & slotMask, uint32(v >> slotBits), true
}

func (t *handleTable) allocate(f *openFile) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var idx int
	if n := len(t.free); n > 0 {
		idx = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		if len(t.slots) > slotMask {
			return -1, errTableFull
		}
		idx = len(t.slots)
		t.slots = append(t.slots, slot{})
	}
	t.slots[idx].file = f
	t.open++
	return encodeFD(idx, t.slots[idx].gen), nil
}

func (t *handleTable) lookup(fd int) (*openFile, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx, ok := t.resolveLocked(fd)
	if !ok {
		return nil, false
	}
	return t.slots[idx].file, true
}

func (t *handleTable) release(fd int) (*openFile, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx, ok := t.resolveLocked(fd)
	if !ok {
		return nil, false
	}
	f := t.slots[idx].file
	t.slots[idx].file = nil
	t.slots[idx].gen = (t.slots[idx].gen + 1) & genMask
	t.free = append(t.free, idx)
	t.open--
	return f, true
}

func (t *handleTable) resolveLocked(fd int) (int, bool) {
	idx, gen, ok := decodeFD(fd)
	if !ok || idx >= len(t.slots) {
		return 0, false
	}
	s := t.slots[idx]
	if s.file == nil || s.gen != gen {
		return 0, false
	}
	return idx, true
}

// drain releases every open descriptor and returns them by fd.
func (t *handleTable) drain() map[int]*openFile {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[int]*openFile, t.open)
	for idx := range t.slots {
		s := &t.slots[idx]
		if s.file == nil {
			continue
		}
		out[encodeFD(idx, s.gen)] = s.file
		s.file = nil
		s.gen = (s.gen + 1) & genMask
		t.free = append(t.free, idx)
	}
	t.open = 0
	return out
}

func (t *handleTable) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open
}
