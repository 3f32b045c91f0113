package memory

// Recent is a fixed-capacity ring of keyed entries. Adding beyond capacity
// evicts the oldest entry. It has a single owner and takes no locks.
type Recent[V any] struct {
	buf   []recentEntry[V]
	mask  uint64
	head  uint64
	index map[string]V
}

type recentEntry[V any] struct {
	key string
	set bool
}

// NewRecent rounds size up to a power of two.
func NewRecent[V any](size uint64) *Recent[V] {
	n := uint64(1)
	for n < size {
		n <<= 1
	}
	return &Recent[V]{
		buf:   make([]recentEntry[V], n),
		mask:  n - 1,
		index: make(map[string]V, n),
	}
}

func (r *Recent[V]) Add(key string, v V) {
	if _, ok := r.index[key]; ok {
		r.index[key] = v
		return
	}
	slot := &r.buf[r.head&r.mask]
	if slot.set {
		delete(r.index, slot.key)
	}
	slot.key, slot.set = key, true
	r.index[key] = v
	r.head++
}

func (r *Recent[V]) Get(key string) (V, bool) {
	v, ok := r.index[key]
	return v, ok
}

func (r *Recent[V]) Len() int { return len(r.index) }

func (r *Recent[V]) Cap() int { return len(r.buf) }
