package overlay

// Cell is a session-scoped observable value. Subscribers are notified
// synchronously on every Set that changes the value. Cells belong to the
// session's execution context and are not safe for concurrent use.
type Cell[T comparable] struct {
	value  T
	nextID int
	subs   map[int]func(T)
	order  []int
}

func NewCell[T comparable](initial T) *Cell[T] {
	return &Cell[T]{value: initial, subs: make(map[int]func(T))}
}

func (c *Cell[T]) Get() T {
	return c.value
}

// Set stores v and notifies subscribers when the value changed.
func (c *Cell[T]) Set(v T) {
	if c.value == v {
		return
	}
	c.value = v
	for _, id := range c.order {
		if fn, ok := c.subs[id]; ok {
			fn(v)
		}
	}
}

// Subscribe registers fn and returns a function that removes it.
func (c *Cell[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	c.nextID++
	id := c.nextID
	c.subs[id] = fn
	c.order = append(c.order, id)
	return func() {
		if _, ok := c.subs[id]; !ok {
			return
		}
		delete(c.subs, id)
		for i, v := range c.order {
			if v == id {
				c.order = append(c.order[:i], c.order[i+1:]...)
				break
			}
		}
	}
}

func (c *Cell[T]) clear() {
	c.subs = make(map[int]func(T))
	c.order = nil
}
