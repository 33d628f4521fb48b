package agent

import (
	"sync"

	"jobwatch/pkg/jobs"
)

// entry is an immutable correlation state. id is zero while the create call is in flight.
type entry struct {
	key jobs.NaturalKey
	id  int64
}

func (e *entry) ref() jobs.Ref {
	if e.id > 0 {
		return jobs.ByID(e.id)
	}
	return jobs.Ref{Key: e.key}
}

// correlations maps ephemeral engine ids to entries. Transitions are compare-and-swap on
// entry pointers, so a create that resolves after its end event was handled cannot
// re-insert the consumed entry.
type correlations[K comparable] struct {
	m sync.Map
}

func (c *correlations[K]) begin(k K, key jobs.NaturalKey) *entry {
	e := &entry{key: key}
	c.m.Store(k, e)
	return e
}

func (c *correlations[K]) resolve(k K, pending *entry, id int64) bool {
	return c.m.CompareAndSwap(k, pending, &entry{key: pending.key, id: id})
}

func (c *correlations[K]) abandon(k K, pending *entry) bool {
	return c.m.CompareAndDelete(k, pending)
}

func (c *correlations[K]) take(k K) (*entry, bool) {
	v, ok := c.m.LoadAndDelete(k)
	if !ok {
		return nil, false
	}
	return v.(*entry), true
}

func (c *correlations[K]) keys() []K {
	var out []K
	c.m.Range(func(k, _ any) bool {
		out = append(out, k.(K))
		return true
	})
	return out
}

func (c *correlations[K]) len() int {
	n := 0
	c.m.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
