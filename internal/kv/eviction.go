package kv

import (
	"container/list"
	"sync"
)

// PolicyKind selects the eviction algorithm (spec.md §4.B: "one of {LRU,
// LFU, ARC}"). Ghost-list sizing for ARC is implementation-defined per
// spec.md's open questions; this package uses ghost lists the same size as
// the live lists, the common default.
type PolicyKind string

const (
	PolicyLRU PolicyKind = "lru"
	PolicyLFU PolicyKind = "lfu"
	PolicyARC PolicyKind = "arc"
)

// Policy is consulted on every access and mutation; when the store is over
// its memory ceiling it asks the policy to name a victim. Selection is
// deterministic given the access history (spec.md §4.B).
type Policy interface {
	OnAccess(key string)
	OnInsert(key string)
	OnRemove(key string)
	Evict() (key string, ok bool)
	Name() string
}

// NewPolicy constructs a Policy of the given kind with capacity c (an
// advisory sizing hint for ghost lists; live-entry eviction is driven by
// the store's memory ceiling, not by c).
func NewPolicy(kind PolicyKind, c int) Policy {
	if c <= 0 {
		c = 10000
	}
	switch kind {
	case PolicyLFU:
		return newLFUPolicy()
	case PolicyARC:
		return newARCPolicy(c)
	default:
		return newLRUPolicy()
	}
}

// lruPolicy is a classic doubly-linked-list + map LRU: OnAccess moves the
// entry to the front, Evict takes from the back.
type lruPolicy struct {
	mu    sync.Mutex
	ll    *list.List
	elems map[string]*list.Element
}

func newLRUPolicy() *lruPolicy {
	return &lruPolicy{ll: list.New(), elems: make(map[string]*list.Element)}
}

func (p *lruPolicy) Name() string { return string(PolicyLRU) }

func (p *lruPolicy) OnAccess(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.elems[key]; ok {
		p.ll.MoveToFront(e)
		return
	}
	p.elems[key] = p.ll.PushFront(key)
}

func (p *lruPolicy) OnInsert(key string) { p.OnAccess(key) }

func (p *lruPolicy) OnRemove(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.elems[key]; ok {
		p.ll.Remove(e)
		delete(p.elems, key)
	}
}

func (p *lruPolicy) Evict() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	back := p.ll.Back()
	if back == nil {
		return "", false
	}
	key := back.Value.(string)
	p.ll.Remove(back)
	delete(p.elems, key)
	return key, true
}

// lfuPolicy is an O(1) frequency-bucket LFU: each key has a frequency
// count; keys at the same frequency form an LRU sub-list so ties break
// least-recently-used. Evict always removes from the lowest non-empty
// frequency bucket.
type lfuPolicy struct {
	mu        sync.Mutex
	freqOf    map[string]int
	buckets   map[int]*list.List
	elemOf    map[string]*list.Element
	minFreq   int
}

func newLFUPolicy() *lfuPolicy {
	return &lfuPolicy{
		freqOf:  make(map[string]int),
		buckets: make(map[int]*list.List),
		elemOf:  make(map[string]*list.Element),
	}
}

func (p *lfuPolicy) Name() string { return string(PolicyLFU) }

func (p *lfuPolicy) bucket(freq int) *list.List {
	b, ok := p.buckets[freq]
	if !ok {
		b = list.New()
		p.buckets[freq] = b
	}
	return b
}

func (p *lfuPolicy) removeFromBucket(key string) {
	freq, ok := p.freqOf[key]
	if !ok {
		return
	}
	if e, ok := p.elemOf[key]; ok {
		p.bucket(freq).Remove(e)
		delete(p.elemOf, key)
	}
}

func (p *lfuPolicy) OnAccess(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	freq, ok := p.freqOf[key]
	if !ok {
		p.insertLocked(key)
		return
	}
	p.removeFromBucket(key)
	newFreq := freq + 1
	p.freqOf[key] = newFreq
	p.elemOf[key] = p.bucket(newFreq).PushFront(key)
	if freq == p.minFreq && p.bucket(freq).Len() == 0 {
		p.minFreq = newFreq
	}
}

func (p *lfuPolicy) insertLocked(key string) {
	p.freqOf[key] = 1
	p.elemOf[key] = p.bucket(1).PushFront(key)
	p.minFreq = 1
}

func (p *lfuPolicy) OnInsert(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.freqOf[key]; ok {
		return
	}
	p.insertLocked(key)
}

func (p *lfuPolicy) OnRemove(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removeFromBucket(key)
	delete(p.freqOf, key)
}

func (p *lfuPolicy) Evict() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		b, ok := p.buckets[p.minFreq]
		if !ok || b.Len() == 0 {
			// Search upward; frequency buckets are sparse once entries age.
			found := false
			for f, bucket := range p.buckets {
				if bucket.Len() > 0 && (!found || f < p.minFreq) {
					p.minFreq = f
					found = true
				}
			}
			if !found {
				return "", false
			}
			continue
		}
		back := b.Back()
		key := back.Value.(string)
		b.Remove(back)
		delete(p.elemOf, key)
		delete(p.freqOf, key)
		return key, true
	}
}

// arcPolicy is a simplified Adaptive Replacement Cache: T1/T2 are the live
// recency/frequency lists, B1/B2 are ghost lists of recently evicted keys
// used to adapt the T1/T2 split target p. Ghost-list capacity mirrors the
// live-list capacity hint c (spec.md's open question on exact ARC constants
// leaves this implementation-defined).
type arcPolicy struct {
	mu        sync.Mutex
	c         int
	p         int // target size of T1
	t1, t2    *list.List
	b1, b2    *list.List
	elems     map[string]*list.Element
	inB1, inB2 map[string]*list.Element
}

func newARCPolicy(c int) *arcPolicy {
	return &arcPolicy{
		c: c, t1: list.New(), t2: list.New(), b1: list.New(), b2: list.New(),
		elems: make(map[string]*list.Element),
		inB1:  make(map[string]*list.Element),
		inB2:  make(map[string]*list.Element),
	}
}

func (p *arcPolicy) Name() string { return string(PolicyARC) }

func (p *arcPolicy) OnAccess(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.elems[key]; ok {
		// Promote from T1 to T2 (or refresh in T2) on repeat access.
		list1 := p.listFor(e)
		if list1 == p.t1 {
			p.t1.Remove(e)
		} else {
			p.t2.Remove(e)
		}
		p.elems[key] = p.t2.PushFront(key)
		return
	}
	p.insertFresh(key)
}

func (p *arcPolicy) listFor(e *list.Element) *list.List {
	// Best-effort: elements only ever live in t1 or t2 while tracked live.
	for el := p.t1.Front(); el != nil; el = el.Next() {
		if el == e {
			return p.t1
		}
	}
	return p.t2
}

func (p *arcPolicy) insertFresh(key string) {
	if _, ok := p.inB1[key]; ok {
		p.adaptUp()
		p.b1.Remove(p.inB1[key])
		delete(p.inB1, key)
		p.elems[key] = p.t2.PushFront(key)
		return
	}
	if _, ok := p.inB2[key]; ok {
		p.adaptDown()
		p.b2.Remove(p.inB2[key])
		delete(p.inB2, key)
		p.elems[key] = p.t2.PushFront(key)
		return
	}
	p.elems[key] = p.t1.PushFront(key)
}

func (p *arcPolicy) adaptUp() {
	delta := 1
	if p.b1.Len() > 0 && p.b2.Len() > 0 {
		delta = p.b2.Len() / p.b1.Len()
		if delta < 1 {
			delta = 1
		}
	}
	p.p += delta
	if p.p > p.c {
		p.p = p.c
	}
}

func (p *arcPolicy) adaptDown() {
	delta := 1
	if p.b1.Len() > 0 && p.b2.Len() > 0 {
		delta = p.b1.Len() / p.b2.Len()
		if delta < 1 {
			delta = 1
		}
	}
	p.p -= delta
	if p.p < 0 {
		p.p = 0
	}
}

func (p *arcPolicy) OnInsert(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.elems[key]; ok {
		return
	}
	p.insertFresh(key)
}

func (p *arcPolicy) OnRemove(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.elems[key]; ok {
		p.listFor(e).Remove(e)
		delete(p.elems, key)
	}
}

func (p *arcPolicy) Evict() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var from *list.List
	var ghost *list.List
	var ghostMap map[string]*list.Element
	if p.t1.Len() > 0 && (p.t1.Len() > p.p || p.t2.Len() == 0) {
		from, ghost, ghostMap = p.t1, p.b1, p.inB1
	} else if p.t2.Len() > 0 {
		from, ghost, ghostMap = p.t2, p.b2, p.inB2
	} else {
		return "", false
	}
	back := from.Back()
	key := back.Value.(string)
	from.Remove(back)
	delete(p.elems, key)
	ghostMap[key] = ghost.PushFront(key)
	if ghost.Len() > p.c {
		tail := ghost.Back()
		ghost.Remove(tail)
		delete(ghostMap, tail.Value.(string))
	}
	return key, true
}
