// Package topology builds the rooted trees that structure collective
// communication.
/*
 * Copyright (c) 2024-2026, gompi authors. All rights reserved.
 */
package topology

import (
	"sync"

	"github.com/gompi/gompi/cmn/debug"
)

type cacheKey struct {
	kind Kind
	root int
}

// Cache memoizes tree construction per (kind, root) for one communicator.
// Entries are write-once: the first Get for a key constructs, every later
// Get returns the same *Tree.
type Cache struct {
	trees  map[cacheKey]*Tree
	mu     sync.Mutex
	size   int
	rank   int
	fanout int
}

func NewCache(size, rank, fanout int) *Cache {
	return &Cache{
		trees:  make(map[cacheKey]*Tree),
		size:   size,
		rank:   rank,
		fanout: fanout,
	}
}

func (c *Cache) Get(kind Kind, root int) *Tree {
	key := cacheKey{kind, root}
	c.mu.Lock()
	t, ok := c.trees[key]
	if !ok {
		t = New(kind, c.size, c.rank, root, c.fanout)
		c.trees[key] = t
	}
	c.mu.Unlock()
	debug.Assert(t.Kind() == kind && t.Root() == root && t.Size() == c.size)
	return t
}

// Len returns the number of cached trees.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.trees)
}
