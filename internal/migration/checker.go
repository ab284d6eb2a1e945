package migration

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/rflorenc/gitlab-migrator/internal/models"
	"github.com/rflorenc/gitlab-migrator/internal/platform"
)

// Checker decides whether a resource already exists on the target.
//
// The default mode searches the target with a fuzzy term seeded from the
// record and scans candidates for an exact key match. Indexed mode lists
// the target once and answers every lookup from memory.
type Checker struct {
	kind    models.Kind
	target  *Enumerator
	indexed bool

	mu    sync.Mutex
	index map[string]models.ResourceRecord
}

// NewChecker creates a Checker searching target.
func NewChecker(target *Enumerator, indexed bool) *Checker {
	return &Checker{kind: target.Kind(), target: target, indexed: indexed}
}

// searchOptions seeds the fuzzy search for rec.
func (c *Checker) searchOptions(rec models.ResourceRecord) platform.ListOptions {
	switch c.kind {
	case models.KindGroup:
		return platform.ListOptions{Search: rec.Name, OrderBy: "name", Sort: "asc", TopLevelOnly: true}
	case models.KindUser:
		return platform.ListOptions{Search: rec.Username, OrderBy: "username", Sort: "asc"}
	}
	return platform.ListOptions{Search: rec.Path, OrderBy: "name", Sort: "asc"}
}

// indexOptions lists every target record that can collide.
func (c *Checker) indexOptions() platform.ListOptions {
	switch c.kind {
	case models.KindGroup:
		return platform.ListOptions{OrderBy: "id", Sort: "asc", TopLevelOnly: true}
	case models.KindUser:
		return platform.ListOptions{OrderBy: "id", Sort: "asc"}
	}
	return platform.ListOptions{OrderBy: "id", Sort: "asc"}
}

// Find returns the first target record whose key equals rec's key, or nil.
// A search that returns no candidates reports no match.
func (c *Checker) Find(ctx context.Context, rec models.ResourceRecord) (*models.ResourceRecord, error) {
	key := rec.Key(c.kind)
	if c.indexed {
		return c.lookup(ctx, key)
	}
	for cand, err := range c.target.Records(ctx, c.searchOptions(rec)) {
		if err != nil {
			return nil, errors.Wrapf(err, "checking %s %q on target", c.kind, key)
		}
		if cand.Key(c.kind) == key {
			return &cand, nil
		}
	}
	return nil, nil
}

func (c *Checker) lookup(ctx context.Context, key string) (*models.ResourceRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.index == nil {
		index := map[string]models.ResourceRecord{}
		for cand, err := range c.target.Records(ctx, c.indexOptions()) {
			if err != nil {
				return nil, errors.Wrapf(err, "indexing target %ss", c.kind)
			}
			k := cand.Key(c.kind)
			if _, dup := index[k]; !dup {
				index[k] = cand
			}
		}
		c.index = index
	}
	if m, ok := c.index[key]; ok {
		return &m, nil
	}
	return nil, nil
}

// Remember adds a freshly imported record to the index.
func (c *Checker) Remember(rec models.ResourceRecord, targetID int) {
	if !c.indexed {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.index == nil {
		return
	}
	rec.ID = targetID
	c.index[rec.Key(c.kind)] = rec
}
