// Cascade registry: secondary-ingredient declarations (`X: Y` outside a
// rule context, typically from #include-cooked files) populate a
// registry mapping target name to ingredient edges; cascade_find unions
// the registered edges for every file already in an ingredient set
// (spec.md §4.10).

package main

import "sync"

// CascadeEdge is one registered ingredient with the position of its
// declaring cookbook (used by the file-pair check, filepair.go).
type CascadeEdge struct {
	Ingredient string
	Pos        Position
}

// CascadeRegistry is master-only, built up as cascade-only recipes are
// registered during cookbook parsing.
type CascadeRegistry struct {
	mu      sync.Mutex
	byTarget map[string][]CascadeEdge
}

func NewCascadeRegistry() *CascadeRegistry {
	return &CascadeRegistry{byTarget: make(map[string][]CascadeEdge)}
}

// Register adds ingredient as a cascade edge of target.
func (c *CascadeRegistry) Register(target, ingredient string, pos Position) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byTarget[target] = append(c.byTarget[target], CascadeEdge{Ingredient: ingredient, Pos: pos})
}

// Find returns the union of cascade edges for every file already present
// in need (spec.md §4.10 "cascade_find").
func (c *CascadeRegistry) Find(need []string) []CascadeEdge {
	c.mu.Lock()
	defer c.mu.Unlock()
	seen := make(map[string]bool)
	var out []CascadeEdge
	for _, n := range need {
		for _, e := range c.byTarget[n] {
			key := e.Ingredient
			if !seen[key] {
				seen[key] = true
				out = append(out, e)
			}
		}
	}
	return out
}
