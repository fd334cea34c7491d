// Package options holds option values tagged with the rank of the source
// that supplied them. A value can only be replaced by one of equal or higher
// rank, so a flag beats an environment variable, which beats a config file.
package options

import (
	"fmt"
	"maps"
	"slices"
)

// Rank orders the sources an option value can come from.
type Rank int

const (
	None Rank = iota
	Hardcoded
	ConfigDefault
	Config
	Environment
	Flag
)

var rankNames = map[Rank]string{
	None:          "none",
	Hardcoded:     "hardcoded",
	ConfigDefault: "config-default",
	Config:        "config",
	Environment:   "environment",
	Flag:          "flag",
}

func (r Rank) String() string {
	if s, ok := rankNames[r]; ok {
		return s
	}
	return fmt.Sprintf("rank(%d)", int(r))
}

// Ranked is a value together with the rank of its source.
type Ranked struct {
	Value any
	Rank  Rank
}

// Container maps option names to ranked values. The zero value is ready to
// use. It is not safe for concurrent mutation.
type Container struct {
	values map[string]Ranked
}

// New returns an empty Container.
func New() *Container {
	return &Container{values: make(map[string]Ranked)}
}

// Set stores v under key unless the existing value outranks it. On equal
// rank the later value wins.
func (c *Container) Set(key string, v Ranked) {
	if c.values == nil {
		c.values = make(map[string]Ranked)
	}
	if existing, ok := c.values[key]; ok && existing.Rank > v.Rank {
		return
	}
	c.values[key] = v
}

// Get returns the value stored under key.
func (c *Container) Get(key string) (any, bool) {
	v, ok := c.values[key]
	return v.Value, ok
}

// GetRank returns the rank of the value under key, or None if it is unset.
func (c *Container) GetRank(key string) Rank {
	return c.values[key].Rank
}

// IsFlagged reports whether the value under key came from a command-line flag.
func (c *Container) IsFlagged(key string) bool {
	return c.GetRank(key) == Flag
}

// IsDefault reports whether the user left key unset.
func (c *Container) IsDefault(key string) bool {
	r := c.GetRank(key)
	return r == None || r == Hardcoded
}

// ExplicitKeys returns the sorted keys set from a config file, the
// environment or a flag.
func (c *Container) ExplicitKeys() []string {
	var out []string
	for k, v := range c.values {
		if v.Rank > ConfigDefault {
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return out
}

// Update applies every value of other onto c.
func (c *Container) Update(other *Container) {
	for _, k := range other.Keys() {
		c.Set(k, other.values[k])
	}
}

// Keys returns all option names in lexicographical order.
func (c *Container) Keys() []string {
	return slices.Sorted(maps.Keys(c.values))
}

// Copy returns a container with its own value map.
func (c *Container) Copy() *Container {
	return &Container{values: maps.Clone(c.values)}
}

// AsMap returns the plain values keyed by option name.
func (c *Container) AsMap() map[string]any {
	out := make(map[string]any, len(c.values))
	for k, v := range c.values {
		out[k] = v.Value
	}
	return out
}

// Merge returns a new container holding a updated with b.
func Merge(a, b *Container) *Container {
	out := a.Copy()
	if out.values == nil {
		out.values = make(map[string]Ranked)
	}
	out.Update(b)
	return out
}
