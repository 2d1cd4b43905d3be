// Package dedup collapses perceptually equivalent tokens. Duplicate groups
// are connected components over the pairwise is-duplicate relation, never
// first-match-wins absorption, so the merged output is identical no matter
// what order extractor results arrive in.
package dedup

import (
	"math"
	"sort"

	"tokenforge/pkg/logx"
	"tokenforge/pkg/provenance"
	"tokenforge/pkg/token"
)

// DefaultThreshold is the distance at or below which two tokens are
// duplicates. 2.0 sits at the just-noticeable-difference point of the
// 0-100 scale the built-in metrics share.
const DefaultThreshold = 2.0

// DistanceFunc computes the perceptual distance between two tokens of the
// same subtype on a 0-100 scale.
type DistanceFunc func(a, b *token.Token) (float64, error)

// Metric pairs a distance function with its duplicate threshold.
type Metric struct {
	Distance  DistanceFunc
	Threshold float64
}

// Deduplicator merges near-identical tokens per category. Safe for
// concurrent use; all state is set at construction.
type Deduplicator struct {
	metrics  map[token.Type]Metric
	fallback Metric
	logger   *logx.Logger
}

// Option customizes a Deduplicator.
type Option func(*Deduplicator)

// WithMetric overrides the metric for one token category.
func WithMetric(typ token.Type, m Metric) Option {
	return func(d *Deduplicator) {
		if m.Threshold <= 0 {
			m.Threshold = DefaultThreshold
		}
		d.metrics[typ] = m
	}
}

// WithThreshold overrides just the threshold for one token category.
func WithThreshold(typ token.Type, threshold float64) Option {
	return func(d *Deduplicator) {
		m := d.metrics[typ]
		if m.Distance == nil {
			m = d.fallback
		}
		m.Threshold = threshold
		d.metrics[typ] = m
	}
}

// New creates a Deduplicator with the built-in metrics, customized by opts.
func New(opts ...Option) *Deduplicator {
	d := &Deduplicator{
		metrics: map[token.Type]Metric{
			token.TypeColor:      {Distance: RGBDistance, Threshold: DefaultThreshold},
			token.TypeSpacing:    {Distance: PixelDistance, Threshold: DefaultThreshold},
			token.TypeTypography: {Distance: TypographyDistance, Threshold: DefaultThreshold},
			token.TypeShadow:     {Distance: ShadowDistance, Threshold: DefaultThreshold},
		},
		fallback: Metric{Distance: ExactDistance, Threshold: DefaultThreshold},
		logger:   logx.NewLogger("dedup"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Merge collapses duplicates within each subtype group. Input tokens are
// never mutated; merged representatives are clones. The output is sorted by
// confidence descending with ID tie-breaks, and is invariant under
// permutation of the input.
func (d *Deduplicator) Merge(tokens []*token.Token) []*token.Token {
	groups := make(map[string][]*token.Token)
	for _, t := range tokens {
		key := t.Subtype()
		groups[key] = append(groups[key], t)
	}

	merged := make([]*token.Token, 0, len(tokens))
	for _, group := range groups {
		merged = append(merged, d.mergeGroup(group)...)
	}

	token.SortStable(merged)
	return merged
}

func (d *Deduplicator) mergeGroup(group []*token.Token) []*token.Token {
	if len(group) == 1 {
		return []*token.Token{group[0].Clone()}
	}

	// Canonical in-group order makes component walks deterministic. The
	// components themselves are a set property and don't depend on it.
	sort.Slice(group, func(i, j int) bool {
		if group[i].Confidence != group[j].Confidence {
			return group[i].Confidence > group[j].Confidence
		}
		return group[i].ID < group[j].ID
	})

	metric := d.metricFor(group[0].Type)
	dsu := newUnionFind(len(group))
	for i := 0; i < len(group); i++ {
		for j := i + 1; j < len(group); j++ {
			dist, err := metric.Distance(group[i], group[j])
			if err != nil {
				d.logger.Debug("distance %s vs %s unavailable: %v", group[i].ID, group[j].ID, err)
				dist = math.Inf(1)
			}
			if dist <= metric.Threshold {
				dsu.union(i, j)
			}
		}
	}

	components := make(map[int][]*token.Token)
	for i, t := range group {
		root := dsu.find(i)
		components[root] = append(components[root], t)
	}

	out := make([]*token.Token, 0, len(components))
	for _, members := range components {
		out = append(out, mergeComponent(members))
	}
	return out
}

// mergeComponent folds one duplicate group into its representative: the
// highest-confidence member keeps its descriptive attributes and
// confidence; provenance is unioned across every member.
func mergeComponent(members []*token.Token) *token.Token {
	best := members[0]
	for _, m := range members[1:] {
		if m.Confidence > best.Confidence ||
			(m.Confidence == best.Confidence && m.ID < best.ID) {
			best = m
		}
	}

	rep := best.Clone()
	for _, m := range members {
		if m == best {
			continue
		}
		rep.Provenance = provenance.Merge(rep.Provenance, m.Provenance)
	}
	return rep
}

func (d *Deduplicator) metricFor(typ token.Type) Metric {
	if m, ok := d.metrics[typ]; ok && m.Distance != nil {
		return m
	}
	return d.fallback
}

// unionFind is a small disjoint-set over indices with path compression.
type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	return &unionFind{parent: parent}
}

func (u *unionFind) find(i int) int {
	for u.parent[i] != i {
		u.parent[i] = u.parent[u.parent[i]]
		i = u.parent[i]
	}
	return i
}

func (u *unionFind) union(i, j int) {
	ri, rj := u.find(i), u.find(j)
	if ri == rj {
		return
	}
	// Smaller root wins so the structure is independent of union order.
	if rj < ri {
		ri, rj = rj, ri
	}
	u.parent[rj] = ri
}
