// Package dedup decides which extracted entities denote the same real-world
// thing. It never reconciles fields; that is the merge stage's job.
package dedup

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"canon/internal/entity"
	"canon/internal/platform/metrics"
	"canon/pkg/platform/hashing"
	pkgstrings "canon/pkg/platform/strings"
)

// Tier names the rule that linked two entities.
type Tier string

const (
	TierExternalID  Tier = "external_id"
	TierProximity   Tier = "proximity"
	TierFingerprint Tier = "fingerprint"
)

// Defaults for the proximity tier. Both are tunable through Config.
const (
	DefaultRadiusMeters   = 75.0
	DefaultNameSimilarity = 0.85
)

// Config holds the proximity thresholds.
type Config struct {
	RadiusMeters   float64
	NameSimilarity float64
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{RadiusMeters: DefaultRadiusMeters, NameSimilarity: DefaultNameSimilarity}
}

// Validate checks the thresholds are usable.
func (c Config) Validate() error {
	var errs []error
	if c.RadiusMeters <= 0 {
		errs = append(errs, fmt.Errorf("dedup radius must be positive, got %v", c.RadiusMeters))
	}
	if c.NameSimilarity <= 0 || c.NameSimilarity > 1 {
		errs = append(errs, fmt.Errorf("dedup name similarity must be in (0, 1], got %v", c.NameSimilarity))
	}
	return errors.Join(errs...)
}

// Link records why two entities were grouped.
type Link struct {
	A    string `json:"a"`
	B    string `json:"b"`
	Tier Tier   `json:"tier"`
}

// Group is a cluster of extracted entity ids believed to be one entity.
// EntityIDs are sorted and ID is the first of them.
type Group struct {
	ID        string   `json:"id"`
	EntityIDs []string `json:"entity_ids"`
	Links     []Link   `json:"links,omitempty"`
}

// Grouper clusters extracted entities.
type Grouper struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures a Grouper.
type Option func(*Grouper)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Grouper) {
		g.logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Grouper) {
		g.metrics = m
	}
}

// New creates a grouper.
func New(cfg Config, opts ...Option) (*Grouper, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	g := &Grouper{cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Group clusters entities. The result does not depend on input order:
// groups are sorted by id and every group's members are sorted. Entities
// with a repeated id are counted once.
func (g *Grouper) Group(entities []entity.ExtractedEntity) []Group {
	byID := make(map[string]entity.ExtractedEntity, len(entities))
	for _, e := range entities {
		if _, seen := byID[e.ID]; !seen {
			byID[e.ID] = e
		}
	}
	ids := slices.Sorted(maps.Keys(byID))
	keys := make([]matchKeys, len(ids))
	for i, id := range ids {
		keys[i] = newMatchKeys(byID[id])
	}

	uf := newUnionFind(ids)
	links := map[string][]Link{}
	var pending []Link
	for i := range ids {
		for j := i + 1; j < len(ids); j++ {
			tier, ok := g.match(keys[i], keys[j])
			if !ok {
				continue
			}
			uf.union(ids[i], ids[j])
			pending = append(pending, Link{A: ids[i], B: ids[j], Tier: tier})
			g.metrics.IncrementDedupMatch(string(tier))
			g.logger.Debug("entities linked", "a", ids[i], "b", ids[j], "tier", tier)
		}
	}
	for _, l := range pending {
		root := uf.find(l.A)
		links[root] = append(links[root], l)
	}

	members := map[string][]string{}
	for _, id := range ids {
		root := uf.find(id)
		members[root] = append(members[root], id)
	}
	groups := make([]Group, 0, len(members))
	for _, root := range slices.Sorted(maps.Keys(members)) {
		groups = append(groups, Group{ID: root, EntityIDs: members[root], Links: links[root]})
	}
	return groups
}

// match runs the tiers in order and returns the first that links a and b.
func (g *Grouper) match(a, b matchKeys) (Tier, bool) {
	for ref := range a.external {
		if _, ok := b.external[ref]; ok {
			return TierExternalID, true
		}
	}
	if a.coords != nil && b.coords != nil && a.name != "" && b.name != "" {
		d := distanceMeters(a.coords.Latitude, a.coords.Longitude, b.coords.Latitude, b.coords.Longitude)
		if d <= g.cfg.RadiusMeters && similarity(a.name, b.name) >= g.cfg.NameSimilarity {
			return TierProximity, true
		}
	}
	if a.fingerprint != "" && a.fingerprint == b.fingerprint {
		return TierFingerprint, true
	}
	return "", false
}

type matchKeys struct {
	external    map[string]struct{}
	coords      *entity.Coordinates
	name        string
	fingerprint string
}

func newMatchKeys(e entity.ExtractedEntity) matchKeys {
	k := matchKeys{
		external: make(map[string]struct{}, len(e.ExternalIDs)),
		coords:   e.Coordinates,
		name:     pkgstrings.FoldName(e.Name),
	}
	for ns, v := range e.ExternalIDs {
		if v != "" {
			k.external[ns+"\x1f"+v] = struct{}{}
		}
	}
	if locality := pkgstrings.FoldName(e.Locality()); k.name != "" && locality != "" {
		k.fingerprint = Fingerprint(k.name, locality)
	}
	return k
}

// Fingerprint hashes a folded name and locality.
func Fingerprint(foldedName, foldedLocality string) string {
	return hashing.Strings(foldedName, foldedLocality)
}

// unionFind keeps the lexicographically smallest id as each set's root.
type unionFind struct {
	parent map[string]string
}

func newUnionFind(ids []string) *unionFind {
	uf := &unionFind{parent: make(map[string]string, len(ids))}
	for _, id := range ids {
		uf.parent[id] = id
	}
	return uf
}

func (u *unionFind) find(id string) string {
	root := id
	for u.parent[root] != root {
		root = u.parent[root]
	}
	for u.parent[id] != root {
		next := u.parent[id]
		u.parent[id] = root
		id = next
	}
	return root
}

func (u *unionFind) union(a, b string) {
	ra, rb := u.find(a), u.find(b)
	switch {
	case ra == rb:
		return
	case ra < rb:
		u.parent[rb] = ra
	default:
		u.parent[ra] = rb
	}
}
