package merge

import (
	"math"
	"net/mail"
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"

	"canon/internal/entity"
)

// criterion scores an option; the highest score survives. applies, when
// set, decides whether the criterion can rank the remaining options at all.
type criterion[T any] struct {
	reason  Reason
	score   func(T) float64
	applies func([]T) bool
}

// choose narrows options criterion by criterion and returns the survivor
// with the criterion that isolated it. Options must arrive in rank order,
// so a tie that outlasts every criterion goes to the first, which is the
// lexicographically smallest connector id among equals.
func choose[T any](options []T, criteria []criterion[T]) (T, Reason) {
	if len(options) == 1 {
		return options[0], ReasonOnlyCandidate
	}
	set := options
	for _, cr := range criteria {
		if cr.applies != nil && !cr.applies(set) {
			continue
		}
		best := math.Inf(-1)
		for _, o := range set {
			best = math.Max(best, cr.score(o))
		}
		kept := make([]T, 0, len(set))
		for _, o := range set {
			if cr.score(o) == best {
				kept = append(kept, o)
			}
		}
		if len(kept) == 1 {
			return kept[0], cr.reason
		}
		set = kept
	}
	return set[0], ReasonSourceID
}

func byTrust() criterion[*candidate] {
	return criterion[*candidate]{reason: ReasonTrust, score: func(c *candidate) float64 { return float64(c.trust) }}
}

func byPriority() criterion[*candidate] {
	return criterion[*candidate]{reason: ReasonPriority, score: func(c *candidate) float64 { return float64(c.priority) }}
}

// builder decides each field group over ranked candidates and keeps the
// trace.
type builder struct {
	cands     []*candidate
	decisions []Decision
}

func (b *builder) record(field string, winner *candidate, candidates int, reason Reason) {
	d := Decision{Field: field, Candidates: candidates, Reason: reason}
	if winner != nil {
		d.Winner = winner.source
		d.EntityID = winner.id
	}
	b.decisions = append(b.decisions, d)
}

// with returns the candidates for which has reports a value, in rank order.
func (b *builder) with(has func(*candidate) bool) []*candidate {
	out := make([]*candidate, 0, len(b.cands))
	for _, c := range b.cands {
		if has(c) {
			out = append(out, c)
		}
	}
	return out
}

// text picks an identity or display string: trust, then the fuller value,
// then declared priority.
func (b *builder) text(field string, get func(*candidate) string) string {
	opts := b.with(func(c *candidate) bool { return get(c) != "" })
	if len(opts) == 0 {
		return ""
	}
	winner, reason := choose(opts, []criterion[*candidate]{
		byTrust(),
		{reason: ReasonCompleteness, score: func(c *candidate) float64 { return float64(utf8.RuneCountInString(get(c))) }},
		byPriority(),
	})
	b.record(field, winner, len(opts), reason)
	return get(winner)
}

func (b *builder) class() entity.Class {
	opts := b.with(func(c *candidate) bool { return c.e.Class.IsValid() })
	if len(opts) == 0 {
		return entity.ClassThing
	}
	winner, reason := choose(opts, []criterion[*candidate]{
		byTrust(),
		{reason: ReasonSpecificity, score: func(c *candidate) float64 {
			if c.e.Class == entity.ClassThing {
				return 0
			}
			return 1
		}},
		byPriority(),
	})
	b.record("class", winner, len(opts), reason)
	return winner.e.Class
}

// address is chosen whole so parts from different sources never mix.
func (b *builder) address() entity.Address {
	opts := b.with(func(c *candidate) bool { return !c.e.Entity.Address.IsZero() })
	if len(opts) == 0 {
		return entity.Address{}
	}
	winner, reason := choose(opts, []criterion[*candidate]{
		byTrust(),
		{reason: ReasonCompleteness, score: func(c *candidate) float64 { return float64(c.e.Entity.Address.Filled()) }},
		byPriority(),
	})
	b.record(entity.FieldAddress, winner, len(opts), reason)
	return winner.e.Entity.Address
}

// coordinates are taken from exactly one source and never averaged.
func (b *builder) coordinates() *entity.Coordinates {
	opts := b.with(func(c *candidate) bool { return c.e.Entity.Coordinates != nil })
	if len(opts) == 0 {
		return nil
	}
	winner, reason := choose(opts, []criterion[*candidate]{
		{reason: ReasonPrecision, score: func(c *candidate) float64 {
			if p := c.e.Entity.Coordinates.PrecisionMeters; p != nil {
				return -*p
			}
			return math.Inf(-1)
		}},
		byTrust(),
		{reason: ReasonDecimals, score: func(c *candidate) float64 { return float64(c.e.Entity.Coordinates.Decimals) }},
		byPriority(),
	})
	b.record("coordinates", winner, len(opts), reason)
	coords := *winner.e.Entity.Coordinates
	if coords.PrecisionMeters != nil {
		p := *coords.PrecisionMeters
		coords.PrecisionMeters = &p
	}
	return &coords
}

// contact scores values by their structure first, so a well-formed value
// from a lower tier beats a missing or malformed one from a higher tier.
func (b *builder) contact(field string, get func(*candidate) string, quality func(string) float64) string {
	opts := b.with(func(c *candidate) bool { return strings.TrimSpace(get(c)) != "" })
	if len(opts) == 0 {
		return ""
	}
	winner, reason := choose(opts, []criterion[*candidate]{
		{reason: ReasonContactQuality, score: func(c *candidate) float64 { return quality(get(c)) }},
		byTrust(),
		byPriority(),
	})
	b.record(field, winner, len(opts), reason)
	return strings.TrimSpace(get(winner))
}

func (b *builder) timeRange() *entity.TimeRange {
	opts := b.with(func(c *candidate) bool { return c.e.Entity.TimeRange != nil && !c.e.Entity.TimeRange.IsZero() })
	if len(opts) == 0 {
		return nil
	}
	winner, reason := choose(opts, []criterion[*candidate]{
		byTrust(),
		{reason: ReasonCompleteness, score: func(c *candidate) float64 {
			tr := c.e.Entity.TimeRange
			n := 0.0
			if !tr.Start.IsZero() {
				n++
			}
			if !tr.End.IsZero() {
				n++
			}
			return n
		}},
		byPriority(),
	})
	b.record("time_range", winner, len(opts), reason)
	tr := *winner.e.Entity.TimeRange
	return &tr
}

// dimensions are the union of every member's arrays, never weighted.
func (b *builder) dimensions() entity.Dimensions {
	sets := make([]entity.Dimensions, 0, len(b.cands))
	for _, c := range b.cands {
		sets = append(sets, c.e.Dimensions)
	}
	b.record("dimensions", nil, len(sets), ReasonUnion)
	return entity.Union(sets...)
}

// phoneQuality ranks international format over a bare country code over
// digit count.
func phoneQuality(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	digits := 0
	wellFormed := true
	for _, r := range s {
		switch {
		case unicode.IsDigit(r):
			digits++
		case strings.ContainsRune("+ -().", r):
		default:
			wellFormed = false
		}
	}
	hasCountryCode := strings.HasPrefix(s, "+") || strings.HasPrefix(s, "00")
	international := strings.HasPrefix(s, "+") && strings.Count(s, "+") == 1 &&
		wellFormed && digits >= 8 && digits <= 15

	score := 1 + float64(min(digits, 15))
	if hasCountryCode {
		score += 100
	}
	if international {
		score += 1000
	}
	return score
}

var trackingParams = map[string]bool{"gclid": true, "fbclid": true, "mc_cid": true, "mc_eid": true, "ref": true}

// urlQuality ranks https over path depth over the absence of tracking
// parameters.
func urlQuality(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return 1
	}
	score := 1.0
	if u.Scheme == "https" {
		score += 1000
	}
	depth := 0
	for _, seg := range strings.Split(u.Path, "/") {
		if seg != "" {
			depth++
		}
	}
	score += float64(min(depth, 9) * 10)
	tracked := false
	for key := range u.Query() {
		if strings.HasPrefix(strings.ToLower(key), "utm_") || trackingParams[strings.ToLower(key)] {
			tracked = true
			break
		}
	}
	if !tracked {
		score += 5
	}
	return score
}

func emailQuality(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	addr, err := mail.ParseAddress(s)
	if err != nil {
		return 1
	}
	at := strings.LastIndex(addr.Address, "@")
	if at < 0 || !strings.Contains(addr.Address[at+1:], ".") {
		return 1
	}
	if addr.Name != "" {
		return 5
	}
	return 10
}
