package report

import (
	_ "embed"
	"errors"
	"fmt"
	"slices"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

// Catalog is the validated, read-only set of statuses, transition rules and
// filter results. It is built once and shared between requests.
type Catalog struct {
	statuses []StatusDefinition
	byID     map[int]StatusDefinition
	byCode   map[string]StatusDefinition
	rules    map[[2]int]TransitionRule
	filters  map[FilterCode]FilterResult
	initial  StatusDefinition
	archived StatusDefinition
}

// NewCatalog validates the given definitions and returns a Catalog. It fails
// when pre_evaluation or archived is missing, a rule references an unknown
// status, a status cannot be reached from pre_evaluation, or a filter code is
// missing or has no rule out of pre_evaluation.
func NewCatalog(statuses []StatusDefinition, rules []TransitionRule, filters []FilterResult) (*Catalog, error) {
	c := &Catalog{
		byID:    make(map[int]StatusDefinition, len(statuses)),
		byCode:  make(map[string]StatusDefinition, len(statuses)),
		rules:   make(map[[2]int]TransitionRule, len(rules)),
		filters: make(map[FilterCode]FilterResult, len(filters)),
	}

	var errs []error
	for _, s := range statuses {
		if s.Code == "" {
			errs = append(errs, fmt.Errorf("status %d has no code", s.ID))
			continue
		}
		if _, dup := c.byID[s.ID]; dup {
			errs = append(errs, fmt.Errorf("duplicate status id %d", s.ID))
			continue
		}
		if _, dup := c.byCode[s.Code]; dup {
			errs = append(errs, fmt.Errorf("duplicate status code %q", s.Code))
			continue
		}
		c.byID[s.ID] = s
		c.byCode[s.Code] = s
		c.statuses = append(c.statuses, s)
	}
	slices.SortStableFunc(c.statuses, func(a, b StatusDefinition) int {
		if a.DisplayOrder != b.DisplayOrder {
			return a.DisplayOrder - b.DisplayOrder
		}
		return a.ID - b.ID
	})

	var ok bool
	if c.initial, ok = c.byCode[StatusPreEvaluation]; !ok {
		errs = append(errs, fmt.Errorf("status %q is missing", StatusPreEvaluation))
	}
	if c.archived, ok = c.byCode[StatusArchived]; !ok {
		errs = append(errs, fmt.Errorf("status %q is missing", StatusArchived))
	}

	for _, r := range rules {
		_, fromOK := c.byID[r.FromStatusID]
		_, toOK := c.byID[r.ToStatusID]
		if !fromOK || !toOK {
			errs = append(errs, fmt.Errorf("rule %d -> %d references an unknown status", r.FromStatusID, r.ToStatusID))
			continue
		}
		c.rules[[2]int{r.FromStatusID, r.ToStatusID}] = r
	}

	for _, f := range filters {
		if _, known := filterTargets[f.Code]; !known {
			errs = append(errs, fmt.Errorf("unknown filter code %q", f.Code))
			continue
		}
		c.filters[f.Code] = f
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	for code, target := range filterTargets {
		if _, ok := c.filters[code]; !ok {
			errs = append(errs, fmt.Errorf("filter result %q is missing", code))
		}
		to, ok := c.byCode[target]
		if !ok {
			errs = append(errs, fmt.Errorf("filter result %q targets unknown status %q", code, target))
			continue
		}
		if _, ok := c.Rule(c.initial.ID, to.ID); !ok {
			errs = append(errs, fmt.Errorf("filter result %q needs a rule %s -> %s", code, StatusPreEvaluation, target))
		}
	}

	for _, s := range c.unreachable() {
		errs = append(errs, fmt.Errorf("status %q is unreachable from %s", s.Code, StatusPreEvaluation))
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return c, nil
}

func (c *Catalog) unreachable() []StatusDefinition {
	seen := map[int]bool{c.initial.ID: true}
	queue := []int{c.initial.ID}
	for len(queue) > 0 {
		from := queue[0]
		queue = queue[1:]
		for key := range c.rules {
			if key[0] == from && !seen[key[1]] {
				seen[key[1]] = true
				queue = append(queue, key[1])
			}
		}
	}

	var out []StatusDefinition
	for _, s := range c.statuses {
		if !seen[s.ID] {
			out = append(out, s)
		}
	}
	return out
}

// Initial returns the status every report starts in.
func (c *Catalog) Initial() StatusDefinition { return c.initial }

// StatusByCode looks up a status by its stable code.
func (c *Catalog) StatusByCode(code string) (StatusDefinition, bool) {
	s, ok := c.byCode[code]
	return s, ok
}

// StatusByID looks up a status by id.
func (c *Catalog) StatusByID(id int) (StatusDefinition, bool) {
	s, ok := c.byID[id]
	return s, ok
}

// Statuses returns the statuses in display order.
func (c *Catalog) Statuses() []StatusDefinition {
	return slices.Clone(c.statuses)
}

// Rule returns the transition rule from -> to, if the move is allowed.
func (c *Catalog) Rule(from, to int) (TransitionRule, bool) {
	r, ok := c.rules[[2]int{from, to}]
	return r, ok
}

// Rules returns every rule ordered by the display order of its endpoints.
func (c *Catalog) Rules() []TransitionRule {
	out := make([]TransitionRule, 0, len(c.rules))
	for _, r := range c.rules {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b TransitionRule) int {
		if d := c.byID[a.FromStatusID].DisplayOrder - c.byID[b.FromStatusID].DisplayOrder; d != 0 {
			return d
		}
		return c.byID[a.ToStatusID].DisplayOrder - c.byID[b.ToStatusID].DisplayOrder
	})
	return out
}

// Terminal reports whether no rule leaves the status.
func (c *Catalog) Terminal(id int) bool {
	for key := range c.rules {
		if key[0] == id {
			return false
		}
	}
	return true
}

// FilterResult returns the catalog entry for a filter code.
func (c *Catalog) FilterResult(code FilterCode) (FilterResult, bool) {
	f, ok := c.filters[code]
	return f, ok
}

// FilterResultByID looks up a filter result by id.
func (c *Catalog) FilterResultByID(id int) (FilterResult, bool) {
	for _, f := range c.filters {
		if f.ID == id {
			return f, true
		}
	}
	return FilterResult{}, false
}

// FilterResults returns all filter results ordered by id.
func (c *Catalog) FilterResults() []FilterResult {
	out := make([]FilterResult, 0, len(c.filters))
	for _, f := range c.filters {
		out = append(out, f)
	}
	slices.SortFunc(out, func(a, b FilterResult) int { return a.ID - b.ID })
	return out
}

// FilterTarget returns the status a filter code moves a report to.
func (c *Catalog) FilterTarget(code FilterCode) (StatusDefinition, bool) {
	target, ok := filterTargets[code]
	if !ok {
		return StatusDefinition{}, false
	}
	return c.StatusByCode(target)
}

type catalogFile struct {
	Statuses    []StatusDefinition `yaml:"statuses"`
	Transitions []struct {
		From            string `yaml:"from"`
		To              string `yaml:"to"`
		RequiresComment bool   `yaml:"requires_comment"`
		RequiresAction  bool   `yaml:"requires_action"`
	} `yaml:"transitions"`
	FilterResults []FilterResult `yaml:"filter_results"`
}

// ParseCatalog builds a Catalog from its YAML form. Transitions reference
// statuses by code.
func ParseCatalog(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	ids := make(map[string]int, len(f.Statuses))
	for _, s := range f.Statuses {
		ids[s.Code] = s.ID
	}

	rules := make([]TransitionRule, 0, len(f.Transitions))
	for _, t := range f.Transitions {
		from, ok := ids[t.From]
		if !ok {
			return nil, fmt.Errorf("parse catalog: transition from unknown status %q", t.From)
		}
		to, ok := ids[t.To]
		if !ok {
			return nil, fmt.Errorf("parse catalog: transition to unknown status %q", t.To)
		}
		rules = append(rules, TransitionRule{
			FromStatusID:    from,
			ToStatusID:      to,
			RequiresComment: t.RequiresComment,
			RequiresAction:  t.RequiresAction,
		})
	}

	return NewCatalog(f.Statuses, rules, f.FilterResults)
}

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() *Catalog {
	c, err := ParseCatalog(defaultCatalogYAML)
	if err != nil {
		panic(fmt.Sprintf("built-in catalog is invalid: %v", err))
	}
	return c
}
