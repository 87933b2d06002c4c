package workflow

import (
	"errors"
	"fmt"
	"slices"
	"sort"
)

// ErrInvalidCatalog is returned when a step-template catalog breaks one of its
// structural invariants.
var ErrInvalidCatalog = errors.New("invalid workflow catalog")

// Stage is a coarse macro-stage used to group templates for progress reporting.
type Stage string

const (
	StageInitiation   Stage = "initiation"
	StageDepartmental Stage = "departmental"
	StageConditional  Stage = "conditional"
	StageFinancial    Stage = "financial"
	StageFinal        Stage = "final"
)

// Stages lists the macro-stages in progress order.
var Stages = []Stage{
	StageInitiation,
	StageDepartmental,
	StageConditional,
	StageFinancial,
	StageFinal,
}

func (s Stage) valid() bool {
	return slices.Contains(Stages, s)
}

// SignatureTag distinguishes templates that cannot be told apart by role.
type SignatureTag string

const (
	TagNone      SignatureTag = ""
	TagVPInitial SignatureTag = "vp_initial"
	TagVPFinal   SignatureTag = "vp_final"
	TagArchive   SignatureTag = "archive"
)

func (t SignatureTag) valid() bool {
	switch t {
	case TagNone, TagVPInitial, TagVPFinal, TagArchive:
		return true
	}
	return false
}

// ParseSignatureTag converts a transport value into a SignatureTag.
func ParseSignatureTag(s string) (SignatureTag, error) {
	t := SignatureTag(s)
	if t == TagNone || !t.valid() {
		return TagNone, fmt.Errorf("unknown signature tag %q", s)
	}
	return t, nil
}

// StepTemplate is the static definition of one review checkpoint.
type StepTemplate struct {
	Order              int          `yaml:"order" json:"order"`
	Stage              Stage        `yaml:"stage" json:"stage"`
	Name               string       `yaml:"name" json:"name"`
	Description        string       `yaml:"description" json:"description,omitempty"`
	AllowedRoles       []string     `yaml:"allowed_roles" json:"allowed_roles"`
	Sequential         bool         `yaml:"sequential" json:"sequential"`
	DependsOn          []int        `yaml:"depends_on" json:"depends_on,omitempty"`
	Interdependent     bool         `yaml:"interdependent" json:"interdependent,omitempty"`
	InterdependentWith []int        `yaml:"interdependent_with" json:"interdependent_with,omitempty"`
	SignatureTag       SignatureTag `yaml:"signature_tag" json:"signature_tag,omitempty"`
}

// Allows reports whether role may act on instances of this template.
func (t StepTemplate) Allows(role string) bool {
	return role != "" && slices.Contains(t.AllowedRoles, role)
}

// Catalog is an immutable, validated set of step templates indexed by order.
type Catalog struct {
	templates []StepTemplate
	byOrder   map[int]int
	byTag     map[SignatureTag]int
	clusters  map[int][]int
}

// NewCatalog validates the templates and returns an immutable catalog.
func NewCatalog(templates []StepTemplate) (*Catalog, error) {
	if len(templates) == 0 {
		return nil, fmt.Errorf("%w: no templates", ErrInvalidCatalog)
	}

	sorted := make([]StepTemplate, len(templates))
	for i, t := range templates {
		sorted[i] = cloneTemplate(t)
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })

	c := &Catalog{
		templates: sorted,
		byOrder:   make(map[int]int, len(sorted)),
		byTag:     make(map[SignatureTag]int),
		clusters:  make(map[int][]int),
	}

	for i, t := range sorted {
		if t.Order <= 0 {
			return nil, fmt.Errorf("%w: template %q has non-positive order %d", ErrInvalidCatalog, t.Name, t.Order)
		}
		if _, dup := c.byOrder[t.Order]; dup {
			return nil, fmt.Errorf("%w: duplicate order %d", ErrInvalidCatalog, t.Order)
		}
		if !t.Stage.valid() {
			return nil, fmt.Errorf("%w: order %d has unknown stage %q", ErrInvalidCatalog, t.Order, t.Stage)
		}
		if len(t.AllowedRoles) == 0 {
			return nil, fmt.Errorf("%w: order %d has no allowed roles", ErrInvalidCatalog, t.Order)
		}
		if !t.SignatureTag.valid() {
			return nil, fmt.Errorf("%w: order %d has unknown signature tag %q", ErrInvalidCatalog, t.Order, t.SignatureTag)
		}
		if t.SignatureTag != TagNone {
			if prev, dup := c.byTag[t.SignatureTag]; dup {
				return nil, fmt.Errorf("%w: tag %q used by orders %d and %d",
					ErrInvalidCatalog, t.SignatureTag, sorted[prev].Order, t.Order)
			}
			c.byTag[t.SignatureTag] = i
		}
		c.byOrder[t.Order] = i
	}

	if err := c.buildClusters(); err != nil {
		return nil, err
	}

	for _, t := range sorted {
		for _, d := range t.DependsOn {
			if _, ok := c.byOrder[d]; !ok {
				return nil, fmt.Errorf("%w: order %d depends on unknown order %d", ErrInvalidCatalog, t.Order, d)
			}
			// A dependency fans out to its whole cluster, so every member must
			// precede the dependent.
			for _, m := range c.ClusterOf(d) {
				if m >= t.Order {
					return nil, fmt.Errorf("%w: order %d depends on order %d which is not earlier",
						ErrInvalidCatalog, t.Order, m)
				}
			}
		}
	}

	return c, nil
}

// MustCatalog is NewCatalog for static catalogs known to be valid.
func MustCatalog(templates []StepTemplate) *Catalog {
	c, err := NewCatalog(templates)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Catalog) buildClusters() error {
	for _, t := range c.templates {
		if !t.Interdependent {
			if len(t.InterdependentWith) > 0 {
				return fmt.Errorf("%w: order %d lists interdependent peers but is not interdependent",
					ErrInvalidCatalog, t.Order)
			}
			continue
		}
		if len(t.InterdependentWith) == 0 {
			return fmt.Errorf("%w: order %d is interdependent without peers", ErrInvalidCatalog, t.Order)
		}
		members := []int{t.Order}
		for _, peer := range t.InterdependentWith {
			idx, ok := c.byOrder[peer]
			if !ok {
				return fmt.Errorf("%w: order %d is interdependent with unknown order %d",
					ErrInvalidCatalog, t.Order, peer)
			}
			pt := c.templates[idx]
			if peer == t.Order || !pt.Interdependent || !slices.Contains(pt.InterdependentWith, t.Order) {
				return fmt.Errorf("%w: interdependency between %d and %d is not symmetric",
					ErrInvalidCatalog, t.Order, peer)
			}
			members = append(members, peer)
		}
		slices.Sort(members)
		members = slices.Compact(members)
		c.clusters[t.Order] = members
	}

	for order, members := range c.clusters {
		for _, m := range members {
			if !slices.Equal(c.clusters[m], members) {
				return fmt.Errorf("%w: orders %d and %d disagree on cluster membership",
					ErrInvalidCatalog, order, m)
			}
		}
	}
	return nil
}

// Templates returns the templates in ascending order.
func (c *Catalog) Templates() []StepTemplate {
	out := make([]StepTemplate, len(c.templates))
	for i, t := range c.templates {
		out[i] = cloneTemplate(t)
	}
	return out
}

// Len returns the number of templates.
func (c *Catalog) Len() int {
	return len(c.templates)
}

// Template returns the template with the given order.
func (c *Catalog) Template(order int) (StepTemplate, bool) {
	idx, ok := c.byOrder[order]
	if !ok {
		return StepTemplate{}, false
	}
	return cloneTemplate(c.templates[idx]), true
}

// TemplateByTag returns the template carrying the given signature tag.
func (c *Catalog) TemplateByTag(tag SignatureTag) (StepTemplate, bool) {
	idx, ok := c.byTag[tag]
	if !ok {
		return StepTemplate{}, false
	}
	return cloneTemplate(c.templates[idx]), true
}

// ClusterOf returns the interdependent cluster containing order, including
// order itself. A template outside any cluster is its own singleton cluster.
func (c *Catalog) ClusterOf(order int) []int {
	if members, ok := c.clusters[order]; ok {
		return members
	}
	return []int{order}
}

func cloneTemplate(t StepTemplate) StepTemplate {
	t.AllowedRoles = slices.Clone(t.AllowedRoles)
	t.DependsOn = slices.Clone(t.DependsOn)
	t.InterdependentWith = slices.Clone(t.InterdependentWith)
	return t
}
