package extract

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/yairfalse/reclaim/internal/fieldpath"
)

//go:embed mapping/aws.yaml
var awsMapping []byte

const (
	defaultIdentifier = "id"
	defaultCreated    = "create_date"
)

// baselineProperties are copied for every rule in addition to its own list.
var baselineProperties = []string{"Tags", "State", "Description"}

// Iterator modes.
const (
	ModeAll    = "all"
	ModeFilter = "filter"
	ModeOwner  = "owner"
)

// RuleSet maps a service name to its extraction rules.
type RuleSet map[string]Service

// Service groups the rules of one provider service.
type Service struct {
	Regional    *bool           `yaml:"regional"`
	Collections map[string]Rule `yaml:"collections"`
	Paginators  map[string]Rule `yaml:"paginators"`
}

// IsRegional reports whether the service is enumerated in every region.
// Services are regional unless declared otherwise.
func (s Service) IsRegional() bool {
	return s.Regional == nil || *s.Regional
}

// Rule describes how raw items of one collection become resources.
type Rule struct {
	Type         string               `yaml:"type"`
	Identifier   string               `yaml:"identifier"`
	Created      string               `yaml:"created"`
	Properties   []string             `yaml:"properties"`
	Iterator     Iterator             `yaml:"iterator"`
	ResourcesKey string               `yaml:"resources_key"`
	Used         *Predicate           `yaml:"used"`
	Cleanup      *Predicate           `yaml:"cleanup"`
	References   map[string]Reference `yaml:"references"`
}

// IdentifierPath returns the identifier path, defaulting to "id".
func (r Rule) IdentifierPath() string {
	if r.Identifier == "" {
		return defaultIdentifier
	}
	return r.Identifier
}

// CreatedPath returns the creation timestamp path, defaulting to "create_date".
func (r Rule) CreatedPath() string {
	if r.Created == "" {
		return defaultCreated
	}
	return r.Created
}

// PropertyPaths returns the baseline properties followed by the rule's own,
// without duplicates.
func (r Rule) PropertyPaths() []string {
	out := slices.Clone(baselineProperties)
	for _, p := range r.Properties {
		if !slices.Contains(out, p) {
			out = append(out, p)
		}
	}
	return out
}

// ReferenceFields returns the reference field names in sorted order.
func (r Rule) ReferenceFields() []string {
	fields := make([]string, 0, len(r.References))
	for f := range r.References {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

// Validate checks the rule can run at all.
func (r Rule) Validate(style Style) error {
	var errs []error

	if r.Type == "" {
		errs = append(errs, errors.New("type is required"))
	}

	paths := []string{r.IdentifierPath(), r.CreatedPath()}
	paths = append(paths, r.Properties...)
	for _, p := range []*Predicate{r.Used, r.Cleanup} {
		if p != nil {
			paths = append(paths, p.Path)
		}
	}
	for field, ref := range r.References {
		paths = append(paths, field, ref.IdentifierPath())
		if ref.ReferencePath != "" {
			paths = append(paths, ref.ReferencePath)
		}
	}
	for _, p := range paths {
		if _, err := fieldpath.Split(p); err != nil {
			errs = append(errs, err)
		}
	}

	switch r.Iterator.Mode() {
	case ModeAll:
	case ModeFilter:
		if len(r.Iterator.Filters) == 0 {
			errs = append(errs, errors.New("filter iterator needs at least one filter"))
		}
	case ModeOwner:
		if len(r.Iterator.Owners) == 0 {
			errs = append(errs, errors.New("owner iterator needs at least one owner"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported iterator mode %q", r.Iterator.Mode()))
	}

	if style == StylePaginator && r.ResourcesKey == "" {
		errs = append(errs, errors.New("paginator rule needs resources_key"))
	}

	return errors.Join(errs...)
}

// Reference describes how one field of an item points at other resources.
type Reference struct {
	Type          string `yaml:"type"`
	Identifier    string `yaml:"identifier"`
	ReferencePath string `yaml:"reference_path"`
	IgnoreMissing bool   `yaml:"ignore_missing"`
	Dependency    *bool  `yaml:"dependency"`
	Reverse       bool   `yaml:"reverse"`
	Global        bool   `yaml:"global"` // target ids carry no region prefix
}

// IdentifierPath returns the identifier path, defaulting to "id".
func (r Reference) IdentifierPath() string {
	if r.Identifier == "" {
		return defaultIdentifier
	}
	return r.Identifier
}

// IsDependency reports whether the relation protects its target.
func (r Reference) IsDependency() bool {
	return r.Dependency == nil || *r.Dependency
}

// Predicate evaluates an item's lifecycle state against a list of values.
type Predicate struct {
	Path  string   `yaml:"path"`
	In    []string `yaml:"in"`
	NotIn []string `yaml:"not_in"`
}

// Eval returns def when p is nil, the state is absent or no list is set.
func (p *Predicate) Eval(item any, def bool) bool {
	if p == nil {
		return def
	}
	s := scalarString(fieldpath.GetOr(item, p.Path, nil))
	if s == "" {
		return def
	}
	switch {
	case len(p.In) > 0:
		return slices.Contains(p.In, s)
	case len(p.NotIn) > 0:
		return !slices.Contains(p.NotIn, s)
	}
	return def
}

// Iterator selects how a collection is enumerated: "all", a filtered
// enumeration or an owner-restricted one.
//
//	iterator: all
//	iterator: {filter: {instance-state-name: [running]}}
//	iterator: {owner: [self]}
type Iterator struct {
	Type    string
	Filters map[string][]string
	Owners  []string
}

// Mode returns the iterator mode; an unset iterator means "all".
func (it Iterator) Mode() string {
	if it.Type == "" {
		return ModeAll
	}
	return it.Type
}

// UnmarshalYAML accepts a bare mode name or a single-key mapping.
// Unknown modes are kept and rejected by Rule.Validate so that one bad
// rule does not invalidate the whole document.
func (it *Iterator) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		it.Type = node.Value
		return nil
	case yaml.MappingNode:
		var raw map[string]yaml.Node
		if err := node.Decode(&raw); err != nil {
			return err
		}
		modes := make([]string, 0, len(raw))
		for mode := range raw {
			modes = append(modes, mode)
		}
		sort.Strings(modes)
		it.Type = strings.Join(modes, "+")
		if len(raw) != 1 {
			return nil
		}
		args := raw[modes[0]]
		switch modes[0] {
		case ModeFilter:
			if err := args.Decode(&it.Filters); err != nil {
				return fmt.Errorf("iterator filter: %w", err)
			}
		case ModeOwner:
			if err := args.Decode(&it.Owners); err != nil {
				return fmt.Errorf("iterator owner: %w", err)
			}
		}
		return nil
	}
	return fmt.Errorf("iterator: unexpected yaml node at line %d", node.Line)
}

// DefaultRuleSet returns the built-in AWS mapping.
func DefaultRuleSet() (RuleSet, error) {
	return ParseRuleSet(awsMapping)
}

// LoadRuleSet reads a rule-set document from disk.
func LoadRuleSet(path string) (RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule set: %w", err)
	}
	return ParseRuleSet(data)
}

// ParseRuleSet decodes a YAML rule-set document.
func ParseRuleSet(data []byte) (RuleSet, error) {
	var rules RuleSet
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("parse rule set: %w", err)
	}
	if rules == nil {
		rules = RuleSet{}
	}
	return rules, nil
}

// Services returns the service names in sorted order.
func (rs RuleSet) Services() []string {
	names := make([]string, 0, len(rs))
	for name := range rs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Kinds returns every resource kind the rule set can produce.
func (rs RuleSet) Kinds() []string {
	seen := map[string]bool{}
	for _, svc := range rs {
		for _, rules := range []map[string]Rule{svc.Collections, svc.Paginators} {
			for _, r := range rules {
				if r.Type != "" {
					seen[r.Type] = true
				}
			}
		}
	}
	kinds := make([]string, 0, len(seen))
	for k := range seen {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
