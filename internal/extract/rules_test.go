package extract

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRuleSet_Valid(t *testing.T) {
	rules, err := DefaultRuleSet()
	require.NoError(t, err)

	for _, service := range []string{
		"ec2", "autoscaling", "elbv2", "rds", "lambda", "s3", "iam", "eks", "ecs", "dynamodb",
		"sqs", "route53", "logs", "kms", "ecr", "memorydb", "redshift", "cloudtrail",
	} {
		assert.Contains(t, rules, service)
	}

	for name, svc := range rules {
		for rule, r := range svc.Collections {
			assert.NoError(t, r.Validate(StyleCollection), "%s/%s", name, rule)
		}
		for rule, r := range svc.Paginators {
			assert.NoError(t, r.Validate(StylePaginator), "%s/%s", name, rule)
		}
	}

	assert.False(t, rules["s3"].IsRegional())
	assert.False(t, rules["iam"].IsRegional())
	assert.True(t, rules["ec2"].IsRegional())
	assert.Contains(t, rules.Kinds(), "aws.ec2.instance")
}

func TestDefaultRuleSet_InstanceRule(t *testing.T) {
	rules, err := DefaultRuleSet()
	require.NoError(t, err)

	instances := rules["ec2"].Collections["instances"]
	assert.Equal(t, "aws.ec2.instance", instances.Type)
	assert.Equal(t, "InstanceId", instances.IdentifierPath())
	assert.False(t, instances.References["ImageId"].IsDependency())
	assert.True(t, instances.References["SecurityGroups"].IsDependency())

	snapshots := rules["ec2"].Collections["snapshots"]
	assert.Equal(t, ModeOwner, snapshots.Iterator.Mode())
	assert.Equal(t, []string{"self"}, snapshots.Iterator.Owners)
}

func TestParseRuleSet_Iterator(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		mode    string
		filters map[string][]string
		owners  []string
	}{
		{"unset", "{}", ModeAll, nil, nil},
		{"scalar", "{iterator: all}", ModeAll, nil, nil},
		{"filter", "{iterator: {filter: {owner-id: [self]}}}", ModeFilter, map[string][]string{"owner-id": {"self"}}, nil},
		{"owner", "{iterator: {owner: [self, '123456789012']}}", ModeOwner, nil, []string{"self", "123456789012"}},
		{"unknown", "{iterator: {sideways: {}}}", "sideways", nil, nil},
		{"two modes", "{iterator: {filter: {a: [b]}, owner: [self]}}", "filter+owner", nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rules, err := ParseRuleSet([]byte("svc: {collections: {c: " + tt.yaml + "}}"))
			require.NoError(t, err)

			it := rules["svc"].Collections["c"].Iterator
			assert.Equal(t, tt.mode, it.Mode())
			assert.Equal(t, tt.filters, it.Filters)
			assert.Equal(t, tt.owners, it.Owners)
		})
	}
}

func TestParseRuleSet_Invalid(t *testing.T) {
	_, err := ParseRuleSet([]byte("ec2: [not, a, service]"))
	assert.Error(t, err)

	rules, err := ParseRuleSet(nil)
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestLoadRuleSet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(instanceRules), 0o600))

	rules, err := LoadRuleSet(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"ec2"}, rules.Services())

	_, err = LoadRuleSet(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRule_Defaults(t *testing.T) {
	var r Rule
	assert.Equal(t, "id", r.IdentifierPath())
	assert.Equal(t, "create_date", r.CreatedPath())
	assert.Equal(t, []string{"Tags", "State", "Description"}, r.PropertyPaths())

	r.Properties = []string{"Size", "Tags"}
	assert.Equal(t, []string{"Tags", "State", "Description", "Size"}, r.PropertyPaths())

	var ref Reference
	assert.Equal(t, "id", ref.IdentifierPath())
	assert.True(t, ref.IsDependency())
}

func TestPredicate_Eval(t *testing.T) {
	item := map[string]any{"State": map[string]any{"Name": "running"}, "IsDefault": true}

	tests := []struct {
		name string
		p    *Predicate
		def  bool
		want bool
	}{
		{"nil predicate", nil, true, true},
		{"in match", &Predicate{Path: "State.Name", In: []string{"running"}}, false, true},
		{"in miss", &Predicate{Path: "State.Name", In: []string{"pending"}}, true, false},
		{"not in match", &Predicate{Path: "State.Name", NotIn: []string{"running"}}, true, false},
		{"not in miss", &Predicate{Path: "State.Name", NotIn: []string{"terminated"}}, false, true},
		{"absent state", &Predicate{Path: "Status", In: []string{"ok"}}, false, false},
		{"non scalar", &Predicate{Path: "State", In: []string{"running"}}, true, true},
		{"bool rendered", &Predicate{Path: "IsDefault", NotIn: []string{"true"}}, true, false},
		{"no lists", &Predicate{Path: "State.Name"}, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.p.Eval(item, tt.def))
		})
	}
}
