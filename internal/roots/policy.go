package roots

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/open-policy-agent/opa/v1/rego"

	"github.com/yairfalse/reclaim/pkg/resource"
)

// PolicyQuery is the rule a root policy must define. A resource for which
// it evaluates to true becomes a root.
//
//	package reclaim
//
//	protect if input.resource.tags.env == "prod"
const PolicyQuery = "data.reclaim.protect"

// Policy is a compiled root-selection policy.
type Policy struct {
	name  string
	query rego.PreparedEvalQuery
	now   func() time.Time
}

// PolicyInput is the document a policy sees as input.
type PolicyInput struct {
	Resource  PolicyResource `json:"resource"`
	Timestamp time.Time      `json:"timestamp"`
}

// PolicyResource is the policy view of a resource.
type PolicyResource struct {
	URID             string            `json:"urid"`
	Kind             string            `json:"kind"`
	ID               string            `json:"id"`
	Tags             map[string]string `json:"tags"`
	Used             bool              `json:"used"`
	CleanupCandidate bool              `json:"cleanup_candidate"`
	Created          *time.Time        `json:"created,omitempty"`
	AgeDays          int               `json:"age_days"`
	Properties       map[string]any    `json:"properties,omitempty"`
}

// NewPolicy compiles a Rego module.
func NewPolicy(ctx context.Context, name, module string) (*Policy, error) {
	query, err := rego.New(
		rego.Query(PolicyQuery),
		rego.Module(name, module),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile policy %s: %w", name, err)
	}
	return &Policy{name: name, query: query, now: time.Now}, nil
}

// LoadPolicy reads and compiles a Rego file.
func LoadPolicy(ctx context.Context, path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}
	return NewPolicy(ctx, path, string(data))
}

// Protects evaluates the policy for one resource.
func (p *Policy) Protects(ctx context.Context, r resource.Resource) (bool, error) {
	results, err := p.query.Eval(ctx, rego.EvalInput(p.input(r)))
	if err != nil {
		return false, fmt.Errorf("evaluate policy %s: %w", p.name, err)
	}
	return results.Allowed(), nil
}

func (p *Policy) input(r resource.Resource) PolicyInput {
	now := p.now().UTC()
	in := PolicyInput{
		Resource: PolicyResource{
			URID:             r.URID().String(),
			Kind:             r.Kind,
			ID:               r.ID,
			Tags:             r.Tags(),
			Used:             r.Used,
			CleanupCandidate: r.CleanupCandidate,
			Created:          r.Created,
			Properties:       r.Properties,
		},
		Timestamp: now,
	}
	if in.Resource.Tags == nil {
		in.Resource.Tags = map[string]string{}
	}
	if r.Created != nil {
		in.Resource.AgeDays = int(now.Sub(*r.Created).Hours() / 24)
	}
	return in
}
