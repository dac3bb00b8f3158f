package extract

import (
	"fmt"
	"sync"
)

// AnomalyKind classifies a non-fatal extraction problem.
type AnomalyKind string

const (
	// AnomalyConfiguration means a rule is invalid and was skipped.
	AnomalyConfiguration AnomalyKind = "configuration"
	// AnomalyMissingIdentity means an item had no resolvable identifier.
	AnomalyMissingIdentity AnomalyKind = "missing_identity"
	// AnomalyMissingReference means a reference had no type or identifier.
	AnomalyMissingReference AnomalyKind = "missing_reference"
	// AnomalyProviderFailure means the provider iterator failed mid-rule.
	AnomalyProviderFailure AnomalyKind = "provider_failure"
)

// Anomaly records a problem found during a pass. Anomalies never abort
// the pass.
type Anomaly struct {
	Kind    AnomalyKind `json:"kind"`
	Service string      `json:"service"`
	Region  string      `json:"region,omitempty"`
	Rule    string      `json:"rule"`
	Field   string      `json:"field,omitempty"`
	Detail  string      `json:"detail"`
}

func (a Anomaly) String() string {
	where := a.Service + "/" + a.Rule
	if a.Region != "" {
		where = a.Region + ":" + where
	}
	if a.Field != "" {
		where += "." + a.Field
	}
	return fmt.Sprintf("%s %s: %s", a.Kind, where, a.Detail)
}

type anomalyLog struct {
	mu    sync.Mutex
	items []Anomaly
}

func (l *anomalyLog) add(a Anomaly) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = append(l.items, a)
}

func (l *anomalyLog) list() []Anomaly {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Anomaly, len(l.items))
	copy(out, l.items)
	return out
}
