// Package resource defines the resource graph model for reclaim.
package resource

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMalformedURID is returned when an identity lacks a kind or an id.
var ErrMalformedURID = errors.New("malformed resource identity")

const uridSeparator = "://"

// URID is the universal resource id: kind and provider id combined into one key.
type URID string

// NewURID builds the identity of a resource of the given kind.
func NewURID(kind, id string) URID {
	return URID(kind + uridSeparator + id)
}

// Kind returns the kind part of the identity.
func (u URID) Kind() string {
	kind, _, _ := strings.Cut(string(u), uridSeparator)
	return kind
}

// ID returns the provider id part of the identity.
func (u URID) ID() string {
	_, id, found := strings.Cut(string(u), uridSeparator)
	if !found {
		return ""
	}
	return id
}

// Validate checks both parts of the identity are present.
func (u URID) Validate() error {
	kind, id, found := strings.Cut(string(u), uridSeparator)
	if !found || kind == "" || id == "" {
		return fmt.Errorf("%w: %q", ErrMalformedURID, string(u))
	}
	return nil
}

func (u URID) String() string {
	return string(u)
}

// Item is either a Resource or a Relation.
type Item interface {
	isItem()
}

// Resource is a discovered cloud resource.
// Values are never mutated after the extraction engine builds them.
type Resource struct {
	Kind             string         `json:"kind"`              // e.g. "aws.ec2.instance"
	ID               string         `json:"id"`                // provider id, unique within Kind
	Created          *time.Time     `json:"created,omitempty"` // normalized to UTC
	Properties       map[string]any `json:"properties,omitempty"`
	Used             bool           `json:"used"`              // intrinsic usage signal
	CleanupCandidate bool           `json:"cleanup_candidate"` // eligible for reclamation at all
}

func (Resource) isItem() {}

// URID returns the identity of the resource. It depends on Kind and ID only.
func (r Resource) URID() URID {
	return NewURID(r.Kind, r.ID)
}

// Tags returns the normalized tag map of the resource, if any.
func (r Resource) Tags() map[string]string {
	switch tags := r.Properties["Tags"].(type) {
	case map[string]string:
		return tags
	case map[string]any:
		out := make(map[string]string, len(tags))
		for k, v := range tags {
			out[k] = fmt.Sprint(v)
		}
		return out
	}
	return nil
}

func (r Resource) String() string {
	return string(r.URID())
}

// Relation is a directed edge between two resource identities.
// Dependency means Source needs Target to keep functioning; other
// relations are associations kept for display and audit.
type Relation struct {
	Source     URID `json:"source"`
	Target     URID `json:"target"`
	Dependency bool `json:"dependency"`
}

func (Relation) isItem() {}

func (r Relation) String() string {
	arrow := "--"
	if r.Dependency {
		arrow = "->"
	}
	return fmt.Sprintf("%s %s %s", r.Source, arrow, r.Target)
}

// Cleaner is implemented by backends able to delete a resource.
// reclaim only reports; nothing in this module calls Cleanup.
type Cleaner interface {
	Cleanup(ctx context.Context, r Resource) error
}
