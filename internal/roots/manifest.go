package roots

import (
	"errors"
	"fmt"
	"os"

	"github.com/gobwas/glob"
	"gopkg.in/yaml.v3"

	"github.com/yairfalse/reclaim/pkg/resource"
)

// Manifest lists the applications whose resources must be kept.
//
//	applications:
//	  - name: checkout
//	    owner: team-payments
//	    resources:
//	      - aws.rds.db_instance://us-east-1/checkout-db
//	    selectors:
//	      - kind: aws.ec2.*
//	        tags: {app: checkout}
type Manifest struct {
	Applications []Application `yaml:"applications"`
}

// Application is one owner of root resources.
type Application struct {
	Name      string          `yaml:"name"`
	Owner     string          `yaml:"owner"`
	Resources []resource.URID `yaml:"resources"`
	Selectors []Selector      `yaml:"selectors"`
}

// Selector matches discovered resources by kind, id and tags. Kind
// patterns use "." as separator and id patterns "/".
type Selector struct {
	Kind string            `yaml:"kind"`
	ID   string            `yaml:"id"`
	Tags map[string]string `yaml:"tags"`

	kind glob.Glob
	id   glob.Glob
}

// Match reports whether r satisfies every criterion of the selector.
func (s *Selector) Match(r resource.Resource) bool {
	if s.kind != nil && !s.kind.Match(r.Kind) {
		return false
	}
	if s.id != nil && !s.id.Match(r.ID) {
		return false
	}
	if len(s.Tags) > 0 {
		tags := r.Tags()
		for k, v := range s.Tags {
			if got, ok := tags[k]; !ok || got != v {
				return false
			}
		}
	}
	return true
}

func (s *Selector) compile() error {
	if s.Kind == "" && s.ID == "" && len(s.Tags) == 0 {
		return errors.New("selector has no criteria")
	}
	var err error
	if s.Kind != "" {
		if s.kind, err = glob.Compile(s.Kind, '.'); err != nil {
			return fmt.Errorf("kind pattern %q: %w", s.Kind, err)
		}
	}
	if s.ID != "" {
		if s.id, err = glob.Compile(s.ID, '/'); err != nil {
			return fmt.Errorf("id pattern %q: %w", s.ID, err)
		}
	}
	return nil
}

// LoadManifest reads a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return ParseManifest(data)
}

// ParseManifest decodes and validates a manifest.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}

	for i := range m.Applications {
		app := &m.Applications[i]
		if app.Name == "" {
			return nil, fmt.Errorf("application %d: name is required", i)
		}
		for _, id := range app.Resources {
			if err := id.Validate(); err != nil {
				return nil, fmt.Errorf("application %s: %w", app.Name, err)
			}
		}
		for j := range app.Selectors {
			if err := app.Selectors[j].compile(); err != nil {
				return nil, fmt.Errorf("application %s: selector %d: %w", app.Name, j, err)
			}
		}
	}
	return &m, nil
}
