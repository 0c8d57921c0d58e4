package model

import (
	"fmt"
	"time"
)

type Type string

const (
	TypeDefault   Type = "default"
	TypeReasoning Type = "reasoning"
	TypeVision    Type = "vision"
)

func (t Type) Valid() bool {
	switch t {
	case TypeDefault, TypeReasoning, TypeVision:
		return true
	}
	return false
}

type ProviderKind string

const (
	ProviderKindOpenAI    ProviderKind = "openai"
	ProviderKindAnthropic ProviderKind = "anthropic"
)

// Spec binds a logical model type to the concrete model ids used against the
// primary and the fallback provider. The response deadline belongs to the type.
type Spec struct {
	Type        Type          `yaml:"type"`
	Primary     string        `yaml:"primary"`
	Fallback    string        `yaml:"fallback"`
	Timeout     time.Duration `yaml:"timeout"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int64         `yaml:"max_tokens"`
}

func (s Spec) Validate() error {
	if !s.Type.Valid() {
		return fmt.Errorf("unknown model type %q", s.Type)
	}
	if s.Primary == "" {
		return fmt.Errorf("model type %s: primary model is required", s.Type)
	}
	if s.Fallback == "" {
		return fmt.Errorf("model type %s: fallback model is required", s.Type)
	}
	if s.Timeout <= 0 {
		return fmt.Errorf("model type %s: timeout must be positive", s.Type)
	}
	if s.Temperature < 0 || s.Temperature > 2 {
		return fmt.Errorf("model type %s: temperature must be between 0 and 2", s.Type)
	}
	if s.MaxTokens <= 0 {
		return fmt.Errorf("model type %s: max tokens must be positive", s.Type)
	}
	return nil
}

type Catalog struct {
	specs map[Type]Spec
}

func NewCatalog(specs ...Spec) (*Catalog, error) {
	catalog := &Catalog{specs: make(map[Type]Spec, len(specs))}
	for _, spec := range specs {
		if err := spec.Validate(); err != nil {
			return nil, err
		}
		if _, ok := catalog.specs[spec.Type]; ok {
			return nil, fmt.Errorf("model type %s is defined more than once", spec.Type)
		}
		catalog.specs[spec.Type] = spec
	}

	for _, t := range []Type{TypeDefault, TypeReasoning, TypeVision} {
		if _, ok := catalog.specs[t]; !ok {
			return nil, fmt.Errorf("model type %s is not configured", t)
		}
	}

	return catalog, nil
}

func (c *Catalog) Get(t Type) (Spec, bool) {
	spec, ok := c.specs[t]
	return spec, ok
}

// Resolve picks the spec for a request. Attachments take precedence over the
// deep reasoning flag since only the vision models accept images.
func (c *Catalog) Resolve(hasAttachments, deepReasoning bool) Spec {
	switch {
	case hasAttachments:
		return c.specs[TypeVision]
	case deepReasoning:
		return c.specs[TypeReasoning]
	default:
		return c.specs[TypeDefault]
	}
}
