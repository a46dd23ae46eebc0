package collection

import (
	"fmt"
	"maps"
	"path/filepath"
	"slices"

	"github.com/brettbedarf/colstore"
)

// Patch is a partial update of a node's persisted fields. Nil fields are
// left unchanged.
type Patch struct {
	Title *string `json:"title,omitempty"`

	// Request only
	URL       *string            `json:"url,omitempty"`
	Method    *colstore.Method   `json:"method,omitempty"`
	Headers   *[]colstore.Header `json:"headers,omitempty"`
	Body      *colstore.Body     `json:"body,omitempty"`
	ClearBody bool               `json:"clearBody,omitempty"`

	// Collection only. A secret variable sent with an empty value keeps its
	// current value, so a masked snapshot can be patched back unchanged.
	Variables *map[string]colstore.Variable `json:"variables,omitempty"`
}

func (p *Patch) validate(t colstore.NodeType) error {
	if p == nil {
		return nil
	}
	hasRequestFields := p.URL != nil || p.Method != nil || p.Headers != nil || p.Body != nil || p.ClearBody
	if hasRequestFields && t != colstore.RequestNodeType {
		return fmt.Errorf("%w: request fields on %s", ErrWrongVariant, t)
	}
	if p.Variables != nil && t != colstore.CollectionNodeType {
		return fmt.Errorf("%w: variables on %s", ErrWrongVariant, t)
	}
	if p.Title != nil && *p.Title == "" {
		return fmt.Errorf("%w: empty title", ErrInvalidName)
	}
	if p.Method != nil {
		m, err := colstore.ParseMethod(string(*p.Method))
		if err != nil {
			return err
		}
		*p.Method = m
	}
	if p.Body != nil {
		switch p.Body.Type {
		case colstore.TextBodyType:
		case colstore.FileBodyType:
			if !filepath.IsAbs(p.Body.FilePath) {
				return fmt.Errorf("file body needs an absolute path, got %q", p.Body.FilePath)
			}
		default:
			return fmt.Errorf("unknown body type %q", p.Body.Type)
		}
	}
	return nil
}

func (p *Patch) apply(n *Node) {
	if p == nil {
		return
	}
	if p.Title != nil {
		n.title = *p.Title
	}
	if p.URL != nil {
		n.url = *p.URL
	}
	if p.Method != nil {
		n.method = *p.Method
	}
	if p.Headers != nil {
		n.headers = slices.Clone(*p.Headers)
	}
	if p.ClearBody {
		n.body = nil
	}
	if p.Body != nil {
		b := *p.Body
		n.body = &b
	}
	if p.Variables != nil {
		vars := maps.Clone(*p.Variables)
		if vars == nil {
			vars = map[string]colstore.Variable{}
		}
		for name, v := range vars {
			if old, ok := n.variables[name]; ok && v.Secret && old.Secret && v.Value == "" {
				v.Value = old.Value
				vars[name] = v
			}
		}
		n.variables = vars
	}
}
