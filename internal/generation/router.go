package generation

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/polything/phoenix-template/internal/core/ports"
)

// RoutingRule sends requests for matching models to a named provider.
// ModelExact is checked before ModelPrefix.
type RoutingRule struct {
	ModelPrefix string `koanf:"model_prefix"`
	ModelExact  string `koanf:"model_exact"`
	Provider    string `koanf:"provider"`
}

// Router picks a generation capability per request model. Requests with
// no model, or a model no rule matches, go to the default provider.
type Router struct {
	providers       map[string]ports.Generator
	rules           []RoutingRule
	defaultProvider string
}

// NewRouter validates that every rule and the default name a provider.
func NewRouter(providers map[string]ports.Generator, rules []RoutingRule, defaultProvider string) (*Router, error) {
	if _, ok := providers[defaultProvider]; !ok {
		return nil, fmt.Errorf("default provider %q is not configured (have %s)", defaultProvider, names(providers))
	}
	for i, rule := range rules {
		if rule.ModelPrefix == "" && rule.ModelExact == "" {
			return nil, fmt.Errorf("routing rule %d: model_prefix or model_exact is required", i)
		}
		if _, ok := providers[rule.Provider]; !ok {
			return nil, fmt.Errorf("routing rule %d: provider %q is not configured", i, rule.Provider)
		}
	}
	return &Router{providers: providers, rules: rules, defaultProvider: defaultProvider}, nil
}

// Generate forwards req to the provider chosen for req.Model.
func (r *Router) Generate(ctx context.Context, req *ports.GenerateRequest) (*ports.GenerateResponse, error) {
	return r.Route(req.Model).Generate(ctx, req)
}

// Route returns the provider for model.
func (r *Router) Route(model string) ports.Generator {
	return r.providers[r.ProviderFor(model)]
}

// ProviderFor returns the provider name chosen for model.
func (r *Router) ProviderFor(model string) string {
	// Apply routing rules in order
	for _, rule := range r.rules {
		if rule.ModelExact != "" && model == rule.ModelExact {
			return rule.Provider
		}
	}
	for _, rule := range r.rules {
		if rule.ModelPrefix != "" && strings.HasPrefix(model, rule.ModelPrefix) {
			return rule.Provider
		}
	}
	return r.defaultProvider
}

func names(providers map[string]ports.Generator) string {
	out := make([]string, 0, len(providers))
	for name := range providers {
		out = append(out, name)
	}
	sort.Strings(out)
	if len(out) == 0 {
		return "none"
	}
	return strings.Join(out, ", ")
}

var _ ports.Generator = (*Router)(nil)
