// Package models holds the static model table and resolves client supplied
// model names to a backend and an upstream model name.
package models

import (
	"sort"
	"strings"

	"github.com/mihaisavezi/cc-adapter/internal/config"
)

type Provider string

const (
	LMStudio   Provider = "lmstudio"
	Poe        Provider = "poe"
	OpenRouter Provider = "openrouter"
)

// Providers lists every supported prefix in display order.
var Providers = []Provider{LMStudio, Poe, OpenRouter}

func ParseProvider(s string) (Provider, bool) {
	p := Provider(strings.ToLower(s))
	switch p {
	case LMStudio, Poe, OpenRouter:
		return p, true
	}
	return "", false
}

const (
	haikuMarker    = "claude-haiku"
	HaikuCanonical = "claude-haiku-4.5"
	anthropicScope = "anthropic/"
)

// ModelInfo is one known upstream model. Lower Priority means a higher capability tier.
type ModelInfo struct {
	Provider Provider
	Slug     string
	Priority int
	Aliases  []string
}

func (m ModelInfo) ID() string {
	return string(m.Provider) + ":" + m.Slug
}

var claudeFamily = []ModelInfo{
	{
		Slug:     "claude-opus-4.5",
		Priority: 1,
		Aliases:  []string{"claude-opus-4-5", "claude-opus-4-5-20251101", "claude-opus-latest", "opus"},
	},
	{
		Slug:     "claude-sonnet-4.5",
		Priority: 2,
		Aliases:  []string{"claude-sonnet-4-5", "claude-sonnet-4-5-20250929", "claude-sonnet-latest", "sonnet"},
	},
	{
		Slug:     HaikuCanonical,
		Priority: 3,
		Aliases:  []string{"claude-haiku-4-5", "claude-haiku-4-5-20251001", "haiku"},
	},
}

var registry = buildRegistry()

func buildRegistry() map[Provider][]ModelInfo {
	reg := make(map[Provider][]ModelInfo)
	for _, p := range []Provider{Poe, OpenRouter} {
		for _, m := range claudeFamily {
			m.Provider = p
			reg[p] = append(reg[p], m)
		}
	}
	return reg
}

// ProviderModels returns the known models for p ordered by priority.
func ProviderModels(p Provider) []ModelInfo {
	models := append([]ModelInfo(nil), registry[p]...)
	sort.SliceStable(models, func(i, j int) bool {
		return models[i].Priority < models[j].Priority
	})
	return models
}

// FindModel matches name against slugs and aliases, ignoring case and an
// "anthropic/" scope.
func FindModel(p Provider, name string) (ModelInfo, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	key = strings.TrimPrefix(key, anthropicScope)

	for _, m := range registry[p] {
		if m.Slug == key {
			return m, true
		}
		for _, alias := range m.Aliases {
			if alias == key {
				return m, true
			}
		}
	}
	return ModelInfo{}, false
}

// Canonicalize maps an alias to its slug for p. Haiku variants are pinned to
// one version. An "anthropic/" scope on the input is kept.
func Canonicalize(p Provider, name string) string {
	scoped := strings.HasPrefix(strings.ToLower(name), anthropicScope)
	withScope := func(slug string) string {
		if scoped {
			return anthropicScope + slug
		}
		return slug
	}

	if strings.Contains(strings.ToLower(name), haikuMarker) {
		return withScope(HaikuCanonical)
	}

	if m, ok := FindModel(p, name); ok {
		return withScope(m.Slug)
	}
	return name
}

// displaySlug is the listing name for a model, the slug when known.
func displaySlug(p Provider, name string) string {
	if m, ok := FindModel(p, name); ok {
		return m.Slug
	}
	return name
}

// Settings is the slice of configuration model resolution depends on.
type Settings struct {
	DefaultModel  string
	LMStudioModel string
	Credentials   map[Provider]bool
}

func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		DefaultModel:  cfg.Model,
		LMStudioModel: cfg.LMStudio.Model,
		Credentials: map[Provider]bool{
			LMStudio:   true,
			Poe:        cfg.Poe.APIKey != "",
			OpenRouter: cfg.OpenRouter.APIKey != "",
		},
	}
}

func (s Settings) HasCredential(p Provider) bool {
	return p == LMStudio || s.Credentials[p]
}

// defaultProvider is the provider prefix of the configured default model.
func (s Settings) defaultProvider() (Provider, bool) {
	prefix, _, ok := strings.Cut(s.DefaultModel, ":")
	if !ok {
		return "", false
	}
	return ParseProvider(prefix)
}

// Available lists provider:slug ids offered to clients. The prefixed default
// comes first, then the local model, then every known model whose provider has
// a credential, by (priority, provider, slug). Duplicates keep the first position.
func Available(s Settings) []string {
	var (
		out  []string
		seen = make(map[string]bool)
	)
	add := func(p Provider, slug string) {
		id := string(p) + ":" + slug
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}

	if prefix, name, ok := strings.Cut(s.DefaultModel, ":"); ok && name != "" {
		if p, known := ParseProvider(prefix); known {
			add(p, displaySlug(p, name))
		}
	}

	add(LMStudio, displaySlug(LMStudio, s.LMStudioModel))

	var eligible []ModelInfo
	for _, p := range []Provider{Poe, OpenRouter} {
		if s.HasCredential(p) {
			eligible = append(eligible, registry[p]...)
		}
	}
	sort.Slice(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if a.Provider != b.Provider {
			return a.Provider < b.Provider
		}
		return a.Slug < b.Slug
	})
	for _, m := range eligible {
		add(m.Provider, m.Slug)
	}

	return out
}

// IsAllowed reports whether p:model is in the available list. OpenRouter
// models may carry an "anthropic/" scope.
func IsAllowed(p Provider, model string, s Settings) bool {
	allowed := make(map[string]bool)
	for _, id := range Available(s) {
		allowed[id] = true
	}

	if allowed[string(p)+":"+model] {
		return true
	}
	if p == OpenRouter && strings.HasPrefix(model, anthropicScope) {
		return allowed[string(p)+":"+strings.TrimPrefix(model, anthropicScope)]
	}
	return false
}
