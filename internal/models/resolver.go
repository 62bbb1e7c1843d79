package models

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnresolvedModel     = errors.New("unresolved model")
	ErrUnsupportedProvider = errors.New("unsupported provider")
	ErrModelNotAllowed     = errors.New("model not allowed")
)

const prefixHint = "must include provider prefix (e.g., poe:claude-opus-4.5)"

// Target is where a request is sent.
type Target struct {
	Provider Provider
	Model    string
}

func (t Target) String() string {
	return string(t.Provider) + ":" + t.Model
}

// Resolve picks the provider and upstream model name for clientModel, falling
// back to the configured default. An unprefixed name is only accepted when the
// default carries a provider prefix.
func Resolve(clientModel string, s Settings) (Target, error) {
	target := strings.TrimSpace(clientModel)
	if target == "" {
		target = strings.TrimSpace(s.DefaultModel)
	}
	if target == "" {
		return Target{}, fmt.Errorf("%w: model is required and %s", ErrUnresolvedModel, prefixHint)
	}

	if prefix, name, ok := strings.Cut(target, ":"); ok {
		p, valid := ParseProvider(prefix)
		if !valid {
			return Target{}, fmt.Errorf("%w: %q (use one of %s)", ErrUnsupportedProvider, strings.ToLower(prefix), providerList())
		}
		return finish(p, name, s), nil
	}

	if strings.Contains(strings.ToLower(target), haikuMarker) {
		p, err := haikuProvider(s)
		if err != nil {
			return Target{}, err
		}
		return finish(p, target, s), nil
	}

	if p, ok := s.defaultProvider(); ok {
		return finish(p, target, s), nil
	}

	return Target{}, fmt.Errorf("%w: model %q %s", ErrUnresolvedModel, target, prefixHint)
}

func finish(p Provider, name string, s Settings) Target {
	switch p {
	case LMStudio:
		// Local models are user controlled; only haiku requests are redirected.
		if strings.Contains(strings.ToLower(name), haikuMarker) {
			return Target{Provider: p, Model: s.LMStudioModel}
		}
		return Target{Provider: p, Model: name}
	case OpenRouter:
		model := Canonicalize(p, name)
		if !strings.Contains(model, "/") && strings.HasPrefix(strings.ToLower(model), "claude") {
			model = anthropicScope + model
		}
		return Target{Provider: p, Model: model}
	default:
		return Target{Provider: p, Model: Canonicalize(p, name)}
	}
}

// haikuProvider routes unprefixed haiku requests to the default provider when
// it can actually serve them.
func haikuProvider(s Settings) (Provider, error) {
	p, ok := s.defaultProvider()
	if ok && s.HasCredential(p) {
		return p, nil
	}
	return "", fmt.Errorf("%w: no valid provider configured for Claude Haiku model; %s", ErrUnresolvedModel, prefixHint)
}

// CheckAllowed returns ErrModelNotAllowed with the list of valid choices when
// t is not offered.
func CheckAllowed(t Target, s Settings) error {
	if IsAllowed(t.Provider, t.Model, s) {
		return nil
	}
	return fmt.Errorf("%w: provide one of: %s (use CC_ADAPTER_MODEL or --model)",
		ErrModelNotAllowed, strings.Join(Available(s), ", "))
}

func providerList() string {
	names := make([]string, len(Providers))
	for i, p := range Providers {
		names[i] = string(p)
	}
	return strings.Join(names, ", ")
}
