// Package catalog lists the providers, models and slash commands a server
// offers. Listing never fails: a server error degrades to an empty list (or
// the built-in commands) and is logged.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/rs/zerolog"

	"github.com/opencode-ai/custodian/internal/logging"
	"github.com/opencode-ai/custodian/pkg/types"
)

// ErrInvalidModelRef is returned for a model reference not shaped "provider/model".
var ErrInvalidModelRef = errors.New("model must be written as provider/model")

// BuiltinCommands are handled locally and always listed first.
var BuiltinCommands = []types.SlashCommand{
	{Name: "sessions", Description: "Browse and switch sessions"},
}

// Source is the server side of the catalog.
type Source interface {
	ListProviders(ctx context.Context) ([]types.ProviderInfo, error)
	ListCommands(ctx context.Context) ([]types.SlashCommand, error)
}

// UnknownModelError reports a model reference that no provider offers.
type UnknownModelError struct {
	Ref        string
	Suggestion string
}

func (e *UnknownModelError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("unknown model %q (did you mean %q?)", e.Ref, e.Suggestion)
	}
	return fmt.Sprintf("unknown model %q", e.Ref)
}

// Catalog reads providers and commands from a Source.
type Catalog struct {
	src Source
	log zerolog.Logger
}

// New creates a catalog. A nil logger uses the package logger.
func New(src Source, logger *zerolog.Logger) *Catalog {
	log := logging.Component("catalog")
	if logger != nil {
		log = logger.With().Str("component", "catalog").Logger()
	}
	return &Catalog{src: src, log: log}
}

// Providers returns the server's providers, or an empty list on failure.
func (c *Catalog) Providers(ctx context.Context) []types.ProviderInfo {
	providers, err := c.src.ListProviders(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("listing providers failed")
		return []types.ProviderInfo{}
	}
	if providers == nil {
		return []types.ProviderInfo{}
	}
	return providers
}

// Commands returns the built-in commands followed by the server's, with
// later duplicates of a name dropped. On failure only the built-ins are
// returned.
func (c *Catalog) Commands(ctx context.Context) []types.SlashCommand {
	remote, err := c.src.ListCommands(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("listing commands failed")
		return slices.Clone(BuiltinCommands)
	}
	return MergeCommands(BuiltinCommands, remote)
}

// MergeCommands appends extra to base, skipping names already present.
func MergeCommands(base, extra []types.SlashCommand) []types.SlashCommand {
	merged := slices.Clone(base)
	for _, cmd := range extra {
		if !slices.ContainsFunc(merged, func(existing types.SlashCommand) bool { return existing.Name == cmd.Name }) {
			merged = append(merged, cmd)
		}
	}
	return merged
}

// IsBuiltin reports whether name is handled locally.
func IsBuiltin(name string) bool {
	return slices.ContainsFunc(BuiltinCommands, func(c types.SlashCommand) bool { return c.Name == name })
}

// ParseModelRef parses "provider/model". The model id may itself contain
// slashes.
func ParseModelRef(s string) (types.ModelRef, error) {
	provider, model, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok || provider == "" || model == "" {
		return types.ModelRef{}, fmt.Errorf("%w: %q", ErrInvalidModelRef, s)
	}
	return types.ModelRef{ProviderID: provider, ModelID: model}, nil
}

// ResolveModel checks ref against the offered providers. An unknown model
// yields *UnknownModelError carrying the closest offered reference.
func ResolveModel(providers []types.ProviderInfo, ref string) (types.ModelRef, error) {
	parsed, err := ParseModelRef(ref)
	if err != nil {
		return types.ModelRef{}, err
	}
	var offered []string
	for _, p := range providers {
		for _, m := range p.Models {
			if p.ID == parsed.ProviderID && m.ID == parsed.ModelID {
				return parsed, nil
			}
			offered = append(offered, p.ID+"/"+m.ID)
		}
	}
	return types.ModelRef{}, &UnknownModelError{Ref: ref, Suggestion: Suggest(ref, offered)}
}

// FindCommand looks a command up by name, with or without the leading
// slash. When missing, the closest name is returned as a suggestion.
func FindCommand(commands []types.SlashCommand, name string) (cmd types.SlashCommand, suggestion string, ok bool) {
	name = strings.TrimPrefix(name, "/")
	names := make([]string, 0, len(commands))
	for _, c := range commands {
		if c.Name == name {
			return c, "", true
		}
		names = append(names, c.Name)
	}
	return types.SlashCommand{}, Suggest(name, names), false
}

// Suggest returns the candidate closest to input by edit distance, or ""
// when nothing is close enough to be a plausible typo.
func Suggest(input string, candidates []string) string {
	best, bestScore := "", 0.0
	for _, c := range candidates {
		if score := similarity(strings.ToLower(input), strings.ToLower(c)); score > bestScore {
			best, bestScore = c, score
		}
	}
	if bestScore < 0.6 {
		return ""
	}
	return best
}

// similarity is the normalized Levenshtein similarity of a and b.
func similarity(a, b string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1.0 - float64(dist)/float64(max(len(a), len(b)))
}
