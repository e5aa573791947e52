package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/custodian/pkg/types"
)

type stubSource struct {
	providers []types.ProviderInfo
	commands  []types.SlashCommand
	err       error
}

func (s stubSource) ListProviders(context.Context) ([]types.ProviderInfo, error) {
	return s.providers, s.err
}

func (s stubSource) ListCommands(context.Context) ([]types.SlashCommand, error) {
	return s.commands, s.err
}

var testProviders = []types.ProviderInfo{
	{ID: "anthropic", Models: []types.ModelInfo{{ID: "claude-sonnet-4"}, {ID: "claude-haiku-4"}}},
	{ID: "openai", Models: []types.ModelInfo{{ID: "gpt-4o"}}},
}

func newCatalog(src Source) *Catalog {
	nop := zerolog.Nop()
	return New(src, &nop)
}

func TestCatalog_CommandsMergeBuiltins(t *testing.T) {
	c := newCatalog(stubSource{commands: []types.SlashCommand{
		{Name: "sessions", Description: "server copy"},
		{Name: "init"},
		{Name: "init", Description: "duplicate"},
	}})

	cmds := c.Commands(context.Background())
	assert.Equal(t, []types.SlashCommand{BuiltinCommands[0], {Name: "init"}}, cmds)
}

func TestCatalog_FailuresDegrade(t *testing.T) {
	c := newCatalog(stubSource{err: errors.New("connection refused")})

	providers := c.Providers(context.Background())
	assert.NotNil(t, providers)
	assert.Empty(t, providers)

	assert.Equal(t, BuiltinCommands, c.Commands(context.Background()))

	// The returned built-ins are a copy.
	cmds := c.Commands(context.Background())
	cmds[0].Name = "mutated"
	assert.Equal(t, "sessions", BuiltinCommands[0].Name)
}

func TestParseModelRef(t *testing.T) {
	ref, err := ParseModelRef("openrouter/meta/llama-3")
	require.NoError(t, err)
	assert.Equal(t, types.ModelRef{ProviderID: "openrouter", ModelID: "meta/llama-3"}, ref)

	for _, bad := range []string{"", "gpt-4o", "/gpt-4o", "openai/"} {
		_, err := ParseModelRef(bad)
		assert.ErrorIs(t, err, ErrInvalidModelRef, bad)
	}
}

func TestResolveModel(t *testing.T) {
	ref, err := ResolveModel(testProviders, "openai/gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, "openai/gpt-4o", ref.String())

	_, err = ResolveModel(testProviders, "anthropic/claude-sonet-4")
	var unknown *UnknownModelError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "anthropic/claude-sonnet-4", unknown.Suggestion)
	assert.Contains(t, err.Error(), "did you mean")

	_, err = ResolveModel(testProviders, "mistral/large")
	require.ErrorAs(t, err, &unknown)
	assert.Empty(t, unknown.Suggestion)
}

func TestFindCommand(t *testing.T) {
	cmds := MergeCommands(BuiltinCommands, []types.SlashCommand{{Name: "review"}})

	cmd, _, ok := FindCommand(cmds, "/review")
	require.True(t, ok)
	assert.Equal(t, "review", cmd.Name)

	_, suggestion, ok := FindCommand(cmds, "reveiw")
	assert.False(t, ok)
	assert.Equal(t, "review", suggestion)

	assert.True(t, IsBuiltin("sessions"))
	assert.False(t, IsBuiltin("review"))
}
