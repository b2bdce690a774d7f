package gemini

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/cadence/internal/provider"
)

func TestConvertMessagesSplitsSystem(t *testing.T) {
	contents, system := convertMessages([]provider.Message{
		{Role: provider.RoleSystem, Content: "be brief"},
		{Role: provider.RoleUser, Content: "hi"},
		{Role: provider.RoleAssistant, Content: "hello"},
		{Role: provider.RoleSystem, Content: "stay in character"},
	})

	assert.Equal(t, "be brief\n\nstay in character", system)
	require.Len(t, contents, 2)
	assert.Equal(t, "user", contents[0].Role)
	assert.Equal(t, "model", contents[1].Role)
	assert.Equal(t, "hello", contents[1].Parts[0].Text)
}

func TestBuildConfigLeavesZeroValuesUnset(t *testing.T) {
	cfg := buildConfig("", provider.GenerationConfig{})
	assert.Nil(t, cfg.Temperature)
	assert.Nil(t, cfg.TopP)
	assert.Nil(t, cfg.SystemInstruction)
	assert.Zero(t, cfg.MaxOutputTokens)

	cfg = buildConfig("sys", provider.GenerationConfig{MaxNewTokens: 64, Temperature: 0.7, TopP: 0.9})
	require.NotNil(t, cfg.Temperature)
	assert.InDelta(t, 0.7, *cfg.Temperature, 1e-6)
	assert.Equal(t, int32(64), cfg.MaxOutputTokens)
	assert.Equal(t, "sys", cfg.SystemInstruction.Parts[0].Text)
}

func TestNewRequiresAPIKey(t *testing.T) {
	_, err := New(t.Context(), "", "")
	require.Error(t, err)
}
