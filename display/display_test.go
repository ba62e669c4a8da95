package display

import (
	"bytes"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "ls"}
	cmd.Flags().Bool("json", false, "")
	return cmd
}

func TestShouldOutputJSON(t *testing.T) {
	t.Setenv(OutputEnv, "")

	cmd := newCmd()
	assert.False(t, ShouldOutputJSON(cmd))

	require.NoError(t, cmd.Flags().Set("json", "true"))
	assert.True(t, ShouldOutputJSON(cmd))

	t.Setenv(OutputEnv, "json")
	assert.True(t, ShouldOutputJSON(newCmd()))
	assert.True(t, ShouldOutputJSON(nil))

	explicitOff := newCmd()
	require.NoError(t, explicitOff.Flags().Set("json", "false"))
	assert.False(t, ShouldOutputJSON(explicitOff))
}

func TestOutputJSON(t *testing.T) {
	t.Setenv(CompactEnv, "")
	var buf bytes.Buffer
	require.NoError(t, OutputJSON(&buf, map[string]string{"kirby": "poyo"}))
	assert.Equal(t, "{\n  \"kirby\": \"poyo\"\n}\n", buf.String())

	t.Setenv(CompactEnv, "1")
	buf.Reset()
	require.NoError(t, OutputJSON(&buf, map[string]string{"kirby": "poyo"}))
	assert.Equal(t, "{\"kirby\":\"poyo\"}\n", buf.String())
}
