package helper

import (
	"strings"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xgr-network/xgr-relay/command"
)

func TestFormatKV(t *testing.T) {
	t.Parallel()

	out := FormatKV([]string{
		"Checked|6",
		"Start Block|",
	})

	lines := strings.Split(out, "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "Checked     = 6", lines[0])
	assert.Equal(t, "Start Block = <none>", lines[1])
}

func TestFormatList(t *testing.T) {
	t.Parallel()

	out := FormatList([]string{
		"ID|Status",
		"0x01|fulfilled",
		"0x02|",
	})

	assert.Contains(t, out, "<none>")
	assert.Len(t, strings.Split(out, "\n"), 3)
}

func TestFlags(t *testing.T) {
	t.Parallel()

	root := &cobra.Command{Use: "root"}
	RegisterJSONOutputFlag(root)
	RegisterConfigFlags(root)

	child := &cobra.Command{Use: "child", Run: func(*cobra.Command, []string) {}}
	root.AddCommand(child)

	root.SetArgs([]string{"child", "--config", "tuning.yaml", "--log-level", "debug", "--env-file", "x.env"})
	require.NoError(t, root.Execute())

	opts := GetLoadOptions(child)
	assert.Equal(t, "tuning.yaml", opts.TuningFile)
	assert.Equal(t, "x.env", opts.EnvFile)
	assert.Equal(t, "debug", stringFlag(child, command.LogLevelFlag))

	logger := NewLogger(child, "warn")
	assert.True(t, logger.IsDebug())
	assert.Equal(t, hclog.Debug, logger.GetLevel())
}
