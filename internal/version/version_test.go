package version

import (
	"bytes"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

// TestVersionStrings ensures Short and Full return consistent information.
func TestVersionStrings(t *testing.T) {
	t.Parallel()

	require.NotEmpty(t, Short())
	require.Contains(t, Full(), Short())
	require.Contains(t, Full(), Name)
}

// TestAttachCobraVersionCommand runs the version subcommand on a throwaway root.
func TestAttachCobraVersionCommand(t *testing.T) {
	t.Parallel()

	root := &cobra.Command{Use: Name}
	AttachCobraVersionCommand(root)

	var out bytes.Buffer

	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	require.Equal(t, Full()+"\n", out.String())
}
