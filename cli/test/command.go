package test

import (
	"github.com/spf13/cobra"

	"github.com/andydunstall/gossamer/cli/test/cluster"
)

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "test",
		Short: "tools for testing gossamer clusters",
		Long:  `Tools for testing Gossamer clusters.`,
	}

	cmd.AddCommand(cluster.NewCommand())

	return cmd
}
