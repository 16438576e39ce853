package cli

import (
	"github.com/spf13/cobra"

	"github.com/andydunstall/gossamer/cli/server"
	"github.com/andydunstall/gossamer/cli/status"
	"github.com/andydunstall/gossamer/cli/test"
)

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "gossamer [command] (flags)",
		SilenceUsage: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		Long: `Gossamer is a gossip based membership and state dissemination
service.

Each node maintains a small random partial view of the cluster, and
periodically synchronizes with a sample of peers from its view. Nodes exchange
membership updates, detect failed nodes, and replicate a last-writer-wins
key-value state so every node eventually converges to the same state.

Start a server node with:

  $ gossamer server

Start a node and join an existing cluster with:

  $ gossamer server --cluster.join 10.26.104.14:8003

You can also inspect the status of a node using:

  $ gossamer status gossip members
`,
	}

	cmd.AddCommand(server.NewCommand())
	cmd.AddCommand(status.NewCommand())
	cmd.AddCommand(test.NewCommand())

	return cmd
}

func init() {
	cobra.EnableCommandSorting = false
}
