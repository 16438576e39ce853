package status

import (
	"fmt"
	"net/url"
	"os"

	"github.com/spf13/cobra"

	"github.com/andydunstall/gossamer/server/status/client"
	"github.com/andydunstall/gossamer/server/status/config"
)

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "inspect server status",
		Long: `Inspect server status.

Each Gossamer server exposes a status API to inspect the state of the node,
this can be used to answer questions such as:
* What is the status of each known member?
* What key-value state does this node know?
* Which peers are in this nodes partial view?

See 'status --help' for the available commands.

Examples:
  # Inspect the known members in the cluster.
  gossamer status gossip members

  # Inspect the state of node 10.26.104.56:8003, via the node at
  # 10.26.104.14:8002.
  gossamer status gossip state --server.url http://10.26.104.14:8002 --forward 10.26.104.56:8003
`,
	}

	var conf config.Config
	conf.RegisterFlags(cmd.PersistentFlags())

	c := client.NewClient(nil)

	cmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if err := conf.Validate(); err != nil {
			fmt.Printf("config: %s\n", err.Error())
			os.Exit(1)
		}

		url, _ := url.Parse(conf.Server.URL)
		c.SetURL(url)
		c.SetForward(conf.Forward)
	}

	cmd.AddCommand(newGossipCommand(c))

	return cmd
}
