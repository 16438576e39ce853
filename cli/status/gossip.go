package status

import (
	"fmt"
	"os"

	yaml "github.com/goccy/go-yaml"
	"github.com/spf13/cobra"

	"github.com/andydunstall/gossamer/pkg/gossip"
	"github.com/andydunstall/gossamer/server/status/client"
)

func newGossipCommand(c *client.Client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gossip",
		Short: "inspect gossip state",
	}

	cmd.AddCommand(newGossipMembersCommand(c))
	cmd.AddCommand(newGossipMemberCommand(c))
	cmd.AddCommand(newGossipStateCommand(c))
	cmd.AddCommand(newGossipViewCommand(c))

	return cmd
}

func newGossipMembersCommand(c *client.Client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "members",
		Short: "inspect gossip members",
		Long: `Inspect gossip members.

Queries the server for the known status of each member in the cluster,
including the node itself and dead members that haven't yet expired.

Examples:
  gossamer status gossip members
`,
	}

	cmd.Run = func(cmd *cobra.Command, args []string) {
		showGossipMembers(c)
	}

	return cmd
}

type gossipMembersOutput struct {
	Members []gossip.Member `json:"members"`
}

func showGossipMembers(c *client.Client) {
	gossip := client.NewGossip(c)

	members, err := gossip.Members()
	if err != nil {
		fmt.Printf("failed to get gossip members: %s\n", err.Error())
		os.Exit(1)
	}

	output := gossipMembersOutput{
		Members: members,
	}
	printYAML(output)
}

func newGossipMemberCommand(c *client.Client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "member",
		Args:  cobra.ExactArgs(1),
		Short: "inspect a gossip member",
		Long: `Inspect a gossip member.

Queries the server for the known status of the member with the given ID,
which is the members advertised gossip address.

Examples:
  gossamer status gossip member 10.26.104.56:8003
`,
	}

	cmd.Run = func(cmd *cobra.Command, args []string) {
		showGossipMember(args[0], c)
	}

	return cmd
}

func showGossipMember(node string, c *client.Client) {
	gossip := client.NewGossip(c)

	member, err := gossip.Member(node)
	if err != nil {
		fmt.Printf("failed to get gossip member: %s: %s\n", node, err.Error())
		os.Exit(1)
	}

	printYAML(member)
}

func newGossipStateCommand(c *client.Client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state [key]",
		Args:  cobra.MaximumNArgs(1),
		Short: "inspect gossip state",
		Long: `Inspect gossip state.

Queries the server for its known key-value state, including deleted keys. If a
key is given only that entry is returned.

Examples:
  # Inspect all entries.
  gossamer status gossip state

  # Inspect the entry with key 'admin-addr/10.26.104.56:8003'.
  gossamer status gossip state admin-addr/10.26.104.56:8003
`,
	}

	cmd.Run = func(cmd *cobra.Command, args []string) {
		if len(args) == 1 {
			showGossipEntry(args[0], c)
			return
		}
		showGossipState(c)
	}

	return cmd
}

type gossipStateOutput struct {
	Entries []gossip.Entry `json:"entries"`
}

func showGossipState(c *client.Client) {
	gossip := client.NewGossip(c)

	entries, err := gossip.State()
	if err != nil {
		fmt.Printf("failed to get gossip state: %s\n", err.Error())
		os.Exit(1)
	}

	output := gossipStateOutput{
		Entries: entries,
	}
	printYAML(output)
}

func showGossipEntry(key string, c *client.Client) {
	gossip := client.NewGossip(c)

	entry, err := gossip.Entry(key)
	if err != nil {
		fmt.Printf("failed to get gossip entry: %s: %s\n", key, err.Error())
		os.Exit(1)
	}

	printYAML(entry)
}

func newGossipViewCommand(c *client.Client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "view",
		Short: "inspect gossip partial view",
		Long: `Inspect the gossip partial view.

Queries the server for the peers in its partial view. Each round the node
synchronizes with a random sample of peers from the view.

Examples:
  gossamer status gossip view
`,
	}

	cmd.Run = func(cmd *cobra.Command, args []string) {
		showGossipView(c)
	}

	return cmd
}

type gossipViewOutput struct {
	View []gossip.ViewEntry `json:"view"`
}

func showGossipView(c *client.Client) {
	gossip := client.NewGossip(c)

	view, err := gossip.View()
	if err != nil {
		fmt.Printf("failed to get gossip view: %s\n", err.Error())
		os.Exit(1)
	}

	output := gossipViewOutput{
		View: view,
	}
	printYAML(output)
}

func printYAML(v any) {
	b, err := yaml.Marshal(v)
	if err != nil {
		fmt.Printf("failed to encode output: %s\n", err.Error())
		os.Exit(1)
	}
	fmt.Println(string(b))
}
