package client

import (
	"encoding/json"
	"fmt"

	"github.com/andydunstall/gossamer/pkg/gossip"
)

type Gossip struct {
	client *Client
}

func NewGossip(client *Client) *Gossip {
	return &Gossip{
		client: client,
	}
}

func (c *Gossip) Members() ([]gossip.Member, error) {
	r, err := c.client.Request("/status/gossip/members")
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var members []gossip.Member
	if err := json.NewDecoder(r).Decode(&members); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return members, nil
}

func (c *Gossip) Member(node string) (*gossip.Member, error) {
	r, err := c.client.Request("/status/gossip/members/" + node)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var member gossip.Member
	if err := json.NewDecoder(r).Decode(&member); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &member, nil
}

func (c *Gossip) State() ([]gossip.Entry, error) {
	r, err := c.client.Request("/status/gossip/state")
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var entries []gossip.Entry
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return entries, nil
}

func (c *Gossip) Entry(key string) (*gossip.Entry, error) {
	r, err := c.client.Request("/status/gossip/state/" + key)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var entry gossip.Entry
	if err := json.NewDecoder(r).Decode(&entry); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &entry, nil
}

func (c *Gossip) View() ([]gossip.ViewEntry, error) {
	r, err := c.client.Request("/status/gossip/view")
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var view []gossip.ViewEntry
	if err := json.NewDecoder(r).Decode(&view); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return view, nil
}
