package cluster

import (
	"time"

	"github.com/andydunstall/gossamer/pkg/log"
)

type options struct {
	join           []string
	gossipInterval time.Duration
	logger         log.Logger
}

type joinOption struct {
	Join []string
}

func (o joinOption) apply(opts *options) {
	opts.join = o.Join
}

// WithJoin configures the nodes to join.
func WithJoin(join []string) Option {
	return joinOption{Join: join}
}

type gossipIntervalOption time.Duration

func (o gossipIntervalOption) apply(opts *options) {
	opts.gossipInterval = time.Duration(o)
}

// WithGossipInterval configures the gossip round interval. Defaults to
// 100ms.
func WithGossipInterval(interval time.Duration) Option {
	return gossipIntervalOption(interval)
}

type loggerOption struct {
	Logger log.Logger
}

func (o loggerOption) apply(opts *options) {
	opts.logger = o.Logger
}

// WithLogger configures the logger. Defaults to no output.
func WithLogger(logger log.Logger) Option {
	return loggerOption{Logger: logger}
}

type Option interface {
	apply(*options)
}
