package config

import (
	"os"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andydunstall/gossamer/pkg/config"
	"github.com/andydunstall/gossamer/pkg/gossip"
	"github.com/andydunstall/gossamer/pkg/log"
)

// Tests the default configuration is valid.
func TestConfig_Default(t *testing.T) {
	conf := Default()
	assert.NoError(t, conf.Validate())
}

// Tests loading the server configuration from YAML.
func TestConfig_LoadYAML(t *testing.T) {
	yaml := `
admin:
  bind_addr: 10.15.104.25:8002
  advertise_addr: 1.2.3.4:8002

gossip:
  bind_addr: 10.15.104.25:8003
  advertise_addr: 1.2.3.4:8003
  interval: 100ms
  sample_size: 4
  view_capacity: 30
  shuffle_length: 6
  exchange_timeout: 1s
  suspicion_timeout: 3s
  suspicion_threshold: 12
  dead_retention: 2m
  dead_confirmations: 2
  retransmit_mult: 3
  push_on_write: true
  max_message_size: 1048576

cluster:
  join:
    - 10.26.104.12:8003
    - 10.26.104.73:8003
  join_timeout: 2m
  abort_if_join_fails: true

log:
  level: debug
  format: console
  subsystems:
    - foo
    - bar

grace_period: 2m
`

	f, err := os.CreateTemp("", "gossamer")
	require.NoError(t, err)
	defer os.Remove(f.Name())

	_, err = f.WriteString(yaml)
	require.NoError(t, err)

	var loadedConf Config
	require.NoError(t, config.Load(&loadedConf, f.Name(), false))

	expectedConf := Config{
		Admin: AdminConfig{
			BindAddr:      "10.15.104.25:8002",
			AdvertiseAddr: "1.2.3.4:8002",
		},
		Gossip: gossip.Config{
			BindAddr:           "10.15.104.25:8003",
			AdvertiseAddr:      "1.2.3.4:8003",
			Interval:           time.Millisecond * 100,
			SampleSize:         4,
			ViewCapacity:       30,
			ShuffleLength:      6,
			ExchangeTimeout:    time.Second,
			SuspicionTimeout:   time.Second * 3,
			SuspicionThreshold: 12,
			DeadRetention:      time.Minute * 2,
			DeadConfirmations:  2,
			RetransmitMult:     3,
			PushOnWrite:        true,
			MaxMessageSize:     1048576,
		},
		Cluster: ClusterConfig{
			Join: []string{
				"10.26.104.12:8003",
				"10.26.104.73:8003",
			},
			JoinTimeout:      2 * time.Minute,
			AbortIfJoinFails: true,
		},
		Log: log.Config{
			Level:  "debug",
			Format: "console",
			Subsystems: []string{
				"foo",
				"bar",
			},
		},
		GracePeriod: 2 * time.Minute,
	}
	assert.Equal(t, expectedConf, loadedConf)
	assert.NoError(t, loadedConf.Validate())
}

// Tests loading the server configuration from flags.
func TestConfig_LoadFlags(t *testing.T) {
	args := []string{
		"--admin.bind-addr", "10.15.104.25:8002",
		"--admin.advertise-addr", "1.2.3.4:8002",
		"--gossip.bind-addr", "10.15.104.25:8003",
		"--gossip.advertise-addr", "1.2.3.4:8003",
		"--gossip.interval", "100ms",
		"--gossip.sample-size", "4",
		"--gossip.view-capacity", "30",
		"--gossip.shuffle-length", "6",
		"--gossip.exchange-timeout", "1s",
		"--gossip.suspicion-timeout", "3s",
		"--gossip.suspicion-threshold", "12",
		"--gossip.dead-retention", "2m",
		"--gossip.dead-confirmations", "2",
		"--gossip.retransmit-mult", "3",
		"--gossip.push-on-write",
		"--gossip.max-message-size", "1048576",
		"--cluster.join", "10.26.104.12:8003,10.26.104.73:8003",
		"--cluster.join-timeout", "2m",
		"--cluster.abort-if-join-fails=false",
		"--log.level", "debug",
		"--log.format", "console",
		"--log.subsystems", "foo,bar",
		"--grace-period", "2m",
	}

	conf := Default()
	fs := pflag.NewFlagSet("flags", pflag.ContinueOnError)
	conf.RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))

	expectedConf := &Config{
		Admin: AdminConfig{
			BindAddr:      "10.15.104.25:8002",
			AdvertiseAddr: "1.2.3.4:8002",
		},
		Gossip: gossip.Config{
			BindAddr:           "10.15.104.25:8003",
			AdvertiseAddr:      "1.2.3.4:8003",
			Interval:           time.Millisecond * 100,
			SampleSize:         4,
			ViewCapacity:       30,
			ShuffleLength:      6,
			ExchangeTimeout:    time.Second,
			SuspicionTimeout:   time.Second * 3,
			SuspicionThreshold: 12,
			DeadRetention:      time.Minute * 2,
			DeadConfirmations:  2,
			RetransmitMult:     3,
			PushOnWrite:        true,
			MaxMessageSize:     1048576,
		},
		Cluster: ClusterConfig{
			Join: []string{
				"10.26.104.12:8003",
				"10.26.104.73:8003",
			},
			JoinTimeout:      2 * time.Minute,
			AbortIfJoinFails: false,
		},
		Log: log.Config{
			Level:  "debug",
			Format: "console",
			Subsystems: []string{
				"foo",
				"bar",
			},
		},
		GracePeriod: 2 * time.Minute,
	}
	assert.Equal(t, expectedConf, conf)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		Name   string
		Update func(conf *Config)
		Err    string
	}{
		{
			Name: "missing admin bind addr",
			Update: func(conf *Config) {
				conf.Admin.BindAddr = ""
			},
			Err: "admin: missing bind addr",
		},
		{
			Name: "invalid gossip",
			Update: func(conf *Config) {
				conf.Gossip.SampleSize = 0
			},
			Err: "gossip: missing sample size",
		},
		{
			Name: "missing join timeout",
			Update: func(conf *Config) {
				conf.Cluster.Join = []string{"10.26.104.12"}
				conf.Cluster.JoinTimeout = 0
			},
			Err: "cluster: missing join timeout",
		},
		{
			Name: "invalid log level",
			Update: func(conf *Config) {
				conf.Log.Level = "foo"
			},
			Err: "log: ",
		},
		{
			Name: "missing grace period",
			Update: func(conf *Config) {
				conf.GracePeriod = 0
			},
			Err: "missing grace period",
		},
	}
	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			conf := Default()
			test.Update(conf)

			err := conf.Validate()
			assert.ErrorContains(t, err, test.Err)
		})
	}
}
