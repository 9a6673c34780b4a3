package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mineclover/iframe-remote/config"
	"github.com/mineclover/iframe-remote/logging"
)

type globalFlags struct {
	configPath string
	addr       string
	channel    string
	codec      string
	timeout    string
	debug      bool
}

// newRootCmd builds a fresh command tree; tests execute their own copy.
func newRootCmd() *cobra.Command {
	var flags globalFlags
	a := &app{}

	root := &cobra.Command{
		Use:   "iframe-remote",
		Short: "Host/frame messaging, RPC and devtools over TCP or etcd",
		Long: `iframe-remote connects a host and an embedded frame over one logical channel.
The frame side (serve) exposes rpc methods, a request handler and a devtools
function registry; the host side (call, request, devtools) talks to it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if flags.configPath != "" {
				loaded, err := config.Load(flags.configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			if err := flags.apply(cmd, &cfg); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			logging.ConfigureRuntime()
			a.cfg = cfg
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "TOML config file")
	pf.StringVar(&flags.addr, "addr", "", "TCP address to listen on or dial (overrides transport.addr)")
	pf.StringVar(&flags.channel, "channel", "", "channel name (overrides channel.name)")
	pf.StringVar(&flags.codec, "codec", "", "wire codec: json or binary (overrides channel.codec)")
	pf.StringVar(&flags.timeout, "timeout", "", "call timeout, e.g. 5s (overrides channel.timeout)")
	pf.BoolVar(&flags.debug, "debug", false, "log every send and receive")

	root.AddCommand(
		newServeCmd(a),
		newCallCmd(a),
		newRequestCmd(a),
		newDevtoolsCmd(a),
		newVersionCmd(),
	)
	return root
}

func (f *globalFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("addr") {
		cfg.Transport.Addr = f.addr
	}
	if flags.Changed("channel") {
		cfg.Channel.Name = f.channel
	}
	if flags.Changed("codec") {
		cfg.Channel.Codec = f.codec
	}
	if flags.Changed("timeout") {
		var d config.Duration
		if err := d.UnmarshalText([]byte(f.timeout)); err != nil {
			return fmt.Errorf("invalid --timeout: %w", err)
		}
		cfg.Channel.Timeout = d
	}
	if flags.Changed("debug") {
		cfg.Channel.Debug = f.debug
	}
	return nil
}
