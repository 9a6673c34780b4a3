package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/mineclover/iframe-remote/devtools"
)

func newDevtoolsCmd(a *app) *cobra.Command {
	var format string
	root := &cobra.Command{
		Use:   "devtools",
		Short: "Discover and call the frame's devtools functions",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// cobra runs only the nearest PersistentPreRunE
			if err := cmd.Root().PersistentPreRunE(cmd, args); err != nil {
				return err
			}
			return checkFormat(format)
		},
	}
	root.PersistentFlags().StringVarP(&format, "output", "o", formatTable, "output format: table, json or yaml")

	withClient := func(ctx context.Context, fn func(*devtools.Client) (any, error)) (any, error) {
		h, err := a.connect(ctx)
		if err != nil {
			return nil, err
		}
		defer h.Close()
		return fn(devtools.NewClient(h.engine))
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List the exposed functions with their parameter schemas",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := withClient(cmd.Context(), func(c *devtools.Client) (any, error) {
				return c.List(cmd.Context())
			})
			if err != nil {
				return err
			}
			return writeValue(cmd.OutOrStdout(), format, v)
		},
	}

	call := &cobra.Command{
		Use:     "call <name> [json-args...]",
		Short:   "Call an exposed function by name",
		Example: `  iframe-remote devtools call __greet '"World"'`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer h.Close()
			result, err := devtools.NewClient(h.engine).Call(cmd.Context(), args[0], parseArgs(args[1:])...)
			if err != nil {
				return err
			}
			return writeRaw(cmd.OutOrStdout(), format, result)
		},
	}

	refresh := &cobra.Command{
		Use:   "refresh",
		Short: "Rescan the frame's namespace and print the function count",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := withClient(cmd.Context(), func(c *devtools.Client) (any, error) {
				return c.Refresh(cmd.Context())
			})
			if err != nil {
				return err
			}
			return writeValue(cmd.OutOrStdout(), format, v)
		},
	}

	config := &cobra.Command{
		Use:   "config",
		Short: "Show the frame's discovery settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := withClient(cmd.Context(), func(c *devtools.Client) (any, error) {
				return c.Config(cmd.Context())
			})
			if err != nil {
				return err
			}
			return writeValue(cmd.OutOrStdout(), format, v)
		},
	}

	root.AddCommand(list, call, refresh, config)
	return root
}
