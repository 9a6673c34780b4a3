package main

import (
	"github.com/spf13/cobra"
)

func newCallCmd(a *app) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "call <method> [json-args...]",
		Short: "Call an rpc method on the frame and print its result",
		Example: `  iframe-remote call add 10 20
  iframe-remote call echo '{"a":1}'
  iframe-remote call Clock.Now`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			h, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer h.Close()

			result, err := h.engine.Call(cmd.Context(), args[0], parseArgs(args[1:])...)
			if err != nil {
				return err
			}
			return writeRaw(cmd.OutOrStdout(), format, result)
		},
	}
	cmd.Flags().StringVarP(&format, "output", "o", formatJSON, "output format: json or yaml")
	return cmd
}

func newRequestCmd(a *app) *cobra.Command {
	var (
		format string
		noWait bool
	)
	cmd := &cobra.Command{
		Use:   "request <json-payload>",
		Short: "Send a messenger request to the frame and print the response",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			h, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer h.Close()

			payload := parseArgs(args)[0]
			if noWait {
				h.msgr.Send(payload)
				return nil
			}
			resp, err := h.msgr.Request(cmd.Context(), payload)
			if err != nil {
				return err
			}
			return writeRaw(cmd.OutOrStdout(), format, resp)
		},
	}
	cmd.Flags().StringVarP(&format, "output", "o", formatJSON, "output format: json or yaml")
	cmd.Flags().BoolVar(&noWait, "no-reply", false, "send a plain message without waiting for a response")
	return cmd
}
