package main

import (
	"github.com/spf13/cobra"

	"github.com/emfcamp/tildabridge/internal/board"
	"github.com/emfcamp/tildabridge/internal/firmware"
)

func newSelfTestCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "selftest",
		Short: "Enumerate on a loopback bus and echo through a fake UART",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			serial := board.SerialNumber(o.cfg.USB.SerialNumber)
			return firmware.SelfTest(cmd.Context(), o.cfg, serial, cmd.OutOrStdout())
		},
	}
}
