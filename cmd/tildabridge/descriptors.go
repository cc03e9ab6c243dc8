package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/emfcamp/tildabridge/device/hal/loopback"
	"github.com/emfcamp/tildabridge/internal/board"
	"github.com/emfcamp/tildabridge/internal/firmware"
	"github.com/emfcamp/tildabridge/internal/usbid"
)

func newDescriptorsCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "descriptors",
		Short: "Print the device, configuration, BOS and MS OS 2.0 descriptors",
		Long: `descriptors renders the descriptors the configured device sends to a host
as hex dumps, and checks that the MS OS 2.0 set length advertised in the
BOS descriptor matches the set itself.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fw, err := firmware.Assemble(loopback.New(), o.cfg, board.SerialNumber(o.cfg.USB.SerialNumber))
			if err != nil {
				return err
			}
			d, err := fw.Descriptors()
			if err != nil {
				return err
			}
			vid, pid := o.cfg.USB.VendorID, o.cfg.USB.ProductID
			fmt.Fprintf(cmd.OutOrStdout(), "device %04x:%04x", vid, pid)
			if names, err := usbid.Open(); err == nil {
				fmt.Fprintf(cmd.OutOrStdout(), " %q %q", names.Vendor(vid), names.Product(vid, pid))
			}
			fmt.Fprintln(cmd.OutOrStdout())
			if err := d.Dump(cmd.OutOrStdout()); err != nil {
				return err
			}
			if err := d.Check(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "msos20 length check: ok (%d bytes)\n", len(d.MSOSSet))
			return nil
		},
	}
}
