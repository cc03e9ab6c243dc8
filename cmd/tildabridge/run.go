package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/emfcamp/tildabridge/bridge"
	"github.com/emfcamp/tildabridge/device/hal/fifo"
	"github.com/emfcamp/tildabridge/internal/board"
	"github.com/emfcamp/tildabridge/internal/config"
	"github.com/emfcamp/tildabridge/internal/firmware"
	"github.com/emfcamp/tildabridge/internal/metrics"
	"github.com/emfcamp/tildabridge/pkg"
	"github.com/emfcamp/tildabridge/pkg/prof"
)

func newRunCmd(o *options) *cobra.Command {
	var cpuProfile, heapProfile string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Bridge the UART over the FIFO bus",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if cpuProfile != "" {
				stopCPU, err := prof.StartCPU(cpuProfile)
				if err != nil {
					return err
				}
				defer stopCPU()
			}
			err := runBridge(ctx, o.cfg)
			if heapProfile != "" {
				if herr := prof.WriteHeap(heapProfile); herr != nil {
					pkg.LogWarn(component, "heap profile not written", "error", herr)
				}
			}
			return err
		},
	}
	if prof.Enabled {
		cmd.Flags().StringVar(&cpuProfile, "cpu-profile", "", "write a CPU profile to this file")
		cmd.Flags().StringVar(&heapProfile, "heap-profile", "", "write a heap profile to this file on exit")
	}
	return cmd
}

// runBridge claims the board, attaches the device to the FIFO bus and
// runs the bridge, the UART reader and the optional metrics endpoint
// until ctx ends or one of them fails.
func runBridge(ctx context.Context, cfg config.Config) error {
	periph, err := board.Claim(cfg)
	if err != nil {
		return err
	}
	defer periph.Close()

	fw, err := firmware.Assemble(fifo.New(cfg.Bus.Dir), cfg, periph.Serial)
	if err != nil {
		return err
	}
	if err := fw.Device.Start(ctx); err != nil {
		return err
	}
	defer fw.Device.Stop()

	br, err := bridge.New(fw.Device, periph.UART, periph.Pins, bridge.Options{
		InvertControlLines: cfg.GPIO.InvertControlLines,
		IdleInterval:       cfg.GPIO.IdleInterval,
	}, fw.Interfaces()...)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return periph.UART.Run(ctx) })
	g.Go(func() error { return br.Run(ctx) })
	if cfg.Metrics.Listen != "" {
		reg := metrics.NewRegistry(metrics.NewCollector(br.Stats, periph.UART.Overruns))
		g.Go(func() error { return metrics.Serve(ctx, cfg.Metrics.Listen, reg) })
	}

	pkg.LogInfo(component, "bridge started",
		"uart", cfg.UART.Device,
		"baud", cfg.UART.BaudRate,
		"bus", cfg.Bus.Dir,
		"serial", periph.Serial)
	err = g.Wait()
	pkg.LogInfo(component, "bridge stopped", "stats", br.Stats())
	return err
}
