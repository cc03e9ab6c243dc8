package main

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/emfcamp/tildabridge/internal/config"
	"github.com/emfcamp/tildabridge/pkg"
)

const defaultConfigFile = "tildabridge.yaml"

// options holds the global flags and the configuration they produce.
type options struct {
	configFile string
	verbose    bool
	jsonLog    bool
	logFile    string

	uartDevice    string
	baudRate      int
	busDir        string
	metricsListen string

	cfg       config.Config
	logCloser io.Closer
}

func newRootCmd(o *options) *cobra.Command {
	root := &cobra.Command{
		Use:           "tildabridge",
		Short:         "Bridge the TiLDA co-processor UART to USB",
		Long:          `tildabridge exposes the co-processor UART as a CDC-ACM port and a WebUSB serial interface, and drives the EN and IO0 boot pins from the host's DTR and RTS lines.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return o.setup(cmd)
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true

	pf := root.PersistentFlags()
	pf.StringVar(&o.configFile, "config", defaultConfigFile, "configuration file")
	pf.BoolVarP(&o.verbose, "verbose", "v", false, "enable debug logging")
	pf.BoolVar(&o.jsonLog, "json", false, "use JSON log format")
	pf.StringVar(&o.logFile, "log-file", "", "write logs to a size-rotated file")
	pf.StringVar(&o.uartDevice, "uart", "", "UART device (overrides uart.device)")
	pf.IntVar(&o.baudRate, "baud", 0, "UART baud rate (overrides uart.baud_rate)")
	pf.StringVar(&o.busDir, "bus-dir", "", "FIFO bus directory (overrides bus.dir)")
	pf.StringVar(&o.metricsListen, "metrics", "", "metrics listen address (overrides metrics.listen)")

	root.AddCommand(
		newRunCmd(o),
		newDescriptorsCmd(o),
		newSelfTestCmd(o),
		newVersionCmd(),
	)
	return root
}

// setup loads the configuration, applies flag overrides and configures
// logging. The default configuration file may be absent.
func (o *options) setup(cmd *cobra.Command) error {
	flags := cmd.Flags()
	cfg, err := config.Load(o.configFile, !flags.Changed("config"))
	if err != nil {
		return err
	}

	if flags.Changed("uart") {
		cfg.UART.Device = o.uartDevice
	}
	if flags.Changed("baud") {
		cfg.UART.BaudRate = o.baudRate
	}
	if flags.Changed("bus-dir") {
		cfg.Bus.Dir = o.busDir
	}
	if flags.Changed("metrics") {
		cfg.Metrics.Listen = o.metricsListen
	}
	if o.verbose {
		cfg.Log.Level = "debug"
	}
	if o.jsonLog {
		cfg.Log.Format = "json"
	}
	if flags.Changed("log-file") {
		cfg.Log.File = o.logFile
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	o.cfg = cfg

	level, _ := pkg.ParseLogLevel(cfg.Log.Level)
	format, _ := pkg.ParseLogFormat(cfg.Log.Format)
	pkg.SetLogLevel(level)
	var w io.Writer = os.Stderr
	if cfg.Log.File != "" {
		f := pkg.NewLogFile(cfg.Log.File, cfg.Log.MaxSizeMB, cfg.Log.MaxBackups)
		o.logCloser = f
		w = f
	}
	pkg.SetLogger(pkg.NewFormatLogger(w, format))
	pkg.LogDebug(component, "configuration loaded",
		"file", o.configFile,
		"level", pkg.GetLogLevel().String())
	return nil
}

// closeLog releases the log file, if any, and points logging back at
// os.Stderr. Cobra skips post-run hooks when a command fails, so this runs
// after Execute returns.
func (o *options) closeLog() error {
	if o.logCloser == nil {
		return nil
	}
	pkg.SetLogger(pkg.NewLogger(os.Stderr, nil))
	err := o.logCloser.Close()
	o.logCloser = nil
	return err
}
