// Command tildabridge bridges the TiLDA co-processor UART to USB, exposing
// it as a CDC-ACM port and a WebUSB serial interface at the same time.
//
// Usage:
//
//	tildabridge [flags] <command>
//
// Commands:
//
//	run          bridge the UART over the FIFO bus using the board GPIOs
//	descriptors  print the configuration, BOS and MS OS 2.0 descriptors
//	selftest     enumerate on a loopback bus and echo through a fake UART
//	version      print the build version
//
// Global flags:
//
//	--config path    configuration file (default: tildabridge.yaml, optional)
//	-v, --verbose    enable debug logging
//	--json           use JSON log format
//	--log-file path  write logs to a size-rotated file
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/emfcamp/tildabridge/pkg"
)

// component identifies this executable for structured logging.
const component = pkg.ComponentBridge

func main() {
	o := &options{}
	if err := runCommand(o, newRootCmd(o)); err != nil {
		os.Exit(1)
	}
}

// runCommand executes root, logs a failure and closes the log file.
func runCommand(o *options, root *cobra.Command) error {
	err := root.Execute()
	if err != nil {
		pkg.LogError(component, "command failed", "error", err)
	}
	if cerr := o.closeLog(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
