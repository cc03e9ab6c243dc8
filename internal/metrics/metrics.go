// Package metrics exports bridge statistics to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/emfcamp/tildabridge/bridge"
	"github.com/emfcamp/tildabridge/pkg"
	"github.com/emfcamp/tildabridge/pkg/prof"
)

const namespace = "tildabridge"

// Collector reads bridge counters at scrape time.
type Collector struct {
	stats    func() bridge.Snapshot
	overruns func() uint64

	polls        *prometheus.Desc
	activePolls  *prometheus.Desc
	lineChanges  *prometheus.Desc
	usbToUART    *prometheus.Desc
	fromHost     *prometheus.Desc
	toHost       *prometheus.Desc
	dropped      *prometheus.Desc
	readFailures *prometheus.Desc
	uartOverruns *prometheus.Desc
}

// NewCollector returns a collector over stats. overruns reports UART
// receive overruns and may be nil.
func NewCollector(stats func() bridge.Snapshot, overruns func() uint64) *Collector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}
	return &Collector{
		stats:        stats,
		overruns:     overruns,
		polls:        desc("polls_total", "USB device polls."),
		activePolls:  desc("active_polls_total", "USB device polls that handled a transfer."),
		lineChanges:  desc("control_line_changes_total", "Changes of the combined DTR and RTS state."),
		usbToUART:    desc("usb_to_uart_bytes_total", "Bytes written to the UART."),
		fromHost:     desc("host_rx_bytes_total", "Bytes received from the host.", "interface"),
		toHost:       desc("host_tx_bytes_total", "UART bytes accepted for the host.", "interface"),
		dropped:      desc("dropped_bytes_total", "UART bytes an interface could not accept.", "interface"),
		readFailures: desc("read_failures_total", "Failed reads from an interface.", "interface"),
		uartOverruns: desc("uart_overruns_total", "Received UART bytes dropped because the FIFO was full."),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.polls
	ch <- c.activePolls
	ch <- c.lineChanges
	ch <- c.usbToUART
	ch <- c.fromHost
	ch <- c.toHost
	ch <- c.dropped
	ch <- c.readFailures
	if c.overruns != nil {
		ch <- c.uartOverruns
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.stats()
	counter := func(d *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}

	counter(c.polls, s.Polls)
	counter(c.activePolls, s.ActivePolls)
	counter(c.lineChanges, s.ControlLineChanges)
	counter(c.usbToUART, s.USBToUART)
	for _, i := range s.Interfaces {
		counter(c.fromHost, i.FromHost, i.Name)
		counter(c.toHost, i.ToHost, i.Name)
		counter(c.dropped, i.Dropped, i.Name)
		counter(c.readFailures, i.ReadFails, i.Name)
	}
	if c.overruns != nil {
		counter(c.uartOverruns, c.overruns())
	}
}

// NewRegistry returns a registry holding c and the Go runtime and process
// collectors.
func NewRegistry(c *Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		c,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Serve exposes reg on /metrics at addr until ctx ends.
func Serve(ctx context.Context, addr string, reg *prometheus.Registry) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return serve(ctx, ln, reg)
}

func serve(ctx context.Context, ln net.Listener, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	prof.Register(mux)
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	pkg.LogInfo(pkg.ComponentBridge, "serving metrics", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
