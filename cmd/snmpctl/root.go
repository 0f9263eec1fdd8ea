package main

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/mellowdrifter/snmpv2c/internal/config"
	"github.com/mellowdrifter/snmpv2c/internal/logging"
	"github.com/mellowdrifter/snmpv2c/internal/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// app carries state shared by every command.
type app struct {
	getenv func(string) string

	// flags
	hosts       []string
	port        int
	community   string
	family      string
	timeouts    []int
	abort       bool
	logLevel    string
	logFormat   string
	metricsAddr string

	logger   *zap.SugaredLogger
	opts     config.Options
	sess     *session.Session
	registry *prometheus.Registry
}

func newRootCmd(getenv func(string) string) *cobra.Command {
	a := &app{getenv: getenv}

	root := &cobra.Command{
		Use:           "snmpctl",
		Short:         "Query SNMPv2c agents",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.open()
		},
	}

	f := root.PersistentFlags()
	f.StringSliceVar(&a.hosts, "host", nil, "agent host or host:port; repeat to query several hosts concurrently (env SNMP_HOST)")
	f.IntVar(&a.port, "port", 0, "agent UDP port (env SNMP_PORT, default 161)")
	f.StringVar(&a.community, "community", "", "community string (env SNMP_COMMUNITY, default public)")
	f.StringVar(&a.family, "family", "", "udp4 or udp6 (env SNMP_FAMILY, default udp4)")
	f.IntSliceVar(&a.timeouts, "timeouts", nil, "retransmission schedule in ms (env SNMP_TIMEOUTS, default 250,500,1000,2500,5000)")
	f.BoolVar(&a.abort, "abort-on-error", true, "fail a multi-OID get on the first failed request instead of printing what succeeded")
	f.StringVar(&a.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	f.StringVar(&a.logFormat, "log-format", "console", "log encoding (console, json)")

	root.AddCommand(
		newGetCmd(a),
		newNextCmd(a),
		newWalkCmd(a),
		newSetCmd(a),
		newShellCmd(a),
	)
	return root
}

// open resolves options as flags over environment over defaults, then opens
// the session every command shares.
func (a *app) open() error {
	a.logger = logging.New(a.logLevel, a.logFormat)

	env, err := config.FromEnv(a.getenv)
	if err != nil {
		return err
	}

	flags := config.Options{
		Port:         a.port,
		Community:    a.community,
		Family:       a.family,
		AbortOnError: a.abort,
	}
	if len(a.hosts) > 0 {
		flags.Host, _ = splitHost(a.hosts[0])
	}
	for _, ms := range a.timeouts {
		flags.Timeouts = append(flags.Timeouts, time.Duration(ms)*time.Millisecond)
	}

	a.opts = config.Resolve(flags, env, config.Defaults())
	if err := a.opts.Validate(); err != nil {
		return err
	}
	if len(a.hosts) == 0 {
		a.hosts = []string{a.opts.Host}
	}

	var sessOpts []session.Option
	if a.metricsAddr != "" {
		a.registry = prometheus.NewRegistry()
		sessOpts = append(sessOpts, session.WithMetrics(session.NewMetrics(a.registry)))
	}

	a.sess, err = session.New(a.opts, a.logger, sessOpts...)
	if err != nil {
		return fmt.Errorf("failed to open session: %w", err)
	}
	a.logger.Debugf("Using %s community %q timeouts %v", a.opts.Address(), a.opts.Community, config.Milliseconds(a.opts.Timeouts))
	return nil
}

// runE wraps a command so the session is closed however it ends.
func (a *app) runE(fn func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		return multierr.Append(fn(cmd, args), a.close())
	}
}

func (a *app) close() error {
	if a.sess == nil {
		return nil
	}
	err := a.sess.Close()
	a.sess = nil
	_ = a.logger.Sync()
	return err
}

// hostOptions returns per-call options targeting host, which may carry its
// own port as host:port.
func (a *app) hostOptions(host string) config.Options {
	o := a.opts
	h, port := splitHost(host)
	o.Host = h
	if port != 0 {
		o.Port = port
	}
	return o
}

// splitHost separates an optional port from host. A bare IPv6 address has no
// port.
func splitHost(host string) (string, int) {
	h, p, err := net.SplitHostPort(host)
	if err != nil {
		return host, 0
	}
	port, err := strconv.Atoi(p)
	if err != nil {
		return host, 0
	}
	return h, port
}
