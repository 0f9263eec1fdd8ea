package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/mellowdrifter/snmpv2c/internal/config"
	"github.com/mellowdrifter/snmpv2c/internal/protocol"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var errExit = errors.New("exit")

const shellHelp = `Commands:
  get OID...              fetch one or more OIDs
  next OID                fetch the OID after OID
  walk OID                walk the subtree below OID
  set OID TYPE VALUE      set OID; TYPE is one of i s o a c u t C n
  host HOST...            change the target hosts
  community NAME          change the community
  timeouts MS[,MS...]     change the retransmission schedule
  show                    print the current settings
  help                    print this help
  exit                    leave the shell
`

func newShellCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Interactive session against one or more agents",
		Args:  cobra.NoArgs,
		RunE: a.runE(func(cmd *cobra.Command, _ []string) error {
			if a.registry != nil {
				srv := a.serveMetrics()
				defer srv.Close()
			}
			return a.shell(cmd)
		}),
	}
	cmd.Flags().StringVar(&a.metricsAddr, "metrics-listen", "", "serve Prometheus metrics on this address, e.g. :9116")
	return cmd
}

func (a *app) serveMetrics() *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              a.metricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Errorf("Metrics server failed: %v", err)
		}
	}()
	a.logger.Infof("Serving metrics on %s", a.metricsAddr)
	return srv
}

func (a *app) shell(cmd *cobra.Command) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          a.prompt(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete: readline.NewPrefixCompleter(
			readline.PcItem("get"),
			readline.PcItem("next"),
			readline.PcItem("walk"),
			readline.PcItem("set"),
			readline.PcItem("host"),
			readline.PcItem("community"),
			readline.PcItem("timeouts"),
			readline.PcItem("show"),
			readline.PcItem("help"),
			readline.PcItem("exit"),
		),
		Stdout: cmd.OutOrStdout(),
		Stderr: cmd.ErrOrStderr(),
	})
	if err != nil {
		return fmt.Errorf("readline: %w", err)
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		err = a.dispatch(cmd, line)
		switch {
		case errors.Is(err, errExit):
			return nil
		case commandContext(cmd).Err() != nil:
			return commandContext(cmd).Err()
		case err != nil:
			fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", err)
		}
		rl.SetPrompt(a.prompt())
	}
}

func (a *app) prompt() string {
	return fmt.Sprintf("snmp %s> ", strings.Join(a.hosts, ","))
}

// dispatch runs one shell line.
func (a *app) dispatch(cmd *cobra.Command, line string) error {
	fields := strings.Fields(line)
	name, args := fields[0], fields[1:]
	out := cmd.OutOrStdout()

	switch name {
	case "get":
		if len(args) == 0 {
			return errors.New("usage: get OID...")
		}
		oids, err := parseOIDs(args)
		if err != nil {
			return err
		}
		return a.each(cmd, func(ctx context.Context, host string) ([]protocol.VarBind, error) {
			return a.sess.GetAll(ctx, oids, a.hostOptions(host))
		})

	case "next", "walk":
		if len(args) != 1 {
			return fmt.Errorf("usage: %s OID", name)
		}
		oid, err := protocol.ParseOID(args[0])
		if err != nil {
			return err
		}
		return a.each(cmd, func(ctx context.Context, host string) ([]protocol.VarBind, error) {
			if name == "next" {
				return a.sess.GetNext(ctx, oid, a.hostOptions(host))
			}
			return a.sess.GetSubtree(ctx, oid, a.hostOptions(host))
		})

	case "set":
		if len(args) != 3 {
			return errors.New("usage: set OID TYPE VALUE")
		}
		oid, tag, value, err := parseSet(args)
		if err != nil {
			return err
		}
		return a.each(cmd, func(ctx context.Context, host string) ([]protocol.VarBind, error) {
			return a.sess.Set(ctx, oid, value, tag, a.hostOptions(host))
		})

	case "host":
		if len(args) == 0 {
			return errors.New("usage: host HOST...")
		}
		a.hosts = args

	case "community":
		if len(args) != 1 {
			return errors.New("usage: community NAME")
		}
		a.opts.Community = args[0]

	case "timeouts":
		if len(args) != 1 {
			return errors.New("usage: timeouts MS[,MS...]")
		}
		timeouts, err := config.ParseTimeouts(args[0])
		if err != nil {
			return err
		}
		a.opts.Timeouts = timeouts

	case "show":
		fmt.Fprintf(out, "hosts:     %s\nport:      %d\ncommunity: %s\nfamily:    %s\ntimeouts:  %v ms\n",
			strings.Join(a.hosts, ", "), a.opts.Port, a.opts.Community, a.opts.Family, config.Milliseconds(a.opts.Timeouts))

	case "help", "?":
		fmt.Fprint(out, shellHelp)

	case "exit", "quit":
		return errExit

	default:
		return fmt.Errorf("unknown command %q, try help", name)
	}
	return nil
}
