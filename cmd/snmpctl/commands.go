package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/mellowdrifter/snmpv2c/internal/protocol"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// maxConcurrentHosts bounds how many agents are queried at once.
const maxConcurrentHosts = 16

func newGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get OID...",
		Short: "Fetch one or more OIDs",
		Args:  cobra.MinimumNArgs(1),
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			oids, err := parseOIDs(args)
			if err != nil {
				return err
			}
			return a.each(cmd, func(ctx context.Context, host string) ([]protocol.VarBind, error) {
				return a.sess.GetAll(ctx, oids, a.hostOptions(host))
			})
		}),
	}
}

func newNextCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "next OID",
		Short: "Fetch the OID following the given one",
		Args:  cobra.ExactArgs(1),
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			oid, err := protocol.ParseOID(args[0])
			if err != nil {
				return err
			}
			return a.each(cmd, func(ctx context.Context, host string) ([]protocol.VarBind, error) {
				return a.sess.GetNext(ctx, oid, a.hostOptions(host))
			})
		}),
	}
}

func newWalkCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "walk OID",
		Short: "Walk every OID below the given one",
		Args:  cobra.ExactArgs(1),
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			root, err := protocol.ParseOID(args[0])
			if err != nil {
				return err
			}
			return a.each(cmd, func(ctx context.Context, host string) ([]protocol.VarBind, error) {
				return a.sess.GetSubtree(ctx, root, a.hostOptions(host))
			})
		}),
	}
}

func newSetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "set OID TYPE VALUE",
		Short: "Set an OID; TYPE is one of i s o a c u t C n",
		Args:  cobra.ExactArgs(3),
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			oid, tag, value, err := parseSet(args)
			if err != nil {
				return err
			}
			return a.each(cmd, func(ctx context.Context, host string) ([]protocol.VarBind, error) {
				return a.sess.Set(ctx, oid, value, tag, a.hostOptions(host))
			})
		}),
	}
}

// each runs fn against every configured host concurrently, prints the
// combined table and returns the failures of all hosts. A failing host never
// cancels the others.
func (a *app) each(cmd *cobra.Command, fn func(context.Context, string) ([]protocol.VarBind, error)) error {
	results := make([]hostResult, len(a.hosts))

	ctx := commandContext(cmd)
	var g errgroup.Group
	g.SetLimit(maxConcurrentHosts)

	var (
		mu   sync.Mutex
		errs error
	)
	for i, host := range a.hosts {
		g.Go(func() error {
			vbs, err := fn(ctx, host)
			if err != nil {
				a.logger.Debugf("Request to %s failed: %v", host, err)
				mu.Lock()
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", host, err))
				mu.Unlock()
				return nil
			}
			results[i] = hostResult{host: host, varbinds: vbs}
			return nil
		})
	}
	_ = g.Wait() // failures are collected in errs

	renderTable(cmd.OutOrStdout(), results, len(a.hosts) > 1)
	return errs
}

func parseOIDs(args []string) ([]protocol.OID, error) {
	oids := make([]protocol.OID, 0, len(args))
	for _, arg := range args {
		oid, err := protocol.ParseOID(arg)
		if err != nil {
			return nil, err
		}
		oids = append(oids, oid)
	}
	return oids, nil
}

func parseSet(args []string) (protocol.OID, protocol.Tag, any, error) {
	oid, err := protocol.ParseOID(args[0])
	if err != nil {
		return nil, 0, nil, err
	}
	tag, err := protocol.ParseTag(args[1])
	if err != nil {
		return nil, 0, nil, err
	}
	value, err := protocol.ParseValue(tag, args[2])
	if err != nil {
		return nil, 0, nil, err
	}
	return oid, tag, value, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
