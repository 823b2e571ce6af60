package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"gorm/dbrouter"
	"gorm/dbrouter/config"
)

func loadRouter() (*config.Config, *dbrouter.Router, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	router, err := config.Build(cfg, nil)
	if err != nil {
		return nil, nil, err
	}
	return cfg, router, nil
}

func routeCmd() *cobra.Command {
	var (
		cluster string
		nodes   []string
	)
	cmd := &cobra.Command{
		Use:   "route [sql]",
		Short: "Show which node a statement routes to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, router, err := loadRouter()
			if err != nil {
				return err
			}
			defer config.Close(router)

			ctx := context.Background()
			if len(nodes) > 0 {
				ctx = dbrouter.WithForceRouting(ctx, cluster, nodes, false)
			}
			info, err := router.Route(ctx, dbrouter.RoutingKey{Sql: args[0], Cluster: cluster})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cluster:  %s\n", info.Cluster)
			fmt.Fprintf(cmd.OutOrStdout(), "node:     %s\n", info.NodeName())
			fmt.Fprintf(cmd.OutOrStdout(), "rule:     %v (priority %d)\n", info.HitRule, info.HitPriority)
			if attr := info.SqlAttribute; attr != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "type:     %s write=%t\n", attr.Type, attr.IsWrite())
				fmt.Fprintf(cmd.OutOrStdout(), "tables:   %s\n", strings.Join(attr.Tables, ", "))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&cluster, "cluster", "", "Cluster to route in")
	cmd.Flags().StringSliceVar(&nodes, "force", nil, "Force routing to these nodes")
	return cmd
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run one heartbeat against every datasource",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, router, err := loadRouter()
			if err != nil {
				return err
			}
			defer config.Close(router)

			checker := config.NewHealthChecker(cfg, router, nil)
			ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeout)*time.Second)
			defer cancel()

			failed := 0
			for i, ds := range router.DataSources().All() {
				status := "ok"
				if err := checker.CheckOne(ctx, ds); err != nil {
					status = err.Error()
					failed++
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d) %s - %s - %s - %s\n",
					i+1, ds.Name, ds.Node.Type(), ds.Node.State(), status)
			}
			if failed > 0 {
				return errors.Errorf("%d datasource(s) failed", failed)
			}
			return nil
		},
	}
}

func hintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hint key=value... -- [sql]",
		Short: "Prefix a statement with a routing hint",
		Example: `  dbrouter hint nodeName=read_1 -- "select * from orders"
  dbrouter hint clusterName=orders nodeName=write_1 -- "update orders set paid = 1"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pairs, sql := args, ""
			if at := cmd.ArgsLenAtDash(); at >= 0 {
				pairs, sql = args[:at], strings.Join(args[at:], " ")
			}
			var kv []string
			for _, p := range pairs {
				k, v, ok := strings.Cut(p, "=")
				if !ok || strings.TrimSpace(k) == "" {
					return errors.Errorf("invalid hint %q, want key=value", p)
				}
				kv = append(kv, strings.TrimSpace(k), strings.TrimSpace(v))
			}
			out := dbrouter.FormatHint(kv...)
			if sql != "" {
				out += " " + sql
			}
			// reject values the parser would not read back, e.g. containing ";"
			if _, _, err := dbrouter.ParseHint(out); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
}
