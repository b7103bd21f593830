package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"portfwd/fwd/common/logx"
	"portfwd/fwd/server"
)

var cmd = logx.New(logx.WithPrefix("cmd"))

const (
	defaultConfig = "./config/config.yaml"
)

// NewRootCmd 无子命令时直接启动服务
func NewRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:           "portfwd",
		Short:         "dynamic TCP port-forward engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(c *cobra.Command, args []string) error {
			return server.Run(cfgPath)
		},
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", defaultConfig, "config file")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "start forwards and the API",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			return server.Run(cfgPath)
		},
	}

	var asJSON bool
	rules := &cobra.Command{
		Use:   "rules",
		Short: "print the forward rules",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			return PrintRules(cfgPath, c.OutOrStdout(), asJSON)
		},
	}
	rules.Flags().BoolVar(&asJSON, "json", false, "print as JSON")

	purge := &cobra.Command{
		Use:   "purge <DATESPEC>",
		Short: "drop connection-log partitions",
		Long: `Drop connection-log partitions by date.

DATESPEC:
  20250906-20251006         range, both ends included
  20250906,20250907         comma separated list`,
		Example: "  portfwd purge 20250906-20250920\n  portfwd purge 20250906,20250907",
		Args:    cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return PurgeLogs(cfgPath, args[0], c.OutOrStdout())
		},
	}

	root.AddCommand(serve, rules, purge)
	return root
}

func Run() {
	if err := NewRootCmd().Execute(); err != nil {
		cmd.Errorf("%v", err)
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
