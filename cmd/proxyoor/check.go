package main

import (
	"fmt"

	"github.com/ethpandaops/proxyoor/pkg/config"
	"github.com/ethpandaops/proxyoor/pkg/route"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newCheckCmd(log *logrus.Logger) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate configuration",
		Long:  `Load and validate the configuration file, then print the route table.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(log, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml",
		"Path to configuration file")

	return cmd
}

func runCheck(log *logrus.Logger, configPath string) error {
	log.WithField("path", configPath).Info("Loading configuration")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	fmt.Println(cfg.String())

	fmt.Printf("Routes (%d, matched in order):\n", len(cfg.Routes))

	for _, rt := range route.NewTable(cfg.Routes).Routes() {
		line := fmt.Sprintf("  %-6s %-32s -> %s (timeout %s", rt.Method, rt.Path, rt.Service, rt.Timeout)

		if rt.RequiresAuth {
			line += ", auth"
		}

		if rt.CacheTTL > 0 {
			line += fmt.Sprintf(", cache %s", rt.CacheTTL)
		}

		if rt.RateLimit != nil {
			line += fmt.Sprintf(", limit %d/%s", rt.RateLimit.MaxRequests, rt.RateLimit.Window)
		}

		fmt.Println(line + ")")
	}

	log.Info("Configuration is valid")

	return nil
}
