package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ehrlich-b/codeboxd/internal/audit"
	"github.com/ehrlich-b/codeboxd/internal/config"
	"github.com/ehrlich-b/codeboxd/internal/gateway"
	"github.com/ehrlich-b/codeboxd/internal/logger"
)

func main() {
	root := &cobra.Command{
		Use:   "codeboxd",
		Short: "sandboxed code-execution broker",
		RunE: func(cmd *cobra.Command, args []string) error {
			yamlPath, _ := cmd.Flags().GetString("config")
			auditPath, _ := cmd.Flags().GetString("audit-db")
			logLevel, _ := cmd.Flags().GetString("log-level")

			if err := logger.Init(logLevel, ""); err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			cfg, err := config.Load(yamlPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			trail, err := audit.Open(auditPath)
			if err != nil {
				return fmt.Errorf("open audit trail: %w", err)
			}
			defer trail.Close()

			gw := gateway.New(cfg, trail)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			addr := fmt.Sprintf(":%d", cfg.Port)
			logger.Info("codeboxd starting", "addr", addr, "workdir", cfg.WorkdirBase)
			return gw.ListenAndServe(ctx, addr)
		},
	}

	root.Flags().String("config", config.DefaultYAMLPath("."), "path to codebox.yaml")
	root.Flags().String("audit-db", filepath.Join(os.TempDir(), "codeboxd-audit.db"), "path to the audit sqlite database")
	root.Flags().String("log-level", "info", "log level: debug, info, warn, error")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
