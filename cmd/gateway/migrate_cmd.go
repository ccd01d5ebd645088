package main

import (
	"github.com/spf13/cobra"

	"github.com/sipeed/gatewaybridge/pkg/config"
	"github.com/sipeed/gatewaybridge/pkg/identity"
	"github.com/sipeed/gatewaybridge/pkg/logger"
)

// newMigrateCmd applies the Identity Store's sqlite schema and exits.
// identity.Open already runs the schema on every call (CREATE TABLE IF NOT
// EXISTS), so this command exists mainly for deploy tooling that wants a
// distinct, explicit migration step rather than relying on the first
// `serve` start to create the schema implicitly.
func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the Identity Store schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			store, err := identity.Open(cfg.SQLitePath)
			if err != nil {
				return err
			}
			defer store.Close()
			logger.InfoCF("gateway", "identity schema migrated", map[string]any{"path": cfg.SQLitePath})
			return nil
		},
	}
}
