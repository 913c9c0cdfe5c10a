package main

import (
	"github.com/spf13/cobra"

	"github.com/WessleyAI/forumlens/engine/semantic"
	"github.com/WessleyAI/forumlens/engine/store"
	"github.com/WessleyAI/forumlens/pkg/config"
)

func migrateCmd(a *app) *cobra.Command {
	var vectors, graph bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			pool, err := a.db(ctx, 0)
			if err != nil {
				return err
			}
			if err := store.Migrate(ctx, pool); err != nil {
				return err
			}
			a.log.Info("database migrated")

			if vectors {
				vs, err := semantic.New(a.cfg.Qdrant.Addr, a.cfg.Qdrant.Collection)
				if err != nil {
					return err
				}
				defer vs.Close()
				if err := vs.EnsureCollection(ctx, a.cfg.Embedding.Dimensions); err != nil {
					return err
				}
				a.log.Info("vector collection ready", "collection", a.cfg.Qdrant.Collection, "dims", a.cfg.Embedding.Dimensions)
			}
			if graph {
				if err := a.cfg.Validate(config.NeedGraph); err != nil {
					return err
				}
				if _, err := a.graph(ctx); err != nil {
					return err
				}
				a.log.Info("graph schema ready")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&vectors, "vectors", false, "also create the Qdrant collection")
	cmd.Flags().BoolVar(&graph, "graph", false, "also create the Neo4j constraints")
	return cmd
}
