package main

import (
	"github.com/spf13/cobra"

	"github.com/WessleyAI/forumlens/engine/graph"
	"github.com/WessleyAI/forumlens/engine/store"
)

type statsReport struct {
	store.Stats
	TopUsers []graph.UserActivity `json:"top_users,omitempty"`
}

func statsCmd(a *app) *cobra.Command {
	var users int
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print topic and analysis counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			pool, err := a.db(ctx, 0)
			if err != nil {
				return err
			}
			st, err := store.NewTopics(pool).Stats(ctx)
			if err != nil {
				return err
			}
			rep := statsReport{Stats: st}
			if users > 0 {
				g, err := a.graph(ctx)
				if err != nil {
					return err
				}
				if g != nil {
					if rep.TopUsers, err = g.TopUsers(ctx, users); err != nil {
						return err
					}
				}
			}
			return printJSON(cmd.OutOrStdout(), rep)
		},
	}
	cmd.Flags().IntVar(&users, "users", 0, "also list this many of the most active users (needs NEO4J_URL)")
	return cmd
}
