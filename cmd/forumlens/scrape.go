package main

import (
	"github.com/spf13/cobra"

	"github.com/WessleyAI/forumlens/engine/discourse"
	"github.com/WessleyAI/forumlens/engine/scrape"
	"github.com/WessleyAI/forumlens/engine/store"
	"github.com/WessleyAI/forumlens/pkg/config"
)

func scrapeCmd(a *app) *cobra.Command {
	var opts scrape.Options
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Fetch latest forum topics and store new or changed ones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if err := a.cfg.Validate(config.NeedDatabase | config.NeedDiscourse); err != nil {
				return err
			}
			pool, err := a.db(ctx, 0)
			if err != nil {
				return err
			}
			lim, err := a.forumLimiter(ctx)
			if err != nil {
				return err
			}
			bus, err := a.bus()
			if err != nil {
				return err
			}
			d := a.cfg.Discourse
			client := discourse.New(discourse.Config{
				BaseURL:          d.BaseURL,
				APIKey:           d.APIKey,
				APIUsername:      d.APIUsername,
				RateLimitBackoff: d.RateLimitBackoff,
			}, lim, a.log)

			sum := scrape.New(client, store.NewTopics(pool), bus, a.reg, a.log).Run(ctx, opts)
			return printJSON(cmd.OutOrStdout(), sum)
		},
	}
	f := cmd.Flags()
	f.IntVar(&opts.Pages, "pages", 1, "latest.json pages to walk")
	f.IntVar(&opts.MaxTopics, "max-topics", 0, "stop after this many topics (0 = no limit)")
	f.Int64SliceVar(&opts.TopicIDs, "topic", nil, "scrape these topic ids instead of the latest list")
	return cmd
}
