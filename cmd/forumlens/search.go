package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/WessleyAI/forumlens/engine/domain"
	"github.com/WessleyAI/forumlens/engine/retrieval"
)

// retrieval builds the query service. Graph insights are added when Neo4j
// is configured.
func (a *app) retrieval(ctx context.Context) (*retrieval.Service, error) {
	emb, err := a.embedder()
	if err != nil {
		return nil, err
	}
	vs, err := a.vectors(ctx)
	if err != nil {
		return nil, err
	}
	opts := retrieval.Options{Metrics: a.reg}
	g, err := a.graph(ctx)
	if err != nil {
		return nil, err
	}
	if g != nil {
		opts.Graph = g
	}
	return retrieval.New(emb, vs, opts, a.log), nil
}

func searchCmd(a *app) *cobra.Command {
	var (
		sources string
		topK    int
		recency float64
		asCtx   bool
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Query forum, blog and video chunks",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			kinds, err := domain.ParseSourceKinds(sources)
			if err != nil {
				return err
			}
			svc, err := a.retrieval(ctx)
			if err != nil {
				return err
			}
			q := retrieval.Query{Text: strings.Join(args, " "), Sources: kinds, TopK: topK, RecencyWeight: recency}
			if asCtx {
				text, _, err := svc.Context(ctx, q)
				if err != nil {
					return err
				}
				_, err = fmt.Fprint(cmd.OutOrStdout(), text)
				return err
			}
			results, err := svc.Search(ctx, q)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), results)
		},
	}
	f := cmd.Flags()
	f.StringVar(&sources, "sources", "", "comma-separated source kinds: forum, blog, video (default all)")
	f.IntVar(&topK, "top-k", 0, "results to return (default 5)")
	f.Float64Var(&recency, "recency", 0, "weight of the recency boost (0 disables it)")
	f.BoolVar(&asCtx, "context", false, "print a prompt context block instead of JSON")
	return cmd
}
