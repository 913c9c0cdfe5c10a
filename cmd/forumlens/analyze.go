package main

import (
	"github.com/spf13/cobra"

	"github.com/WessleyAI/forumlens/engine/analysis"
	"github.com/WessleyAI/forumlens/engine/claim"
	"github.com/WessleyAI/forumlens/engine/store"
	"github.com/WessleyAI/forumlens/engine/worker"
)

func analyzeCmd(a *app) *cobra.Command {
	var (
		workers   int
		once      bool
		maxTopics int
	)
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Run analysis workers over unanalysed topics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if !cmd.Flags().Changed("workers") {
				workers = a.cfg.WorkerCount
			}
			if workers < 1 {
				workers = 1
			}
			// Advisory claims pin one connection per worker.
			pool, err := a.db(ctx, int32(workers)+2)
			if err != nil {
				return err
			}
			llm, model, err := a.completer(ctx)
			if err != nil {
				return err
			}
			claimer, err := a.claimer(pool)
			if err != nil {
				return err
			}
			bus, err := a.bus()
			if err != nil {
				return err
			}
			g, err := a.graph(ctx)
			if err != nil {
				return err
			}

			hooks := []analysis.Hook{bus.AnalysisSaved}
			if g != nil {
				hooks = append(hooks, g.Project)
			}
			topics := store.NewTopics(pool)
			pipe := analysis.New(topics, llm, store.NewAnalyses(pool), analysis.Options{
				Model:       model,
				Temperature: a.cfg.LLM.Temperature,
				LLMTimeout:  a.cfg.LLM.Timeout,
				AfterSave:   hooks,
				OnFailure:   bus.AnalysisFailed,
				Metrics:     a.reg,
				Logger:      a.log,
			})

			wopts := worker.Options{
				Workers:   workers,
				IdleWait:  a.cfg.IdleWait,
				Once:      once,
				MaxTopics: maxTopics,
				Metrics:   a.reg,
				Logger:    a.log,
			}
			if !once {
				wake, stop, err := bus.WakeOnStored()
				if err != nil {
					return err
				}
				defer stop()
				wopts.Wake = wake
			}

			coord := claim.NewCoordinator(topics, claimer, claim.Options{Logger: a.log})
			sum := worker.New(coord, pipe, wopts).Run(ctx)
			return printJSON(cmd.OutOrStdout(), sum)
		},
	}
	f := cmd.Flags()
	f.IntVar(&workers, "workers", 1, "concurrent workers (default WORKERS)")
	f.BoolVar(&once, "once", false, "exit when no topic is left instead of waiting")
	f.IntVar(&maxTopics, "max-topics", 0, "stop after this many topics (0 = no limit)")
	return cmd
}
