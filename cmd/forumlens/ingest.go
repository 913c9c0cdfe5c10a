package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/WessleyAI/forumlens/engine/content"
	"github.com/WessleyAI/forumlens/engine/domain"
	"github.com/WessleyAI/forumlens/engine/ingest"
	"github.com/WessleyAI/forumlens/pkg/fn"
)

func ingestCmd(a *app) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Chunk, embed and store content for retrieval",
	}
	cmd.PersistentFlags().BoolVar(&force, "force", false, "re-ingest items whose content is unchanged")
	cmd.AddCommand(
		ingestForumCmd(a, &force),
		ingestBlogCmd(a, &force),
		ingestVideoCmd(a, &force),
		ingestConsumeCmd(a),
	)
	return cmd
}

func ingestForumCmd(a *app, force *bool) *cobra.Command {
	var batch int
	cmd := &cobra.Command{
		Use:   "forum",
		Short: "Ingest Q&A pairs of every analysed topic",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			pool, err := a.db(ctx, 0)
			if err != nil {
				return err
			}
			in, err := a.ingestor(ctx, pool)
			if err != nil {
				return err
			}
			res, err := ingestForum(ctx, in, newAnalysisReader(pool), batch, *force)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().IntVar(&batch, "batch", 100, "topics loaded per page")
	return cmd
}

// ingestForum pages through analysed topics in id order until a page comes
// back empty.
func ingestForum(ctx context.Context, in *ingest.Ingestor, r ingest.AnalysisReader, batch int, force bool) (ingest.Result, error) {
	var (
		res   ingest.Result
		after int64
	)
	for ctx.Err() == nil {
		items, next, err := ingest.ForumItems(ctx, r, after, batch)
		if len(items) > 0 {
			res = res.Merge(in.Ingest(ctx, ingest.Batch{Kind: domain.SourceForum, Items: items, Force: force}))
		}
		if err != nil {
			return res, err
		}
		if len(items) == 0 || next == after {
			break
		}
		after = next
	}
	return res, ctx.Err()
}

func ingestBlogCmd(a *app, force *bool) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "blog",
		Short: "Ingest markdown articles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dir == "" {
				dir = a.cfg.ContentDir.BlogDir
			}
			items, failures, err := content.LoadBlog(dir)
			if err != nil {
				return err
			}
			return a.ingestFiles(cmd, domain.SourceBlog, items, failures, *force)
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "article directory (default BLOG_DIR)")
	return cmd
}

func ingestVideoCmd(a *app, force *bool) *cobra.Command {
	var (
		dir     string
		channel string
		limit   int
		videos  []string
	)
	cmd := &cobra.Command{
		Use:   "video",
		Short: "Fetch transcripts and ingest every transcript in the directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if dir == "" {
				dir = a.cfg.ContentDir.TranscriptDir
			}
			var fetchFailures []domain.Failure
			if channel != "" || len(videos) > 0 {
				yt := content.NewYouTube(a.cfg.YouTubeKey, nil)
				metas := fn.Map(fn.Unique(videos), func(id string) content.VideoMeta {
					return content.VideoMeta{VideoID: id}
				})
				if channel != "" {
					found, err := yt.ChannelVideos(ctx, channel, limit).Unwrap()
					if err != nil {
						return err
					}
					metas = append(metas, found...)
				}
				fetchFailures = fetchTranscripts(ctx, yt, dir, metas)
				a.log.Info("transcripts fetched", "requested", len(metas), "failed", len(fetchFailures))
			}

			items, failures, err := content.LoadTranscripts(dir)
			if err != nil {
				return err
			}
			return a.ingestFiles(cmd, domain.SourceVideo, items, append(fetchFailures, failures...), *force)
		},
	}
	f := cmd.Flags()
	f.StringVar(&dir, "dir", "", "transcript directory (default TRANSCRIPT_DIR)")
	f.StringVar(&channel, "channel", "", "fetch transcripts of this channel's recent videos first")
	f.IntVar(&limit, "limit", 25, "videos to fetch per channel")
	f.StringSliceVar(&videos, "video", nil, "fetch transcripts of these video ids first")
	return cmd
}

type transcriptSource interface {
	Transcript(ctx context.Context, v content.VideoMeta) fn.Result[content.Transcript]
}

// fetchTranscripts saves one JSON file per video into dir. Failed videos are
// reported and skipped.
func fetchTranscripts(ctx context.Context, yt transcriptSource, dir string, metas []content.VideoMeta) []domain.Failure {
	var failures []domain.Failure
	for _, v := range metas {
		if ctx.Err() != nil {
			break
		}
		t, err := yt.Transcript(ctx, v).Unwrap()
		if err != nil {
			failures = append(failures, domain.Failure{ID: v.VideoID, Stage: "fetch", Reason: err.Error()})
			continue
		}
		if _, err := content.SaveTranscript(dir, t); err != nil {
			failures = append(failures, domain.Failure{ID: v.VideoID, Stage: "save", Reason: err.Error()})
		}
	}
	return failures
}

func (a *app) ingestFiles(cmd *cobra.Command, kind domain.SourceKind, items []ingest.Item, failures []domain.Failure, force bool) error {
	ctx := cmd.Context()
	pool, err := a.db(ctx, 0)
	if err != nil {
		return err
	}
	in, err := a.ingestor(ctx, pool)
	if err != nil {
		return err
	}
	res := in.Ingest(ctx, ingest.Batch{Kind: kind, Items: items, Force: force})
	res.Failed += len(failures)
	res.Failures = append(failures, res.Failures...)
	return printJSON(cmd.OutOrStdout(), res)
}

func ingestConsumeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "consume",
		Short: "Ingest topics as their analyses are saved",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if a.cfg.NATSURL == "" {
				return fmt.Errorf("NATS_URL is required: %w", domain.ErrConfiguration)
			}
			pool, err := a.db(ctx, 0)
			if err != nil {
				return err
			}
			in, err := a.ingestor(ctx, pool)
			if err != nil {
				return err
			}
			bus, err := a.bus()
			if err != nil {
				return err
			}
			sub, err := ingest.StartForumConsumer(bus.Conn(), in, newAnalysisReader(pool), a.log)
			if err != nil {
				return err
			}
			defer sub.Unsubscribe()
			a.log.Info("ingest consumer running")
			<-ctx.Done()
			return nil
		},
	}
}
