package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lysyi3m/wire-comb/app/database"
	"github.com/lysyi3m/wire-comb/app/news"
)

// FillBodies fetches the full story text for stored articles that only have
// a headline. Failed stories are skipped and recorded as attempts, which moves
// them behind untried articles on the next call.
func (o *Orchestrator) FillBodies(ctx context.Context, jobType, category string, limit int) (*Summary, error) {
	if limit <= 0 {
		limit = o.settings.DefaultCount
	}

	started := time.Now()
	runID, err := o.runs.StartRun(ctx, database.RunSpec{
		JobType:  jobType,
		Mode:     string(ModeBodies),
		Category: category,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record fetch run: %w", err)
	}

	summary := &Summary{
		RunID:    runID,
		Mode:     ModeBodies,
		JobType:  jobType,
		Category: category,
		Status:   database.RunRunning,
	}

	err = o.fillBodies(ctx, summary, category, limit)
	summary.Duration = time.Since(started)
	return o.finish(ctx, summary, err)
}

func (o *Orchestrator) fillBodies(ctx context.Context, s *Summary, category string, limit int) error {
	items, err := o.articles.ListMissingBodies(ctx, category, limit)
	if err != nil {
		return fmt.Errorf("failed to list articles without body: %w", err)
	}

	c := &s.Counters
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("body fetch cancelled: %w", err)
		}

		c.Fetched++
		body, calls, err := o.client.FetchBody(ctx, item.StoryID, item.URL)
		c.APICalls += calls
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("body fetch cancelled: %w", ctx.Err())
			}
			c.Skipped++
			slog.Warn("Failed to fetch story body", "run_id", s.RunID, "story_id", item.StoryID, "error", err)
			if err := o.articles.MarkBodyAttempt(ctx, item.ID); err != nil {
				return fmt.Errorf("failed to record body attempt of %s: %w", item.StoryID, err)
			}
			continue
		}

		body = news.CleanText(body)
		if body == "" {
			c.Skipped++
			if err := o.articles.MarkBodyAttempt(ctx, item.ID); err != nil {
				return fmt.Errorf("failed to record body attempt of %s: %w", item.StoryID, err)
			}
			continue
		}

		if err := o.articles.UpdateBody(ctx, item.ID, body); err != nil {
			return fmt.Errorf("failed to store body of %s: %w", item.StoryID, err)
		}
		c.Updated++

		if c.Fetched%10 == 0 {
			if err := o.checkpoint(ctx, s); err != nil {
				return err
			}
		}
	}

	return nil
}
