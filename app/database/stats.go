package database

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

// GetStats summarises stored articles, optionally for a single category
func (r *ArticleRepo) GetStats(ctx context.Context, category string) (*Stats, error) {
	filter := sq.And{}
	if category != "" {
		filter = append(filter, sq.Eq{"category": category})
	}

	summary := sq.Select(
		"COUNT(*)",
		"COUNT(DISTINCT source)",
		"MIN(published_at)",
		"MAX(published_at)",
		"COALESCE(AVG(LENGTH(headline)), 0)",
		"COALESCE(SUM(CASE WHEN body_text = '' THEN 1 ELSE 0 END), 0)",
		"COALESCE(SUM(CASE WHEN language = 'unknown' THEN 1 ELSE 0 END), 0)",
	).From("articles").Where(filter)

	stmt, args, err := summary.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build stats query: %w", err)
	}

	var stats Stats
	var earliest, latest sql.NullString
	err = r.db.QueryRowContext(ctx, stmt, args...).Scan(
		&stats.TotalArticles, &stats.DistinctSources, &earliest, &latest,
		&stats.AvgHeadlineLength, &stats.MissingBodies, &stats.UnknownLanguage,
	)
	if err != nil {
		return nil, wrap("get_stats", err)
	}

	if stats.EarliestArticle, err = parseNullTime(earliest); err != nil {
		return nil, wrap("get_stats", err)
	}
	if stats.LatestArticle, err = parseNullTime(latest); err != nil {
		return nil, wrap("get_stats", err)
	}

	links := sq.Select("COUNT(*)").
		From("article_tickers t").
		Join("articles a ON a.id = t.article_id")
	if category != "" {
		links = links.Where(sq.Eq{"a.category": category})
	}
	if stmt, args, err = links.ToSql(); err != nil {
		return nil, fmt.Errorf("failed to build ticker stats query: %w", err)
	}
	if err := r.db.QueryRowContext(ctx, stmt, args...).Scan(&stats.TickerLinks); err != nil {
		return nil, wrap("get_stats", err)
	}

	perCategory := sq.Select("category", "COUNT(*)").
		From("articles").
		Where(filter).
		GroupBy("category").
		OrderBy("COUNT(*) DESC", "category")
	if stmt, args, err = perCategory.ToSql(); err != nil {
		return nil, fmt.Errorf("failed to build category stats query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, wrap("get_stats", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c CategoryCount
		if err := rows.Scan(&c.Category, &c.Articles); err != nil {
			return nil, wrap("get_stats", err)
		}
		stats.Categories = append(stats.Categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("get_stats", err)
	}

	return &stats, nil
}
