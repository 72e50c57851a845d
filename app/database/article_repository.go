package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lysyi3m/wire-comb/app/news"
)

// ArticleRepo handles database operations for articles and their ticker links
type ArticleRepo struct {
	db  *DB
	now func() time.Time
}

// NewArticleRepo creates a new article repository
func NewArticleRepo(db *DB) *ArticleRepo {
	return &ArticleRepo{db: db, now: time.Now}
}

// UpsertArticle inserts a new article or refreshes the mutable fields of the
// row with the same story id. story_id and published_at are never changed;
// empty summary, body or category values keep what is stored.
func (r *ArticleRepo) UpsertArticle(ctx context.Context, a news.Article) (int64, UpsertResult, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, "", wrap("upsert_article", err)
	}
	defer tx.Rollback()

	now := formatTime(r.now())

	var id int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM articles WHERE story_id = ?`, a.StoryID).Scan(&id)

	result := Updated
	switch {
	case errors.Is(err, sql.ErrNoRows):
		result = Inserted
		err = tx.QueryRowContext(ctx, `
			INSERT INTO articles (story_id, headline, summary, body_text, url, source, published_at,
			                      language, category, urgency_level, priority_score, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			RETURNING id
		`, a.StoryID, a.Headline, a.Summary, a.BodyText, a.URL, a.Source, formatTime(a.PublishedAt),
			a.Language, a.Category, a.UrgencyLevel, a.PriorityScore, now, now).Scan(&id)
		if err != nil {
			return 0, "", wrap("insert_article", err)
		}
	case err != nil:
		return 0, "", wrap("lookup_article", err)
	default:
		_, err = tx.ExecContext(ctx, `
			UPDATE articles
			SET summary        = COALESCE(NULLIF(?, ''), summary),
			    body_text      = COALESCE(NULLIF(?, ''), body_text),
			    url            = COALESCE(NULLIF(?, ''), url),
			    language       = ?,
			    category       = COALESCE(NULLIF(?, ''), category),
			    urgency_level  = ?,
			    priority_score = ?,
			    updated_at     = ?
			WHERE id = ?
		`, a.Summary, a.BodyText, a.URL, a.Language, a.Category, a.UrgencyLevel, a.PriorityScore, now, id)
		if err != nil {
			return 0, "", wrap("update_article", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, "", wrap("upsert_article", err)
	}

	return id, result, nil
}

// LinkTickers upserts the ticker set of an article. Existing links that are
// not in tickers are left in place.
func (r *ArticleRepo) LinkTickers(ctx context.Context, articleID int64, tickers []news.Ticker) error {
	if len(tickers) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("link_tickers", err)
	}
	defer tx.Rollback()

	now := formatTime(r.now())
	for _, t := range tickers {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO article_tickers (article_id, ticker_code, relevance_score, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (article_id, ticker_code) DO UPDATE
			SET relevance_score = excluded.relevance_score,
			    updated_at      = excluded.updated_at
		`, articleID, t.Code, t.Relevance, now, now)
		if err != nil {
			return wrap("link_tickers", fmt.Errorf("ticker %s: %w", t.Code, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return wrap("link_tickers", err)
	}
	return nil
}

// GetArticleByStoryID returns nil when no article has the story id
func (r *ArticleRepo) GetArticleByStoryID(ctx context.Context, storyID string) (*Article, error) {
	var a Article
	var publishedAt, createdAt, updatedAt string

	err := r.db.QueryRowContext(ctx, `
		SELECT id, story_id, headline, summary, body_text, url, source, published_at,
		       language, category, urgency_level, priority_score, created_at, updated_at
		FROM articles
		WHERE story_id = ?
	`, storyID).Scan(
		&a.ID, &a.StoryID, &a.Headline, &a.Summary, &a.BodyText, &a.URL, &a.Source, &publishedAt,
		&a.Language, &a.Category, &a.UrgencyLevel, &a.PriorityScore, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("get_article", err)
	}

	if a.PublishedAt, err = parseTime(publishedAt); err != nil {
		return nil, wrap("get_article", err)
	}
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, wrap("get_article", err)
	}
	if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, wrap("get_article", err)
	}

	return &a, nil
}

func (r *ArticleRepo) GetTickers(ctx context.Context, articleID int64) ([]TickerLink, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT article_id, ticker_code, relevance_score
		FROM article_tickers
		WHERE article_id = ?
		ORDER BY ticker_code
	`, articleID)
	if err != nil {
		return nil, wrap("get_tickers", err)
	}
	defer rows.Close()

	var links []TickerLink
	for rows.Next() {
		var l TickerLink
		if err := rows.Scan(&l.ArticleID, &l.Code, &l.Relevance); err != nil {
			return nil, wrap("get_tickers", err)
		}
		links = append(links, l)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("get_tickers", err)
	}

	return links, nil
}

// MaxBodyAttempts is the number of failed body fetches after which an
// article is no longer offered for body backfill.
const MaxBodyAttempts = 3

// ListMissingBodies returns articles that have no body text yet, least
// attempted first and then most recent first.
func (r *ArticleRepo) ListMissingBodies(ctx context.Context, category string, limit int) ([]MissingBody, error) {
	query := sq.Select("id", "story_id", "url").
		From("articles").
		Where(sq.Eq{"body_text": ""}).
		Where(sq.Lt{"body_attempts": MaxBodyAttempts}).
		OrderBy("body_attempts ASC", "published_at DESC")

	if category != "" {
		query = query.Where(sq.Eq{"category": category})
	}
	if limit > 0 {
		query = query.Limit(uint64(limit))
	}

	stmt, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build missing bodies query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, wrap("list_missing_bodies", err)
	}
	defer rows.Close()

	var items []MissingBody
	for rows.Next() {
		var m MissingBody
		if err := rows.Scan(&m.ID, &m.StoryID, &m.URL); err != nil {
			return nil, wrap("list_missing_bodies", err)
		}
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("list_missing_bodies", err)
	}

	return items, nil
}

func (r *ArticleRepo) UpdateBody(ctx context.Context, articleID int64, body string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE articles SET body_text = ?, updated_at = ? WHERE id = ?
	`, body, formatTime(r.now()), articleID)
	return wrap("update_body", err)
}

// MarkBodyAttempt records a body fetch that produced no text.
func (r *ArticleRepo) MarkBodyAttempt(ctx context.Context, articleID int64) error {
	now := formatTime(r.now())
	_, err := r.db.ExecContext(ctx, `
		UPDATE articles SET body_attempts = body_attempts + 1, body_checked_at = ? WHERE id = ?
	`, now, articleID)
	return wrap("mark_body_attempt", err)
}

// ListHeadlines returns the headlines of articles published in [from, to),
// other than the one with excludeStoryID.
func (r *ArticleRepo) ListHeadlines(ctx context.Context, from, to time.Time, excludeStoryID string, limit int) ([]string, error) {
	query := sq.Select("headline").
		From("articles").
		Where(sq.GtOrEq{"published_at": formatTime(from)}).
		Where(sq.Lt{"published_at": formatTime(to)}).
		Where(sq.NotEq{"story_id": excludeStoryID}).
		OrderBy("published_at DESC")

	if limit > 0 {
		query = query.Limit(uint64(limit))
	}

	stmt, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build headlines query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, wrap("list_headlines", err)
	}
	defer rows.Close()

	var headlines []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, wrap("list_headlines", err)
		}
		headlines = append(headlines, h)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("list_headlines", err)
	}

	return headlines, nil
}

func (r *ArticleRepo) CountArticlesBefore(ctx context.Context, cutoff time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM articles WHERE published_at < ?`, formatTime(cutoff)).Scan(&count)
	if err != nil {
		return 0, wrap("count_articles", err)
	}
	return count, nil
}

// DeleteArticlesBefore removes articles published before cutoff; ticker links
// go with them through the foreign key cascade.
func (r *ArticleRepo) DeleteArticlesBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM articles WHERE published_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, wrap("delete_articles", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrap("delete_articles", err)
	}
	return int(n), nil
}
