// README: Rating store backed by PostgreSQL with serializable transactions.
package rating

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"carpool/internal/types"
)

type PGStore struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin rating tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return classify(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return classify(err)
	}
	return nil
}

// classify maps serialization failures and deadlocks to ErrTxConflict.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01") {
		return fmt.Errorf("%w: %s", ErrTxConflict, pgErr.Message)
	}
	return err
}

func (s *PGStore) Scores(ctx context.Context, userID types.ID) ([]int, error) {
	rows, err := s.db.Query(ctx, `SELECT score FROM ratings WHERE rated_user_id = $1`, string(userID))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int])
}

func (s *PGStore) Aggregate(ctx context.Context, userID types.ID) (UserAggregate, error) {
	return scanAggregate(s.db.QueryRow(ctx, `
		SELECT user_id, total_ratings, average_rating, last_rated_at
		FROM user_aggregates WHERE user_id = $1`, string(userID)), userID)
}

func (s *PGStore) PendingEvents(ctx context.Context, raterID types.ID) ([]TripEvent, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, trip_id, type, rater_id, rated_user_id, processed, rating_id, created_at, processed_at
		FROM trip_events
		WHERE rater_id = $1 AND NOT processed
		ORDER BY created_at DESC`, string(raterID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TripEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ev)
	}
	return out, rows.Err()
}

// Execer is satisfied by pgx pools and transactions.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// InsertEvents writes rating triggers; the trip store calls it inside its own transaction.
func InsertEvents(ctx context.Context, db Execer, events []TripEvent) error {
	for _, e := range events {
		_, err := db.Exec(ctx, `
			INSERT INTO trip_events (id, trip_id, type, rater_id, rated_user_id, processed, created_at)
			VALUES ($1, $2, $3, $4, $5, FALSE, $6)`,
			string(e.ID), string(e.TripID), string(e.Type), string(e.RaterID), string(e.RatedUserID), e.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert trip event: %w", err)
		}
	}
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Event(ctx context.Context, id types.ID) (*TripEvent, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT id, trip_id, type, rater_id, rated_user_id, processed, rating_id, created_at, processed_at
		FROM trip_events WHERE id = $1
		FOR UPDATE`, string(id))
	ev, err := scanEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrEventNotFound
	}
	return ev, err
}

func (t *pgTx) Aggregate(ctx context.Context, userID types.ID) (UserAggregate, error) {
	return scanAggregate(t.tx.QueryRow(ctx, `
		SELECT user_id, total_ratings, average_rating, last_rated_at
		FROM user_aggregates WHERE user_id = $1
		FOR UPDATE`, string(userID)), userID)
}

func (t *pgTx) InsertRating(ctx context.Context, r *Rating) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO ratings (
			id, trip_id, event_id, trigger, rater_id, rater_name,
			rated_user_id, score, comment, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		string(r.ID), string(r.TripID), string(r.EventID), string(r.Trigger),
		string(r.RaterID), r.RaterName, string(r.RatedUserID), r.Score,
		nullString(r.Comment), r.CreatedAt,
	)
	return err
}

func (t *pgTx) PutAggregate(ctx context.Context, a UserAggregate) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO user_aggregates (user_id, total_ratings, average_rating, last_rated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE
		SET total_ratings = EXCLUDED.total_ratings,
		    average_rating = EXCLUDED.average_rating,
		    last_rated_at = EXCLUDED.last_rated_at`,
		string(a.UserID), a.TotalRatings, a.AverageRating, a.LastRatedAt,
	)
	return err
}

func (t *pgTx) MarkProcessed(ctx context.Context, eventID, ratingID types.ID, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE trip_events
		SET processed = TRUE, rating_id = $2, processed_at = $3
		WHERE id = $1 AND NOT processed`,
		string(eventID), string(ratingID), at,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return ErrEventProcessed
	}
	return nil
}

func scanEvent(row pgx.Row) (*TripEvent, error) {
	var ev TripEvent
	var ratingID *string
	err := row.Scan(
		&ev.ID, &ev.TripID, &ev.Type, &ev.RaterID, &ev.RatedUserID,
		&ev.Processed, &ratingID, &ev.CreatedAt, &ev.ProcessedAt,
	)
	if err != nil {
		return nil, err
	}
	if ratingID != nil {
		id := types.ID(*ratingID)
		ev.RatingID = &id
	}
	return &ev, nil
}

func scanAggregate(row pgx.Row, userID types.ID) (UserAggregate, error) {
	var a UserAggregate
	err := row.Scan(&a.UserID, &a.TotalRatings, &a.AverageRating, &a.LastRatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return UserAggregate{UserID: userID}, nil
	}
	if err != nil {
		return UserAggregate{}, err
	}
	return a, nil
}

func nullString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
