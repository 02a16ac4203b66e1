package repo

import (
	"context"
	"database/sql"
	"time"

	"listingintel/internal/domain"
)

type TrackedListing struct {
	URL              string
	Title            string
	FirstSeen        time.Time
	LastSeen         time.Time
	ObservationCount int
}

func (r Repo) GetTrackedListing(ctx context.Context, tx *sql.Tx, url string) (TrackedListing, error) {
	var (
		t           TrackedListing
		title       sql.NullString
		first, last int64
	)
	err := r.q(tx).QueryRowContext(ctx, `SELECT url,title,first_seen_ns,last_seen_ns,observation_count FROM tracked_listings WHERE url=?`, url).
		Scan(&t.URL, &title, &first, &last, &t.ObservationCount)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.Title = title.String
	t.FirstSeen = fromNanos(first)
	t.LastSeen = fromNanos(last)
	return t, nil
}

// TouchTrackedListing creates the listing row or bumps its counters.
func (r Repo) TouchTrackedListing(ctx context.Context, tx *sql.Tx, url, title string, at time.Time) error {
	ns := at.UnixNano()
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO tracked_listings(url,title,first_seen_ns,last_seen_ns,observation_count) VALUES (?,?,?,?,1)
ON CONFLICT(url) DO UPDATE SET
  title=COALESCE(excluded.title, tracked_listings.title),
  first_seen_ns=MIN(tracked_listings.first_seen_ns, excluded.first_seen_ns),
  last_seen_ns=MAX(tracked_listings.last_seen_ns, excluded.last_seen_ns),
  observation_count=tracked_listings.observation_count+1`,
		url, nullable(title), ns, ns)
	return err
}

func (r Repo) ListTrackedListings(ctx context.Context) ([]TrackedListing, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT url,title,first_seen_ns,last_seen_ns,observation_count FROM tracked_listings ORDER BY last_seen_ns DESC, url ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []TrackedListing
	for rows.Next() {
		var (
			t           TrackedListing
			title       sql.NullString
			first, last int64
		)
		if err := rows.Scan(&t.URL, &title, &first, &last, &t.ObservationCount); err != nil {
			return nil, err
		}
		t.Title = title.String
		t.FirstSeen = fromNanos(first)
		t.LastSeen = fromNanos(last)
		res = append(res, t)
	}
	return res, rows.Err()
}

const observationColumns = `seq,url,price,observed_at_ns,change_type,previous_price,price_change,COALESCE(submission_id,'')`

func scanObservation(row rowScanner) (domain.PriceObservation, error) {
	var (
		o          domain.PriceObservation
		ns         int64
		prev, diff sql.NullFloat64
	)
	err := row.Scan(&o.Seq, &o.URL, &o.Price, &ns, &o.ChangeType, &prev, &diff, &o.SubmissionID)
	if err == sql.ErrNoRows {
		return o, ErrNotFound
	}
	if err != nil {
		return o, err
	}
	o.ObservedAt = fromNanos(ns)
	o.PreviousPrice = floatPtr(prev)
	o.PriceChange = floatPtr(diff)
	return o, nil
}

// LatestObservation returns the newest observation in history order.
func (r Repo) LatestObservation(ctx context.Context, tx *sql.Tx, url string) (domain.PriceObservation, error) {
	return scanObservation(r.q(tx).QueryRowContext(ctx, `SELECT `+observationColumns+` FROM price_observations WHERE url=? ORDER BY observed_at_ns DESC, seq DESC LIMIT 1`, url))
}

// SubmissionObservation returns the observation recorded for url by submissionID.
func (r Repo) SubmissionObservation(ctx context.Context, tx *sql.Tx, url, submissionID string) (domain.PriceObservation, error) {
	return scanObservation(r.q(tx).QueryRowContext(ctx, `SELECT `+observationColumns+` FROM price_observations WHERE url=? AND submission_id=? ORDER BY seq ASC LIMIT 1`, url, submissionID))
}

// ObservationBefore returns the observation preceding o in history order.
func (r Repo) ObservationBefore(ctx context.Context, tx *sql.Tx, o domain.PriceObservation) (domain.PriceObservation, error) {
	ns := o.ObservedAt.UnixNano()
	return scanObservation(r.q(tx).QueryRowContext(ctx, `SELECT `+observationColumns+` FROM price_observations
WHERE url=? AND (observed_at_ns < ? OR (observed_at_ns = ? AND seq < ?))
ORDER BY observed_at_ns DESC, seq DESC LIMIT 1`, o.URL, ns, ns, o.Seq))
}

func (r Repo) InsertObservation(ctx context.Context, tx *sql.Tx, o domain.PriceObservation) (int64, error) {
	res, err := r.q(tx).ExecContext(ctx, `INSERT INTO price_observations(url,price,observed_at_ns,change_type,previous_price,price_change,submission_id) VALUES (?,?,?,?,?,?,?)`,
		o.URL, o.Price, o.ObservedAt.UnixNano(), o.ChangeType, nullableFloat(o.PreviousPrice), nullableFloat(o.PriceChange), nullable(o.SubmissionID))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListObservations returns history oldest first; equal timestamps keep insertion order.
func (r Repo) ListObservations(ctx context.Context, tx *sql.Tx, url string) ([]domain.PriceObservation, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT `+observationColumns+` FROM price_observations WHERE url=? ORDER BY observed_at_ns ASC, seq ASC`, url)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PriceObservation
	for rows.Next() {
		o, err := scanObservation(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

func fromNanos(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}
