package ledger_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"listingintel/internal/db"
	"listingintel/internal/domain"
	"listingintel/internal/ledger"
	"listingintel/internal/migrate"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestLedger(t *testing.T) (*ledger.Ledger, *sql.DB) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(context.Background(), conn))
	l := ledger.New(conn, 0)
	l.Now = func() time.Time { return base }
	return l, conn
}

func TestRecordScenario(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	url := "https://www.facebook.com/marketplace/item/1"

	first, err := l.Record(ctx, url, 5000, base)
	require.NoError(t, err)
	assert.False(t, first.IsDuplicate)
	assert.Nil(t, first.Previous)
	assert.Equal(t, domain.ChangeNew, first.Observation.ChangeType)
	trend, err := l.Trend(ctx, url)
	require.NoError(t, err)
	assert.Equal(t, domain.TrendInsufficientData, trend)

	second, err := l.Record(ctx, url, 4000, base.Add(48*time.Hour))
	require.NoError(t, err)
	assert.True(t, second.IsDuplicate)
	require.NotNil(t, second.Previous)
	assert.Equal(t, 5000.0, second.Previous.Price)
	assert.Equal(t, domain.ChangePrice, second.Observation.ChangeType)
	require.NotNil(t, second.Observation.PriceChange)
	assert.Equal(t, -1000.0, *second.Observation.PriceChange)
	trend, err = l.Trend(ctx, url)
	require.NoError(t, err)
	assert.Equal(t, domain.TrendDropping, trend)
}

func TestHistoryIsAppendOnlyAndOrdered(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	url := "https://offerup.com/item/detail/9"
	prices := []float64{7000, 6800, 6800, 7100}
	for i, p := range prices {
		_, err := l.Record(ctx, url, p, base.Add(time.Duration(i)*time.Hour))
		require.NoError(t, err)
		history, err := l.History(ctx, url)
		require.NoError(t, err)
		require.Len(t, history, i+1)
	}
	history, err := l.History(ctx, url)
	require.NoError(t, err)
	for i, o := range history {
		assert.Equal(t, prices[i], o.Price)
	}
	assert.Equal(t, domain.ChangeSame, history[2].ChangeType)
	trend, err := l.Trend(ctx, url)
	require.NoError(t, err)
	assert.Equal(t, domain.TrendRising, trend)
}

func TestIdenticalTimestampsKeepInsertionOrder(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	url := "https://craigslist.org/boa/1.html"
	for _, p := range []float64{900, 100, 500} {
		_, err := l.Record(ctx, url, p, base)
		require.NoError(t, err)
	}
	history, err := l.History(ctx, url)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, []float64{900, 100, 500}, []float64{history[0].Price, history[1].Price, history[2].Price})
	trend, err := l.Trend(ctx, url)
	require.NoError(t, err)
	assert.Equal(t, domain.TrendRising, trend)
}

func TestRecordRejectsBadInput(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	_, err := l.Record(ctx, "", 100, base)
	require.Error(t, err)
	_, err = l.Record(ctx, "https://x.test/a", 0, base)
	require.ErrorIs(t, err, ledger.ErrInvalidPrice)
	history, err := l.History(ctx, "https://x.test/a")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestRecordDetectsTrackedListingWithoutHistory(t *testing.T) {
	l, conn := newTestLedger(t)
	ctx := context.Background()
	url := "https://x.test/orphan"
	_, err := conn.ExecContext(ctx, `INSERT INTO tracked_listings(url,first_seen_ns,last_seen_ns,observation_count) VALUES (?,?,?,1)`,
		url, base.UnixNano(), base.UnixNano())
	require.NoError(t, err)

	_, err = l.Record(ctx, url, 1000, base)
	require.ErrorIs(t, err, ledger.ErrIntegrity)
	history, err := l.History(ctx, url)
	require.NoError(t, err)
	assert.Empty(t, history, "failed record must not write")
}

func TestObservationsCannotBeRewritten(t *testing.T) {
	l, conn := newTestLedger(t)
	ctx := context.Background()
	_, err := l.Record(ctx, "https://x.test/a", 100, base)
	require.NoError(t, err)
	_, err = conn.ExecContext(ctx, `UPDATE price_observations SET price=1`)
	require.Error(t, err)
	_, err = conn.ExecContext(ctx, `DELETE FROM price_observations`)
	require.Error(t, err)
}

func TestSummary(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	url := "https://x.test/summary"
	for i, p := range []float64{8000, 7500, 7900, 7900} {
		_, err := l.RecordEntry(ctx, ledger.Entry{URL: url, Price: p, At: base.Add(time.Duration(i) * 24 * time.Hour), Title: "2018 Yamaha EX"})
		require.NoError(t, err)
	}
	s, err := l.Summary(ctx, url)
	require.NoError(t, err)
	assert.Equal(t, "2018 Yamaha EX", s.Title)
	assert.Equal(t, 8000.0, s.OriginalPrice)
	assert.Equal(t, 7900.0, s.CurrentPrice)
	assert.Equal(t, 7500.0, s.LowestPrice)
	assert.Equal(t, 8000.0, s.HighestPrice)
	assert.Equal(t, 4, s.Observations)
	assert.Equal(t, 2, s.PriceChanges)
	assert.Equal(t, 3, s.DaysTracked)
	assert.Equal(t, domain.TrendStable, s.Trend)

	urls, err := l.Listings(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{url}, urls)
}

func TestConcurrentRecordsSerialize(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	url := "https://x.test/busy"
	const n = 12
	var wg sync.WaitGroup
	results := make(chan domain.RecordResult, n)
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := l.Record(ctx, url, float64(1000+i), base.Add(time.Duration(i)*time.Minute))
			if err != nil {
				errs <- err
				return
			}
			results <- res
		}(i)
	}
	wg.Wait()
	close(results)
	close(errs)
	for err := range errs {
		t.Fatalf("record: %v", err)
	}
	fresh := 0
	for res := range results {
		if !res.IsDuplicate {
			fresh++
		}
	}
	assert.Equal(t, 1, fresh, "exactly one record is the initial observation")
	history, err := l.History(ctx, url)
	require.NoError(t, err)
	assert.Len(t, history, n)
}

func TestLateObservationFollowsArrivalOrder(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	url := "https://x.test/late"

	_, err := l.Record(ctx, url, 5000, base.Add(2*time.Hour))
	require.NoError(t, err)
	res, err := l.Record(ctx, url, 4000, base.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, res.IsDuplicate)
	require.NotNil(t, res.Previous)
	assert.Equal(t, 5000.0, res.Previous.Price)
	assert.Equal(t, base.Add(2*time.Hour), res.Observation.ObservedAt)

	history, err := l.History(ctx, url)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 5000.0, history[0].Price)
	assert.Equal(t, domain.ChangeNew, history[0].ChangeType)
	assert.Equal(t, 4000.0, history[1].Price)
	assert.Equal(t, domain.ChangePrice, history[1].ChangeType)
	assert.Equal(t, base.Add(2*time.Hour), history[1].ObservedAt)

	trend, err := l.Trend(ctx, url)
	require.NoError(t, err)
	assert.Equal(t, domain.TrendDropping, trend)
	s, err := l.Summary(ctx, url)
	require.NoError(t, err)
	assert.Equal(t, 4000.0, s.CurrentPrice)
	assert.Equal(t, base.Add(2*time.Hour), s.LastSeen)
}

func TestRecordSameSubmissionTwice(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	url := "https://x.test/redelivered"

	_, err := l.RecordEntry(ctx, ledger.Entry{URL: url, Price: 900, At: base, SubmissionID: "sub-a"})
	require.NoError(t, err)
	first, err := l.RecordEntry(ctx, ledger.Entry{URL: url, Price: 800, At: base.Add(time.Hour), SubmissionID: "sub-b"})
	require.NoError(t, err)

	again, err := l.RecordEntry(ctx, ledger.Entry{URL: url, Price: 800, At: base.Add(2 * time.Hour), SubmissionID: "sub-b"})
	require.NoError(t, err)
	assert.Equal(t, first.Observation.Seq, again.Observation.Seq)
	assert.True(t, again.IsDuplicate)
	require.NotNil(t, again.Previous)
	assert.Equal(t, 900.0, again.Previous.Price)

	history, err := l.History(ctx, url)
	require.NoError(t, err)
	assert.Len(t, history, 2)

	fresh, err := l.RecordEntry(ctx, ledger.Entry{URL: "https://x.test/other", Price: 10, At: base, SubmissionID: "sub-c"})
	require.NoError(t, err)
	replayed, err := l.RecordEntry(ctx, ledger.Entry{URL: "https://x.test/other", Price: 10, At: base, SubmissionID: "sub-c"})
	require.NoError(t, err)
	assert.False(t, replayed.IsDuplicate)
	assert.Equal(t, fresh.Observation.Seq, replayed.Observation.Seq)
}

func TestDirection(t *testing.T) {
	assert.Equal(t, domain.TrendStable, ledger.Direction(100, 100, 0))
	assert.Equal(t, domain.TrendDropping, ledger.Direction(100, 99, 0))
	assert.Equal(t, domain.TrendRising, ledger.Direction(100, 101, 0))
	assert.Equal(t, domain.TrendStable, ledger.Direction(100, 99, 1))
	assert.Equal(t, domain.TrendStable, ledger.Direction(100, 101, 1))
	assert.Equal(t, domain.TrendDropping, ledger.Direction(100, 98.5, 1))
	assert.Equal(t, domain.TrendInsufficientData, ledger.Classify(nil, 0))
}

func TestClassifyProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)
	obs := func(prices ...float64) []domain.PriceObservation {
		out := make([]domain.PriceObservation, len(prices))
		for i, p := range prices {
			out[i] = domain.PriceObservation{Price: p}
		}
		return out
	}

	properties.Property("only the latest two points matter", prop.ForAll(
		func(a, b, c float64) bool {
			return ledger.Classify(obs(a, b, c), 0) == ledger.Classify(obs(b, c), 0)
		},
		gen.Float64Range(1, 1e6), gen.Float64Range(1, 1e6), gen.Float64Range(1, 1e6),
	))

	properties.Property("direction matches price order", prop.ForAll(
		func(a, b float64) bool {
			got := ledger.Classify(obs(a, b), 0)
			switch {
			case a == b:
				return got == domain.TrendStable
			case b < a:
				return got == domain.TrendDropping
			default:
				return got == domain.TrendRising
			}
		},
		gen.Float64Range(1, 1e6), gen.Float64Range(1, 1e6),
	))

	properties.TestingRun(t)
}

func TestRecordProperties(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	properties := gopter.NewProperties(nil)
	counter := 0

	properties.Property("first record is fresh, later ones are duplicates", prop.ForAll(
		func(prices []float64) bool {
			counter++
			url := "https://x.test/prop/" + time.Duration(counter).String()
			for i, p := range prices {
				res, err := l.Record(ctx, url, p, base.Add(time.Duration(i)*time.Second))
				if err != nil {
					return false
				}
				if res.IsDuplicate != (i > 0) {
					return false
				}
				history, err := l.History(ctx, url)
				if err != nil || len(history) != i+1 {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(4, gen.Float64Range(1, 1e5)),
	))

	properties.TestingRun(t)
}
