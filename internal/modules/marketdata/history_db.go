package marketdata

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const dateLayout = "2006-01-02"

// DailyPrice is one cached daily close.
type DailyPrice struct {
	Date     string  `json:"date"` // YYYY-MM-DD
	Close    float64 `json:"close"`
	AdjClose float64 `json:"adj_close"`
}

// SyncState is the date range the cache holds for a ticker.
type SyncState struct {
	Ticker     string
	FirstDate  time.Time // inclusive
	LastDate   time.Time // exclusive
	LastSynced time.Time
}

// Covers reports whether the cached range contains [start, end).
func (s *SyncState) Covers(start, end time.Time) bool {
	return !s.FirstDate.After(start) && !s.LastDate.Before(end)
}

// HistoryDB provides access to cached daily prices
type HistoryDB struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewHistoryDB creates a new history database accessor
func NewHistoryDB(db *sql.DB, log zerolog.Logger) *HistoryDB {
	return &HistoryDB{
		db:  db,
		log: log.With().Str("component", "history_db").Logger(),
	}
}

// GetDailyPrices returns cached prices with start <= date < end, oldest first.
func (h *HistoryDB) GetDailyPrices(ticker string, start, end time.Time) ([]DailyPrice, error) {
	query := `
		SELECT date, close, adj_close
		FROM daily_prices
		WHERE ticker = ? AND date >= ? AND date < ?
		ORDER BY date ASC
	`

	rows, err := h.db.Query(query, ticker, dayUnix(start), dayUnix(end))
	if err != nil {
		return nil, fmt.Errorf("failed to query daily prices: %w", err)
	}
	defer rows.Close()

	var prices []DailyPrice
	for rows.Next() {
		var p DailyPrice
		var dateUnix int64
		if err := rows.Scan(&dateUnix, &p.Close, &p.AdjClose); err != nil {
			return nil, fmt.Errorf("failed to scan daily price: %w", err)
		}
		p.Date = time.Unix(dateUnix, 0).UTC().Format(dateLayout)
		prices = append(prices, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating daily prices: %w", err)
	}

	return prices, nil
}

// GetSyncState returns the cached range for a ticker.
// Returns nil if the ticker was never synced (not an error).
func (h *HistoryDB) GetSyncState(ticker string) (*SyncState, error) {
	var first, last, synced int64
	err := h.db.QueryRow(
		"SELECT first_date, last_date, last_synced FROM ticker_sync WHERE ticker = ?", ticker,
	).Scan(&first, &last, &synced)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync state: %w", err)
	}

	return &SyncState{
		Ticker:     ticker,
		FirstDate:  time.Unix(first, 0).UTC(),
		LastDate:   time.Unix(last, 0).UTC(),
		LastSynced: time.Unix(synced, 0).UTC(),
	}, nil
}

// ListTickers returns every ticker with cached prices, sorted.
func (h *HistoryDB) ListTickers() ([]string, error) {
	rows, err := h.db.Query("SELECT ticker FROM ticker_sync ORDER BY ticker")
	if err != nil {
		return nil, fmt.Errorf("failed to list tickers: %w", err)
	}
	defer rows.Close()

	var tickers []string
	for rows.Next() {
		var ticker string
		if err := rows.Scan(&ticker); err != nil {
			return nil, fmt.Errorf("failed to scan ticker: %w", err)
		}
		tickers = append(tickers, ticker)
	}
	return tickers, rows.Err()
}

// SyncPrices replaces the cached prices of [start, end) for a ticker and
// records the range as covered, in a single transaction.
func (h *HistoryDB) SyncPrices(ticker string, prices []DailyPrice, start, end, syncedAt time.Time) error {
	tx, err := h.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // no-op after Commit

	if _, err := tx.Exec(
		"DELETE FROM daily_prices WHERE ticker = ? AND date >= ? AND date < ?",
		ticker, dayUnix(start), dayUnix(end),
	); err != nil {
		return fmt.Errorf("failed to clear cached prices: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO daily_prices (ticker, date, close, adj_close)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, p := range prices {
		date, err := time.Parse(dateLayout, p.Date)
		if err != nil {
			return fmt.Errorf("failed to parse date %s: %w", p.Date, err)
		}
		if _, err := stmt.Exec(ticker, date.Unix(), p.Close, p.AdjClose); err != nil {
			return fmt.Errorf("failed to insert daily price for %s: %w", p.Date, err)
		}
	}

	// Widen the covered range; a refresh never shrinks it.
	if _, err := tx.Exec(`
		INSERT INTO ticker_sync (ticker, first_date, last_date, last_synced)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(ticker) DO UPDATE SET
			first_date = MIN(first_date, excluded.first_date),
			last_date = MAX(last_date, excluded.last_date),
			last_synced = excluded.last_synced
	`, ticker, dayUnix(start), dayUnix(end), syncedAt.Unix()); err != nil {
		return fmt.Errorf("failed to update sync state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	h.log.Debug().
		Str("ticker", ticker).
		Int("count", len(prices)).
		Msg("Synced daily prices")

	return nil
}

// dayUnix is midnight UTC of t's calendar day, in unix seconds.
func dayUnix(t time.Time) int64 {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix()
}
