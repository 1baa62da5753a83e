package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/stacker/internal/domain"
)

// ScheduleStore serves the weekly DCA schedules.
type ScheduleStore struct {
	pool *pgxpool.Pool
}

// NewScheduleStore creates a schedule store over the shared pool.
func NewScheduleStore(client *Client) *ScheduleStore {
	return &ScheduleStore{pool: client.Pool()}
}

// ListActive returns all active schedules ordered by id.
func (s *ScheduleStore) ListActive(ctx context.Context) ([]domain.Schedule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, time_of_day, weekdays, amount_usdt, amount_binance, amount_okx, mode, active
		FROM schedules
		WHERE active
		ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "query schedules")
	}
	defer rows.Close()

	var schedules []domain.Schedule
	for rows.Next() {
		var (
			sc       domain.Schedule
			weekdays string
			mode     string
		)
		if err := rows.Scan(&sc.ID, &sc.TimeOfDay, &weekdays,
			&sc.AmountUSDT, &sc.AmountBinance, &sc.AmountOKX, &mode, &sc.Active); err != nil {
			return nil, errors.Wrap(err, "scan schedule")
		}
		sc.Weekdays, err = domain.ParseWeekdays(weekdays)
		if err != nil {
			return nil, errors.Wrapf(err, "schedule %d weekdays", sc.ID)
		}
		sc.Mode = domain.ExchangeMode(mode)
		schedules = append(schedules, sc)
	}
	return schedules, rows.Err()
}

// Create inserts a schedule and returns its id.
func (s *ScheduleStore) Create(ctx context.Context, sc domain.Schedule) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO schedules (time_of_day, weekdays, amount_usdt, amount_binance, amount_okx, mode, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		sc.TimeOfDay, domain.WeekdaysCSV(sc.Weekdays),
		sc.AmountUSDT, sc.AmountBinance, sc.AmountOKX, string(sc.Mode), sc.Active,
	).Scan(&id)
	if err != nil {
		return 0, errors.Wrap(err, "insert schedule")
	}
	return id, nil
}

// SetActive toggles a schedule.
func (s *ScheduleStore) SetActive(ctx context.Context, id int64, active bool) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE schedules SET active = $1 WHERE id = $2", active, id)
	if err != nil {
		return errors.Wrap(err, "update schedule")
	}
	if tag.RowsAffected() == 0 {
		return errors.Errorf("schedule %d not found", id)
	}
	return nil
}
