package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/rpattn/replay/internal/domain"
)

type journalRepository struct {
	pool *pgxpool.Pool
}

// NewJournalRepository wires a repository backed by pgxpool.
func NewJournalRepository(pool *pgxpool.Pool) JournalRepository {
	return &journalRepository{pool: pool}
}

const journalColumns = `id, journable_type, journable_id, user_id, version, data, notes, created_at`

func (r *journalRepository) Latest(ctx context.Context, journableType domain.JournableType, journableID int64) (domain.Journal, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+journalColumns+` FROM journals
		 WHERE journable_type = $1 AND journable_id = $2
		 ORDER BY version DESC LIMIT 1`,
		string(journableType), journableID,
	)
	journal, err := scanJournal(row)
	if err != nil {
		return domain.Journal{}, translate(err, "latest journal")
	}
	return journal, nil
}

func (r *journalRepository) List(ctx context.Context, journableType domain.JournableType, journableID int64) ([]domain.Journal, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+journalColumns+` FROM journals
		 WHERE journable_type = $1 AND journable_id = $2
		 ORDER BY version`,
		string(journableType), journableID,
	)
	if err != nil {
		return nil, translate(err, "list journals")
	}
	defer rows.Close()

	journals := []domain.Journal{}
	for rows.Next() {
		journal, err := scanJournal(rows)
		if err != nil {
			return nil, translate(err, "scan journal")
		}
		journals = append(journals, journal)
	}
	return journals, translate(rows.Err(), "iterate journals")
}

func scanJournal(row pgx.Row) (domain.Journal, error) {
	var (
		journal       domain.Journal
		journableType string
		data          []byte
		notes         pgtype.Text
	)
	if err := row.Scan(
		&journal.ID,
		&journableType,
		&journal.JournableID,
		&journal.UserID,
		&journal.Version,
		&data,
		&notes,
		&journal.CreatedAt,
	); err != nil {
		return domain.Journal{}, err
	}
	journal.JournableType = domain.JournableType(journableType)
	journal.Notes = notes.String
	props, err := domain.FromJSONBProperties(data)
	if err != nil {
		return domain.Journal{}, errors.Wrap(err, "unmarshal journal data")
	}
	journal.Data = props
	return journal, nil
}
