package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pinsave/internal/media"
)

func TestRecordJobInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "job_history")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	rec := media.JobRecord{
		Job: media.Job{
			ID:          "job-1",
			RequesterID: 7,
			ChatID:      70,
			Locator:     "https://pin.it/a",
			Submitted:   now.Add(-time.Minute),
		},
		Outcome:    media.OutcomeDelivered,
		Bytes:      1024,
		Handle:     "gs://media/70/dl_job-1.mp4",
		StartedAt:  now,
		FinishedAt: now.Add(5 * time.Second),
	}

	mock.ExpectExec("INSERT INTO job_history").
		WithArgs(
			rec.Job.ID,
			rec.Job.RequesterID,
			rec.Job.ChatID,
			rec.Job.Locator,
			"delivered",
			rec.Bytes,
			rec.Handle,
			"",
			rec.Job.Submitted,
			rec.StartedAt,
			rec.FinishedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.RecordJob(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordJobPropagatesExecError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "")
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO job_history").WillReturnError(errors.New("connection reset"))

	err = store.RecordJob(context.Background(), media.JobRecord{Job: media.Job{ID: "job-2"}, Outcome: media.OutcomeFailed})
	require.ErrorContains(t, err, "insert job history")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordJobRequiresID(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "")
	require.NoError(t, err)
	require.Error(t, store.RecordJob(context.Background(), media.JobRecord{}))
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "history")
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS history").WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConstructorValidation(t *testing.T) {
	t.Parallel()

	_, err := NewWithPool(nil, "")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewWithPool(mock, "bad-name;")
	require.Error(t, err)

	_, err = New(context.Background(), Config{})
	require.Error(t, err)

	_, err = New(context.Background(), Config{DSN: "postgres://localhost/db", Table: "1bad"})
	require.Error(t, err)
}
