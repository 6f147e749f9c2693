package leads

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var leadColumnNames = []string{
	"id", "name", "phone", "service", "commune", "status", "urgency", "notes", "contacted",
	"contacted_at", "channel", "session_id", "created_at", "updated_at", "last_interaction_at", "last_follow_up_at",
}

func leadRow(id string, status Status, now time.Time) []any {
	return []any{
		id, StringPtr("Juan"), StringPtr("+56912345678"), StringPtr("instalación"), nil,
		string(status), StringPtr("urgente"), "", false,
		nil, "web", "sess-1", now, now, now, nil,
	}
}

func TestPostgresRepository_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now().UTC()
	mock.ExpectQuery("INSERT INTO leads").
		WithArgs(pgxmock.AnyArg(), StringPtr("Juan"), StringPtr("+56912345678"), StringPtr("instalación"), (*string)(nil),
			"hot", StringPtr("urgente"), "", "web", "sess-1").
		WillReturnRows(pgxmock.NewRows(leadColumnNames).AddRow(leadRow("lead-1", StatusHot, now)...))

	repo := NewPostgresRepository(mock)
	lead, err := repo.Create(context.Background(), &CreateLeadRequest{
		Fields: Fields{
			Name:    StringPtr("Juan"),
			Phone:   StringPtr("+56912345678"),
			Service: StringPtr("instalación"),
			Status:  StatusHot,
		},
		Urgency:   StringPtr("urgente"),
		Channel:   ChannelWeb,
		SessionID: "sess-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "lead-1", lead.ID)
	assert.Equal(t, StatusHot, lead.Status)
	assert.Nil(t, lead.Commune)
	assert.Equal(t, ChannelWeb, lead.Channel)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_CreateRejectsIncomplete(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPostgresRepository(mock)
	_, err = repo.Create(context.Background(), &CreateLeadRequest{Fields: Fields{Phone: StringPtr("1"), Status: StatusCold}})
	assert.ErrorIs(t, err, ErrInvalidName)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_UpdateNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("UPDATE leads SET").
		WithArgs("lead-x", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), "warm", pgxmock.AnyArg(), "").
		WillReturnError(pgx.ErrNoRows)

	repo := NewPostgresRepository(mock)
	_, err = repo.Update(context.Background(), "lead-x", &UpdateLeadRequest{Fields: Fields{Status: StatusWarm}})
	assert.ErrorIs(t, err, ErrLeadNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_TouchLastInteraction(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("UPDATE leads SET last_interaction_at").
		WithArgs("lead-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE leads SET last_interaction_at").
		WithArgs("lead-2").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	repo := NewPostgresRepository(mock)
	require.NoError(t, repo.TouchLastInteraction(context.Background(), "lead-1"))
	assert.ErrorIs(t, repo.TouchLastInteraction(context.Background(), "lead-2"), ErrLeadNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_ListBuildsFilters(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now().UTC()
	contacted := false
	mock.ExpectQuery(`FROM leads WHERE status = \$1 AND contacted = \$2 ORDER BY created_at DESC LIMIT \$3 OFFSET \$4`).
		WithArgs("hot", false, 10, 0).
		WillReturnRows(pgxmock.NewRows(leadColumnNames).
			AddRow(leadRow("lead-1", StatusHot, now)...).
			AddRow(leadRow("lead-2", StatusHot, now)...))

	repo := NewPostgresRepository(mock)
	leads, err := repo.List(context.Background(), ListFilter{Status: StatusHot, Contacted: &contacted, Limit: 10})
	require.NoError(t, err)
	require.Len(t, leads, 2)
	assert.Equal(t, "lead-2", leads[1].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_Stats(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT status, channel, contacted, count").
		WillReturnRows(pgxmock.NewRows([]string{"status", "channel", "contacted", "count"}).
			AddRow("hot", "web", true, int64(2)).
			AddRow("warm", "whatsapp", false, int64(3)))

	repo := NewPostgresRepository(mock)
	stats, err := repo.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Total)
	assert.Equal(t, 2, stats.Contacted)
	assert.Equal(t, 3, stats.ByStatus[StatusWarm])
	assert.Equal(t, 3, stats.ByChannel[ChannelWhatsApp])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_GetByIDWrapsErrors(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	boom := errors.New("connection reset")
	mock.ExpectQuery("FROM leads WHERE id").WithArgs("lead-1").WillReturnError(boom)

	repo := NewPostgresRepository(mock)
	_, err = repo.GetByID(context.Background(), "lead-1")
	assert.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}
