package services_test

import (
	"context"
	"testing"
	"time"

	"code.cloudfoundry.org/lager/v3/lagertest"
	"github.com/stretchr/testify/require"

	"github.com/soaringjerry/Compass/internal/db"
	"github.com/soaringjerry/Compass/internal/models"
	"github.com/soaringjerry/Compass/internal/services"
)

type catalogWriter interface {
	PutMatrix(ctx context.Context, m *models.Matrix) error
	PutQuestion(ctx context.Context, q *models.QuestionDefinition) error
}

// seedCatalog writes matrix m1: pillar p1 holds c1 (q-yes, q-star) and
// pillar p2 holds c2 (q-multi). Potential total is 10 + 15 + 5 = 30.
func seedCatalog(t *testing.T, s catalogWriter) *models.Matrix {
	t.Helper()
	ctx := context.Background()
	m := &models.Matrix{
		ID:                 "m1",
		TenantID:           "acme",
		PerformanceCycleID: "2026-h1",
		Name:               "Engineering ladder",
		TeamIDs:            []string{"core", "design"},
		Pillars: []models.Pillar{
			{ID: "p1", Categories: []models.Category{{ID: "c1", QuestionIDs: []string{"q-yes", "q-star"}}}},
			{ID: "p2", Categories: []models.Category{{ID: "c2", QuestionIDs: []string{"q-multi"}}}},
		},
		UpdatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.PutMatrix(ctx, m))
	questions := []*models.QuestionDefinition{
		{ID: "q-yes", MatrixID: "m1", PillarID: "p1", CategoryID: "c1", Type: models.QuestionYesNo, Points: 10},
		{ID: "q-star", MatrixID: "m1", PillarID: "p1", CategoryID: "c1", Type: models.QuestionStarFive, Points: 15},
		{
			ID: "q-multi", MatrixID: "m1", PillarID: "p2", CategoryID: "c2", Type: models.QuestionCustomized,
			Options:        []models.QuestionOption{{ID: "a", Points: 2}, {ID: "b", Points: 3}},
			MultipleChoice: true,
		},
	}
	for _, q := range questions {
		require.NoError(t, s.PutQuestion(ctx, q))
	}
	return m
}

type engine struct {
	store       *db.MemoryStore
	assessments *services.AssessmentService
	invitations *services.InvitationService
	analytics   *services.AnalyticsService
}

func newEngine(t *testing.T) *engine {
	t.Helper()
	store := db.NewMemoryStore()
	seedCatalog(t, store)
	logger := lagertest.NewTestLogger("engine")
	return &engine{
		store:       store,
		assessments: services.NewAssessmentService(logger, store, services.EngineConfig{MaxUpdateAttempts: 5, RetryInitialInterval: time.Millisecond}),
		invitations: services.NewInvitationService(logger, store),
		analytics:   services.NewAnalyticsService(logger, store, 2),
	}
}

func (e *engine) invite(t *testing.T, team, email string) *models.EmployeeAssessment {
	t.Helper()
	a, err := e.invitations.Invite(context.Background(), "m1", team, email)
	require.NoError(t, err)
	return a
}

func (e *engine) submit(t *testing.T, assessmentID, questionID, value string) *services.SubmitAnswerResult {
	t.Helper()
	res, err := e.assessments.SubmitAnswer(context.Background(), services.SubmitAnswerRequest{
		EmployeeAssessmentID: assessmentID,
		QuestionID:           questionID,
		Value:                value,
	})
	require.NoError(t, err)
	return res
}
