package services_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"code.cloudfoundry.org/lager/v3/lagertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/soaringjerry/Compass/internal/db"
	"github.com/soaringjerry/Compass/internal/metric"
	"github.com/soaringjerry/Compass/internal/models"
	"github.com/soaringjerry/Compass/internal/services"
)

func TestSubmitAnswerWalksLifecycle(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	a := e.invite(t, "core", "Ana@Example.com ")

	status, err := e.assessments.ConfirmAssessment(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusConfirmed, status)

	steps := []struct {
		question string
		value    string
		status   models.AssessmentStatus
	}{
		{"q-yes", "true", models.StatusInProgress},
		{"q-star", "3", models.StatusInProgress},
		{"q-multi", "a,b", models.StatusCompleted},
	}
	for i, step := range steps {
		res := e.submit(t, a.ID, step.question, step.value)
		assert.True(t, res.WasNew)
		assert.Equal(t, step.status, res.Status, "after answer %d", i+1)
		assert.Equal(t, services.Progress{Answered: i + 1, Total: 3}, res.Progress)
	}

	tree, err := e.assessments.GetScoreTree(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 10.0, tree.QuestionScores["q-yes"])
	assert.Equal(t, 9.0, tree.QuestionScores["q-star"])
	assert.Equal(t, 5.0, tree.QuestionScores["q-multi"])
	assert.Equal(t, 19.0, tree.CategoryScores["c1"].Score)
	assert.Equal(t, 24.0, tree.Total)
}

func TestResubmittingAnAnswerDoesNotDoubleCount(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	a := e.invite(t, "core", "ana@example.com")

	first := e.submit(t, a.ID, "q-star", "5")
	second := e.submit(t, a.ID, "q-star", "2")

	assert.True(t, first.WasNew)
	assert.False(t, second.WasNew)
	assert.Equal(t, first.Answer.ID, second.Answer.ID)
	assert.Equal(t, 1, second.Progress.Answered)

	answers, err := e.store.ListAnswers(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, answers, 1)
	assert.Equal(t, "2", answers[0].Value)

	tree, err := e.assessments.GetScoreTree(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 6.0, tree.Total)
}

func TestStoredTreeMatchesRecomputation(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	a := e.invite(t, "core", "ana@example.com")
	e.submit(t, a.ID, "q-yes", "no")
	e.submit(t, a.ID, "q-multi", `["b"]`)

	matrix, err := e.store.GetMatrix(ctx, "m1")
	require.NoError(t, err)
	answers, err := e.store.ListAnswers(ctx, a.ID)
	require.NoError(t, err)

	stored, err := e.assessments.GetScoreTree(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, services.ComputeScoreTree(matrix, answers), stored)

	var pillarSum float64
	for _, ps := range stored.PillarScores {
		pillarSum += ps.Score
	}
	assert.Equal(t, stored.Total, pillarSum)
}

func TestMaxAnswersReachPotential(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	a := e.invite(t, "core", "ana@example.com")
	e.submit(t, a.ID, "q-yes", "yes")
	e.submit(t, a.ID, "q-star", "5")
	e.submit(t, a.ID, "q-multi", "a,b,a")

	potential, err := e.assessments.GetPotentialScoreTree(ctx, "m1")
	require.NoError(t, err)
	tree, err := e.assessments.GetScoreTree(ctx, a.ID)
	require.NoError(t, err)

	assert.Equal(t, 30.0, potential.Total)
	assert.Equal(t, potential, tree)
}

func TestPotentialTreeFollowsCatalogEdits(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	before, err := e.assessments.GetPotentialScoreTree(ctx, "m1")
	require.NoError(t, err)
	require.NoError(t, e.store.PutQuestion(ctx, &models.QuestionDefinition{
		ID: "q-yes", MatrixID: "m1", PillarID: "p1", CategoryID: "c1", Type: models.QuestionYesNo, Points: 20,
	}))
	after, err := e.assessments.GetPotentialScoreTree(ctx, "m1")
	require.NoError(t, err)

	assert.Equal(t, 30.0, before.Total)
	assert.Equal(t, 40.0, after.Total)

	_, err = e.assessments.GetPotentialScoreTree(ctx, "missing")
	assert.ErrorIs(t, err, services.ErrMatrixNotFound)
}

func TestQuestionIDReusedByAnotherMatrixLeavesScoringAlone(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	require.NoError(t, e.store.PutMatrix(ctx, &models.Matrix{
		ID: "m2", TenantID: "globex", PerformanceCycleID: "2026-h1",
		Pillars: []models.Pillar{{ID: "p1", Categories: []models.Category{{ID: "c1", QuestionIDs: []string{"q-yes"}}}}},
	}))
	require.NoError(t, e.store.PutQuestion(ctx, &models.QuestionDefinition{
		ID: "q-yes", MatrixID: "m2", PillarID: "p1", CategoryID: "c1", Type: models.QuestionYesNo, Points: 1,
	}))

	potential, err := e.assessments.GetPotentialScoreTree(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, 30.0, potential.Total)

	a := e.invite(t, "core", "ana@example.com")
	res := e.submit(t, a.ID, "q-yes", "yes")
	assert.Equal(t, 10.0, res.Answer.Score)
}

func TestLoweredPointsKeepFrozenScoreUntilReanswered(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	a := e.invite(t, "core", "ana@example.com")
	e.submit(t, a.ID, "q-yes", "yes")

	require.NoError(t, e.store.PutQuestion(ctx, &models.QuestionDefinition{
		ID: "q-yes", MatrixID: "m1", PillarID: "p1", CategoryID: "c1", Type: models.QuestionYesNo, Points: 4,
	}))
	potential, err := e.assessments.GetPotentialScoreTree(ctx, "m1")
	require.NoError(t, err)
	tree, err := e.assessments.GetScoreTree(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 4.0, potential.QuestionScores["q-yes"])
	assert.Equal(t, 10.0, tree.QuestionScores["q-yes"], "stored answers keep the points they were scored with")

	res := e.submit(t, a.ID, "q-yes", "yes")
	assert.Equal(t, 4.0, res.Answer.Score)
	tree, err = e.assessments.GetScoreTree(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 4.0, tree.QuestionScores["q-yes"])
	assert.LessOrEqual(t, tree.Total, potential.Total)
}

func TestInvalidAnswersWriteNothing(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	a := e.invite(t, "core", "ana@example.com")

	_, err := e.assessments.SubmitAnswer(ctx, services.SubmitAnswerRequest{EmployeeAssessmentID: a.ID, QuestionID: "q-star", Value: "6"})
	assert.ErrorIs(t, err, services.ErrInvalidAnswerValue)

	_, err = e.assessments.SubmitAnswer(ctx, services.SubmitAnswerRequest{EmployeeAssessmentID: a.ID, QuestionID: "q-multi", Value: "a,z"})
	assert.ErrorIs(t, err, services.ErrInvalidOptionSelected)
	se, ok := services.AsServiceError(err)
	require.True(t, ok)
	assert.Equal(t, services.ErrorInvalid, se.Code)

	answers, err := e.store.ListAnswers(ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, answers)

	cur, err := e.store.GetAssessment(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.Version, cur.Version)
	assert.Equal(t, models.StatusInvited, cur.Status)
}

func TestSubmitAnswerReferentialErrors(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	a := e.invite(t, "core", "ana@example.com")
	require.NoError(t, e.store.PutQuestion(ctx, &models.QuestionDefinition{ID: "elsewhere", MatrixID: "m2", Type: models.QuestionYesNo, Points: 1}))

	cases := []struct {
		name string
		req  services.SubmitAnswerRequest
		want error
		code services.ErrorCode
	}{
		{"unknown assessment", services.SubmitAnswerRequest{EmployeeAssessmentID: "nope", QuestionID: "q-yes", Value: "yes"}, services.ErrAssessmentNotFound, services.ErrorNotFound},
		{"unknown question", services.SubmitAnswerRequest{EmployeeAssessmentID: a.ID, QuestionID: "nope", Value: "yes"}, services.ErrQuestionNotFound, services.ErrorNotFound},
		{"question of another matrix", services.SubmitAnswerRequest{EmployeeAssessmentID: a.ID, QuestionID: "elsewhere", Value: "yes"}, services.ErrQuestionNotFound, services.ErrorNotFound},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := e.assessments.SubmitAnswer(ctx, c.req)
			require.ErrorIs(t, err, c.want)
			se, ok := services.AsServiceError(err)
			require.True(t, ok)
			assert.Equal(t, c.code, se.Code)
		})
	}

	_, err := e.assessments.SubmitAnswer(ctx, services.SubmitAnswerRequest{EmployeeAssessmentID: a.ID, Value: "yes"})
	se, ok := services.AsServiceError(err)
	require.True(t, ok)
	assert.Equal(t, services.ErrorInvalid, se.Code)
}

func TestAnswerOnInvitedAssessmentStartsIt(t *testing.T) {
	e := newEngine(t)
	a := e.invite(t, "core", "ana@example.com")
	res := e.submit(t, a.ID, "q-yes", "yes")
	assert.Equal(t, models.StatusInProgress, res.Status)
}

func TestOpenAnswerCountsWhilePendingReview(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	require.NoError(t, e.store.PutMatrix(ctx, &models.Matrix{
		ID: "m-open", TenantID: "acme", PerformanceCycleID: "2026-h1",
		Pillars: []models.Pillar{{ID: "p", Categories: []models.Category{{ID: "c", QuestionIDs: []string{"q-open"}}}}},
	}))
	require.NoError(t, e.store.PutQuestion(ctx, &models.QuestionDefinition{ID: "q-open", MatrixID: "m-open", Type: models.QuestionOpenAnswer, Points: 5}))
	a, err := e.invitations.Invite(ctx, "m-open", "", "ana@example.com")
	require.NoError(t, err)

	res := e.submit(t, a.ID, "q-open", "I mentor two juniors")
	assert.True(t, res.Answer.PendingReview)
	assert.Equal(t, 0.0, res.Answer.Score)
	assert.Equal(t, models.StatusCompleted, res.Status)
}

func TestConfirmAssessment(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	a := e.invite(t, "core", "ana@example.com")

	for i := 0; i < 2; i++ {
		status, err := e.assessments.ConfirmAssessment(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusConfirmed, status)
	}

	e.submit(t, a.ID, "q-yes", "yes")
	status, err := e.assessments.ConfirmAssessment(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, status)

	_, err = e.assessments.ConfirmAssessment(ctx, "nope")
	assert.ErrorIs(t, err, services.ErrAssessmentNotFound)
}

func TestCompletedAssessmentAcceptsEditsWithoutRegressing(t *testing.T) {
	e := newEngine(t)
	a := e.invite(t, "core", "ana@example.com")
	e.submit(t, a.ID, "q-yes", "yes")
	e.submit(t, a.ID, "q-star", "4")
	e.submit(t, a.ID, "q-multi", "a")

	res := e.submit(t, a.ID, "q-star", "1")
	assert.False(t, res.WasNew)
	assert.Equal(t, models.StatusCompleted, res.Status)
	assert.Equal(t, 3, res.Progress.Answered)
}

func TestNextQuestionFollowsMatrixOrder(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	a := e.invite(t, "core", "ana@example.com")

	next, remaining, err := e.assessments.NextQuestion(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "q-yes", next.ID)
	assert.Equal(t, 3, remaining)

	e.submit(t, a.ID, "q-yes", "yes")
	e.submit(t, a.ID, "q-multi", "b")
	next, remaining, err = e.assessments.NextQuestion(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "q-star", next.ID)
	assert.Equal(t, 1, remaining)

	e.submit(t, a.ID, "q-star", "2")
	next, remaining, err = e.assessments.NextQuestion(ctx, a.ID)
	require.NoError(t, err)
	assert.Nil(t, next)
	assert.Zero(t, remaining)
}

func TestConcurrentAnswersToDifferentQuestionsAreAllCounted(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	a := e.invite(t, "core", "ana@example.com")

	answers := map[string]string{"q-yes": "yes", "q-star": "5", "q-multi": "a,b"}
	var wg sync.WaitGroup
	for qid, value := range answers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.assessments.SubmitAnswer(ctx, services.SubmitAnswerRequest{EmployeeAssessmentID: a.ID, QuestionID: qid, Value: value})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	cur, err := e.store.GetAssessment(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, cur.AnsweredQuestionCount)
	assert.Equal(t, models.StatusCompleted, cur.Status)
	assert.Equal(t, 30.0, cur.Score.Total)
}

// conflictingStore loses the first failures compare-and-swaps.
type conflictingStore struct {
	*db.MemoryStore
	mu       sync.Mutex
	failures int
	attempts int
}

func (s *conflictingStore) UpdateAssessment(ctx context.Context, a *models.EmployeeAssessment, expected int64) error {
	s.mu.Lock()
	s.attempts++
	lose := s.attempts <= s.failures
	s.mu.Unlock()
	if lose {
		return models.ErrVersionConflict
	}
	return s.MemoryStore.UpdateAssessment(ctx, a, expected)
}

func newConflictingEngine(t *testing.T, failures int) (*conflictingStore, *services.AssessmentService, *models.EmployeeAssessment) {
	t.Helper()
	store := &conflictingStore{MemoryStore: db.NewMemoryStore(), failures: failures}
	seedCatalog(t, store)
	logger := lagertest.NewTestLogger("conflict")
	invitations := services.NewInvitationService(logger, store)
	svc := services.NewAssessmentService(logger, store, services.EngineConfig{MaxUpdateAttempts: 3, RetryInitialInterval: time.Millisecond})

	a, err := invitations.Invite(context.Background(), "m1", "core", "ana@example.com")
	require.NoError(t, err)
	return store, svc, a
}

func TestPersistentConflictSurfacesAfterRetries(t *testing.T) {
	store, svc, a := newConflictingEngine(t, 3)

	_, err := svc.SubmitAnswer(context.Background(), services.SubmitAnswerRequest{EmployeeAssessmentID: a.ID, QuestionID: "q-yes", Value: "yes"})
	require.ErrorIs(t, err, services.ErrConcurrentUpdateConflict)
	se, ok := services.AsServiceError(err)
	require.True(t, ok)
	assert.Equal(t, services.ErrorConcurrentUpdate, se.Code)
	assert.Equal(t, 3, store.attempts)
}

func TestProgressRecoversAfterExhaustedRetries(t *testing.T) {
	store, svc, a := newConflictingEngine(t, 3)
	ctx := context.Background()
	submit := func(qid, value string) *services.SubmitAnswerResult {
		t.Helper()
		res, err := svc.SubmitAnswer(ctx, services.SubmitAnswerRequest{EmployeeAssessmentID: a.ID, QuestionID: qid, Value: value})
		require.NoError(t, err)
		return res
	}

	_, err := svc.SubmitAnswer(ctx, services.SubmitAnswerRequest{EmployeeAssessmentID: a.ID, QuestionID: "q-yes", Value: "yes"})
	require.ErrorIs(t, err, services.ErrConcurrentUpdateConflict)

	res := submit("q-yes", "yes")
	assert.False(t, res.WasNew)
	assert.Equal(t, services.Progress{Answered: 1, Total: 3}, res.Progress)
	assert.Equal(t, models.StatusInProgress, res.Status)

	submit("q-star", "5")
	res = submit("q-multi", "a,b")
	assert.Equal(t, services.Progress{Answered: 3, Total: 3}, res.Progress)
	assert.Equal(t, models.StatusCompleted, res.Status)

	cur, err := store.GetAssessment(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, cur.AnsweredQuestionCount)
	assert.Equal(t, 30.0, cur.Score.Total)
}

// confirmingStore lets another writer confirm the assessment just before the
// first compare-and-swap lands.
type confirmingStore struct {
	*db.MemoryStore
	once sync.Once
}

func (s *confirmingStore) UpdateAssessment(ctx context.Context, a *models.EmployeeAssessment, expected int64) error {
	raced := false
	s.once.Do(func() {
		other, err := s.MemoryStore.GetAssessment(ctx, a.ID)
		if err != nil || other == nil {
			return
		}
		other.Status = models.StatusConfirmed
		if s.MemoryStore.UpdateAssessment(ctx, other, other.Version) == nil {
			raced = true
		}
	})
	if raced {
		return models.ErrVersionConflict
	}
	return s.MemoryStore.UpdateAssessment(ctx, a, expected)
}

func TestStatusTransitionIsMeasuredFromTheWinningRead(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	metric.InitOTelMetrics()

	store := &confirmingStore{MemoryStore: db.NewMemoryStore()}
	seedCatalog(t, store)
	logger := lagertest.NewTestLogger("race")
	a, err := services.NewInvitationService(logger, store).Invite(context.Background(), "m1", "core", "ana@example.com")
	require.NoError(t, err)
	svc := services.NewAssessmentService(logger, store, services.EngineConfig{MaxUpdateAttempts: 3, RetryInitialInterval: time.Millisecond})

	res, err := svc.SubmitAnswer(context.Background(), services.SubmitAnswerRequest{EmployeeAssessmentID: a.ID, QuestionID: "q-yes", Value: "yes"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, res.Status)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	var from []string
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "compass.assessment.status_transitions" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				v, _ := dp.Attributes.Value("status.from")
				from = append(from, v.AsString())
			}
		}
	}
	assert.Equal(t, []string{string(models.StatusConfirmed)}, from)
}
