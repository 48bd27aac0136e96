package services

import (
	"context"
	"errors"
	"strconv"
	"time"

	"code.cloudfoundry.org/lager/v3"
	"github.com/cenkalti/backoff/v5"
	"github.com/go-playground/validator/v10"

	"github.com/soaringjerry/Compass/internal/metric"
	"github.com/soaringjerry/Compass/internal/models"
)

// SubmitAnswerRequest is one answer submission from the navigation layer.
type SubmitAnswerRequest struct {
	EmployeeAssessmentID string `validate:"required"`
	QuestionID           string `validate:"required"`
	Value                string
	AnsweredAt           time.Time
	Notes                string `validate:"max=4000"`
}

// SubmitAnswerResult reports the stored answer and the assessment's progress after it.
type SubmitAnswerResult struct {
	Answer   *models.Answer          `json:"answer"`
	WasNew   bool                    `json:"was_new"`
	Progress Progress                `json:"progress"`
	Status   models.AssessmentStatus `json:"status"`
}

// EngineConfig bounds the optimistic retry loop around assessment updates.
type EngineConfig struct {
	MaxUpdateAttempts    uint
	RetryInitialInterval time.Duration
}

// AssessmentService applies answers and lifecycle events to employee assessments.
type AssessmentService struct {
	logger   lager.Logger
	store    EngineStore
	ledger   *AnswerLedger
	validate *validator.Validate
	cfg      EngineConfig
	now      func() time.Time
}

func NewAssessmentService(logger lager.Logger, store EngineStore, cfg EngineConfig) *AssessmentService {
	if cfg.MaxUpdateAttempts == 0 {
		cfg.MaxUpdateAttempts = 5
	}
	if cfg.RetryInitialInterval <= 0 {
		cfg.RetryInitialInterval = 10 * time.Millisecond
	}
	return &AssessmentService{
		logger:   logger,
		store:    store,
		ledger:   NewAnswerLedger(store),
		validate: validator.New(),
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SubmitAnswer scores and upserts one answer, then recomputes the owning
// assessment's score tree and progress as a single optimistic update.
func (s *AssessmentService) SubmitAnswer(ctx context.Context, req SubmitAnswerRequest) (*SubmitAnswerResult, error) {
	logger := s.logger.Session("submit-answer", lager.Data{
		"assessment": req.EmployeeAssessmentID,
		"question":   req.QuestionID,
	})

	if err := s.validate.Struct(req); err != nil {
		return nil, NewInvalidError(err.Error())
	}

	assessment, err := s.store.GetAssessment(ctx, req.EmployeeAssessmentID)
	if err != nil {
		logger.Error("failed-to-get-assessment", err)
		return nil, err
	}
	if assessment == nil {
		return nil, assessmentNotFound(req.EmployeeAssessmentID)
	}
	matrix, err := s.store.GetMatrix(ctx, assessment.MatrixID)
	if err != nil {
		logger.Error("failed-to-get-matrix", err)
		return nil, err
	}
	if matrix == nil {
		return nil, matrixNotFound(assessment.MatrixID)
	}
	if !matrixHasQuestion(matrix, req.QuestionID) {
		return nil, questionNotFound(req.QuestionID)
	}
	def, err := s.store.GetQuestion(ctx, matrix.ID, req.QuestionID)
	if err != nil {
		logger.Error("failed-to-get-question", err)
		return nil, err
	}
	if def == nil {
		return nil, questionNotFound(req.QuestionID)
	}

	answeredAt := req.AnsweredAt.UTC()
	if req.AnsweredAt.IsZero() {
		answeredAt = s.now()
	}

	up, err := s.ledger.Upsert(ctx, assessment.ID, def, req.Value, answeredAt, req.Notes)
	if err != nil {
		if _, ok := AsServiceError(err); !ok {
			logger.Error("failed-to-upsert-answer", err)
		}
		return nil, err
	}
	metric.RecordAnswerSubmitted(ctx, string(def.Type), up.WasNew)

	questionCount := matrix.QuestionCount()
	var from models.AssessmentStatus
	updated, err := s.updateAssessment(ctx, logger, assessment.ID, func(cur *models.EmployeeAssessment) (bool, error) {
		answers, err := s.ledger.Answers(ctx, cur.ID)
		if err != nil {
			return false, err
		}
		from = cur.Status
		cur.Score = ComputeScoreTree(matrix, answers)
		applyAnswer(cur, answeredQuestions(matrix, answers), questionCount, answeredAt)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if updated.Status != from {
		logger.Info("status-changed", lager.Data{"from": from, "to": updated.Status})
		metric.RecordStatusTransition(ctx, string(from), string(updated.Status))
	}

	logger.Debug("answer-applied", lager.Data{
		"new":      up.WasNew,
		"answered": updated.AnsweredQuestionCount,
		"total":    questionCount,
	})

	return &SubmitAnswerResult{
		Answer:   up.Answer,
		WasNew:   up.WasNew,
		Progress: Progress{Answered: updated.AnsweredQuestionCount, Total: questionCount},
		Status:   updated.Status,
	}, nil
}

// ConfirmAssessment records that the employee accepted the invitation.
// Assessments already past INVITED keep their status.
func (s *AssessmentService) ConfirmAssessment(ctx context.Context, assessmentID string) (models.AssessmentStatus, error) {
	logger := s.logger.Session("confirm-assessment", lager.Data{"assessment": assessmentID})

	var confirmed bool
	updated, err := s.updateAssessment(ctx, logger, assessmentID, func(cur *models.EmployeeAssessment) (bool, error) {
		confirmed = confirm(cur)
		if confirmed {
			cur.LastActivityDate = s.now()
		}
		return confirmed, nil
	})
	if err != nil {
		return "", err
	}
	if confirmed {
		metric.RecordStatusTransition(ctx, string(models.StatusInvited), string(models.StatusConfirmed))
		s.store.AddAudit(models.AuditEntry{Time: s.now(), Actor: updated.EmployeeEmailNormalized, Action: "assessment.confirm", Target: assessmentID})
	}
	return updated.Status, nil
}

// GetScoreTree returns the assessment's stored score tree.
func (s *AssessmentService) GetScoreTree(ctx context.Context, assessmentID string) (models.ScoreTree, error) {
	a, err := s.store.GetAssessment(ctx, assessmentID)
	if err != nil {
		return models.ScoreTree{}, err
	}
	if a == nil {
		return models.ScoreTree{}, assessmentNotFound(assessmentID)
	}
	if a.Score.QuestionScores == nil {
		return emptyScoreTree(), nil
	}
	return a.Score, nil
}

// GetPotentialScoreTree computes the matrix's potential tree from the current
// catalog. The result is valid as of this call only.
func (s *AssessmentService) GetPotentialScoreTree(ctx context.Context, matrixID string) (models.ScoreTree, error) {
	return potentialTree(ctx, s.store, matrixID)
}

// NextQuestion returns the first unanswered question in matrix order and how
// many questions remain unanswered. It returns nil when everything is answered.
func (s *AssessmentService) NextQuestion(ctx context.Context, assessmentID string) (*models.QuestionDefinition, int, error) {
	a, err := s.store.GetAssessment(ctx, assessmentID)
	if err != nil {
		return nil, 0, err
	}
	if a == nil {
		return nil, 0, assessmentNotFound(assessmentID)
	}
	matrix, err := s.store.GetMatrix(ctx, a.MatrixID)
	if err != nil {
		return nil, 0, err
	}
	if matrix == nil {
		return nil, 0, matrixNotFound(a.MatrixID)
	}
	answered, err := s.ledger.FindAnsweredQuestionIDs(ctx, assessmentID)
	if err != nil {
		return nil, 0, err
	}

	var next string
	remaining := 0
	for _, qid := range matrix.QuestionIDs() {
		if _, ok := answered[qid]; ok {
			continue
		}
		if next == "" {
			next = qid
		}
		remaining++
	}
	if next == "" {
		return nil, 0, nil
	}
	def, err := s.store.GetQuestion(ctx, matrix.ID, next)
	if err != nil {
		return nil, 0, err
	}
	if def == nil {
		return nil, 0, questionNotFound(next)
	}
	return def, remaining, nil
}

// updateAssessment runs read -> mutate -> compare-and-swap, retrying with
// backoff when another writer got there first. mutate must be safe to rerun
// against a fresh read; returning false skips the write.
func (s *AssessmentService) updateAssessment(ctx context.Context, logger lager.Logger, id string, mutate func(*models.EmployeeAssessment) (bool, error)) (*models.EmployeeAssessment, error) {
	attempts := 0
	op := func() (*models.EmployeeAssessment, error) {
		attempts++
		cur, err := s.store.GetAssessment(ctx, id)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		if cur == nil {
			return nil, backoff.Permanent(assessmentNotFound(id))
		}
		expected := cur.Version
		changed, err := mutate(cur)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		if !changed {
			return cur, nil
		}
		if err := s.store.UpdateAssessment(ctx, cur, expected); err != nil {
			if errors.Is(err, models.ErrVersionConflict) {
				metric.RecordUpdateConflict(ctx)
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}
		return cur, nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.RetryInitialInterval
	updated, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(s.cfg.MaxUpdateAttempts),
		backoff.WithNotify(func(err error, d time.Duration) {
			logger.Debug("retrying-update", lager.Data{"error": err.Error(), "delay": d.String()})
		}),
	)
	if err != nil {
		if errors.Is(err, models.ErrVersionConflict) {
			logger.Error("update-conflict-exhausted", err, lager.Data{"attempts": attempts})
			return nil, &ServiceError{
				Code:    ErrorConcurrentUpdate,
				Message: "assessment " + id + " still conflicting after " + strconv.Itoa(attempts) + " attempts",
				Err:     ErrConcurrentUpdateConflict,
			}
		}
		if _, ok := AsServiceError(err); !ok {
			logger.Error("failed-to-update-assessment", err)
		}
		return nil, err
	}
	return updated, nil
}

func potentialTree(ctx context.Context, store CatalogStore, matrixID string) (models.ScoreTree, error) {
	matrix, err := store.GetMatrix(ctx, matrixID)
	if err != nil {
		return models.ScoreTree{}, err
	}
	if matrix == nil {
		return models.ScoreTree{}, matrixNotFound(matrixID)
	}
	questions, err := store.ListQuestions(ctx, matrixID)
	if err != nil {
		return models.ScoreTree{}, err
	}
	return ComputePotentialScoreTree(matrix, indexQuestions(questions)), nil
}

func indexQuestions(questions []*models.QuestionDefinition) map[string]*models.QuestionDefinition {
	out := make(map[string]*models.QuestionDefinition, len(questions))
	for _, q := range questions {
		if q != nil {
			out[q.ID] = q
		}
	}
	return out
}

func matrixHasQuestion(m *models.Matrix, questionID string) bool {
	for _, p := range m.Pillars {
		for _, c := range p.Categories {
			for _, qid := range c.QuestionIDs {
				if qid == questionID {
					return true
				}
			}
		}
	}
	return false
}
