package services

import (
	"context"
	"time"

	"github.com/soaringjerry/Compass/internal/models"
)

// UpsertResult is the stored answer plus whether this submission created it.
type UpsertResult struct {
	Answer *models.Answer
	WasNew bool
}

// AnswerLedger guarantees at most one answer per question per assessment.
type AnswerLedger struct {
	store       AnswerStore
	idGenerator func() string
}

func NewAnswerLedger(store AnswerStore) *AnswerLedger {
	return &AnswerLedger{store: store, idGenerator: func() string { return shortID(16) }}
}

// Upsert scores raw and stores it under (assessmentID, def.ID). Scoring
// failures return before anything is written. Resubmissions overwrite the
// existing answer in place.
func (l *AnswerLedger) Upsert(ctx context.Context, assessmentID string, def *models.QuestionDefinition, raw string, answeredAt time.Time, notes string) (*UpsertResult, error) {
	res, err := Score(def, raw)
	if err != nil {
		return nil, err
	}
	stored, wasNew, err := l.store.UpsertAnswer(ctx, &models.Answer{
		ID:                   l.idGenerator(),
		EmployeeAssessmentID: assessmentID,
		QuestionID:           def.ID,
		Value:                raw,
		Score:                res.Score,
		AnsweredAt:           answeredAt,
		Notes:                notes,
		PendingReview:        res.PendingReview,
	})
	if err != nil {
		return nil, err
	}
	return &UpsertResult{Answer: stored, WasNew: wasNew}, nil
}

// Answers lists every current answer of an assessment.
func (l *AnswerLedger) Answers(ctx context.Context, assessmentID string) ([]*models.Answer, error) {
	return l.store.ListAnswers(ctx, assessmentID)
}

// FindAnsweredQuestionIDs returns the set of questions the assessment has answered.
func (l *AnswerLedger) FindAnsweredQuestionIDs(ctx context.Context, assessmentID string) (map[string]struct{}, error) {
	answers, err := l.store.ListAnswers(ctx, assessmentID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]struct{}, len(answers))
	for _, a := range answers {
		out[a.QuestionID] = struct{}{}
	}
	return out, nil
}

// DeleteByAssessment removes every answer of an assessment.
func (l *AnswerLedger) DeleteByAssessment(ctx context.Context, assessmentID string) (int, error) {
	return l.store.DeleteAnswersByAssessment(ctx, assessmentID)
}
