package services

import (
	"time"

	"github.com/soaringjerry/Compass/internal/models"
)

// Progress is the answered/total pair reported after each submission.
type Progress struct {
	Answered int `json:"answered"`
	Total    int `json:"total"`
}

// advance moves a forward along the lifecycle. Backward moves are ignored.
func advance(a *models.EmployeeAssessment, to models.AssessmentStatus) bool {
	if to.Rank() <= a.Status.Rank() {
		return false
	}
	a.Status = to
	return true
}

// confirm applies the explicit INVITED -> CONFIRMED event.
func confirm(a *models.EmployeeAssessment) bool {
	if a.Status != models.StatusInvited && a.Status != "" {
		return false
	}
	return advance(a, models.StatusConfirmed)
}

// applyAnswer records an answer upsert on the assessment. answered is the
// number of distinct matrix questions that currently hold an answer, so a
// submission whose earlier update never landed is still counted on the next
// one. COMPLETED is reached once every matrix question has an answer.
// An answer on an INVITED assessment is taken as implicit confirmation.
func applyAnswer(a *models.EmployeeAssessment, answered, questionCount int, at time.Time) {
	a.LastActivityDate = at
	if questionCount > 0 && answered > questionCount {
		answered = questionCount
	}
	a.AnsweredQuestionCount = answered
	if answered == 0 {
		return
	}
	advance(a, models.StatusInProgress)
	if questionCount > 0 && answered >= questionCount {
		advance(a, models.StatusCompleted)
	}
}

// answeredQuestions counts the matrix questions present in answers.
// Answers to questions no longer in the matrix are ignored.
func answeredQuestions(m *models.Matrix, answers []*models.Answer) int {
	inMatrix := make(map[string]struct{}, m.QuestionCount())
	for _, qid := range m.QuestionIDs() {
		inMatrix[qid] = struct{}{}
	}
	seen := make(map[string]struct{}, len(answers))
	for _, a := range answers {
		if a == nil {
			continue
		}
		if _, ok := inMatrix[a.QuestionID]; ok {
			seen[a.QuestionID] = struct{}{}
		}
	}
	return len(seen)
}
