package services

import (
	"testing"
	"time"

	"github.com/soaringjerry/Compass/internal/models"
)

func TestApplyAnswerWalksLifecycle(t *testing.T) {
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	a := &models.EmployeeAssessment{Status: models.StatusConfirmed}

	want := []models.AssessmentStatus{models.StatusInProgress, models.StatusInProgress, models.StatusCompleted}
	for i, status := range want {
		applyAnswer(a, i+1, 3, at.Add(time.Duration(i)*time.Minute))
		if a.Status != status {
			t.Fatalf("after answer %d: status=%s, want %s", i+1, a.Status, status)
		}
		if a.AnsweredQuestionCount != i+1 {
			t.Fatalf("after answer %d: count=%d", i+1, a.AnsweredQuestionCount)
		}
	}
	if !a.LastActivityDate.Equal(at.Add(2 * time.Minute)) {
		t.Fatalf("last activity=%v", a.LastActivityDate)
	}
}

func TestApplyAnswerResubmissionOnlyTouchesActivity(t *testing.T) {
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	a := &models.EmployeeAssessment{Status: models.StatusInProgress, AnsweredQuestionCount: 1}
	applyAnswer(a, 1, 3, at)
	if a.AnsweredQuestionCount != 1 || a.Status != models.StatusInProgress {
		t.Fatalf("resubmission changed progress: %+v", a)
	}
	if !a.LastActivityDate.Equal(at) {
		t.Fatalf("last activity not updated")
	}
}

func TestApplyAnswerCatchesUpMissedCount(t *testing.T) {
	// the first answer was stored but its assessment update never landed
	a := &models.EmployeeAssessment{Status: models.StatusInvited}
	applyAnswer(a, 1, 3, time.Now())
	if a.AnsweredQuestionCount != 1 || a.Status != models.StatusInProgress {
		t.Fatalf("resubmission did not recover progress: %+v", a)
	}
	applyAnswer(a, 3, 3, time.Now())
	if a.AnsweredQuestionCount != 3 || a.Status != models.StatusCompleted {
		t.Fatalf("progress=%+v, want 3 answered and COMPLETED", a)
	}
}

func TestApplyAnswerNeverRegresses(t *testing.T) {
	a := &models.EmployeeAssessment{Status: models.StatusCompleted, AnsweredQuestionCount: 4}
	applyAnswer(a, 3, 4, time.Now())
	if a.Status != models.StatusCompleted {
		t.Fatalf("completed assessment regressed to %s", a.Status)
	}
}

func TestApplyAnswerClampsToQuestionCount(t *testing.T) {
	a := &models.EmployeeAssessment{Status: models.StatusInProgress, AnsweredQuestionCount: 2}
	applyAnswer(a, 3, 2, time.Now())
	if a.AnsweredQuestionCount != 2 {
		t.Fatalf("count=%d, want clamp to 2", a.AnsweredQuestionCount)
	}
}

func TestApplyAnswerOnInvitedIsImplicitConfirmation(t *testing.T) {
	a := &models.EmployeeAssessment{Status: models.StatusInvited}
	applyAnswer(a, 1, 5, time.Now())
	if a.Status != models.StatusInProgress {
		t.Fatalf("status=%s, want IN_PROGRESS", a.Status)
	}
}

func TestAnsweredQuestionsIgnoresForeignAnswers(t *testing.T) {
	m := &models.Matrix{Pillars: []models.Pillar{{ID: "p", Categories: []models.Category{{ID: "c", QuestionIDs: []string{"q1", "q2"}}}}}}
	answers := []*models.Answer{{QuestionID: "q1"}, {QuestionID: "gone"}, nil, {QuestionID: "q2"}}
	if got := answeredQuestions(m, answers); got != 2 {
		t.Fatalf("answered=%d, want 2", got)
	}
}

func TestConfirm(t *testing.T) {
	cases := []struct {
		from    models.AssessmentStatus
		want    models.AssessmentStatus
		changed bool
	}{
		{models.StatusInvited, models.StatusConfirmed, true},
		{models.StatusConfirmed, models.StatusConfirmed, false},
		{models.StatusInProgress, models.StatusInProgress, false},
		{models.StatusCompleted, models.StatusCompleted, false},
	}
	for _, c := range cases {
		a := &models.EmployeeAssessment{Status: c.from}
		if got := confirm(a); got != c.changed || a.Status != c.want {
			t.Fatalf("confirm from %s: changed=%v status=%s, want %v %s", c.from, got, a.Status, c.changed, c.want)
		}
	}
}
