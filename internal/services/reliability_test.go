package services

import (
	"testing"

	"github.com/soaringjerry/Compass/internal/models"
)

func TestCronbachAlphaPerfectCorrelation(t *testing.T) {
	rows := [][]float64{
		{1, 1, 1},
		{2, 2, 2},
		{3, 3, 3},
		{4, 4, 4},
	}
	if got := CronbachAlpha(rows); got < 0.999 || got > 1.001 {
		t.Fatalf("alpha=%f, want ~1", got)
	}
}

func TestCronbachAlphaStaysInBounds(t *testing.T) {
	rows := [][]float64{
		{1, 2, 3},
		{2, 1, 4},
		{3, 0, 5},
		{4, -1, 6},
	}
	if got := CronbachAlpha(rows); got < 0 || got > 1 {
		t.Fatalf("alpha out of [0,1]: %f", got)
	}
}

func TestCronbachAlphaDegenerateInputs(t *testing.T) {
	cases := map[string][][]float64{
		"empty":          nil,
		"one respondent": {{1, 2, 3}},
		"one question":   {{1}, {2}, {3}},
		"ragged":         {{1, 2}, {1}},
		"no variance":    {{2, 2}, {2, 2}},
	}
	for name, rows := range cases {
		if got := CronbachAlpha(rows); got != 0 {
			t.Fatalf("%s: alpha=%f, want 0", name, got)
		}
	}
}

func TestReliabilityRowsUsesCompletedOnly(t *testing.T) {
	m := &models.Matrix{Pillars: []models.Pillar{{ID: "p", Categories: []models.Category{{ID: "c", QuestionIDs: []string{"q1", "q2"}}}}}}
	done := &models.EmployeeAssessment{Status: models.StatusCompleted, Score: models.ScoreTree{QuestionScores: map[string]float64{"q1": 3, "q2": 1}}}
	open := &models.EmployeeAssessment{Status: models.StatusInProgress, Score: models.ScoreTree{QuestionScores: map[string]float64{"q1": 5}}}

	rows := reliabilityRows(m, []*models.EmployeeAssessment{done, open})
	if len(rows) != 1 || rows[0][0] != 3 || rows[0][1] != 1 {
		t.Fatalf("rows=%v", rows)
	}
}
