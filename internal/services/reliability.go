package services

import "github.com/soaringjerry/Compass/internal/models"

// CronbachAlpha estimates internal consistency of a [respondent][question]
// score matrix. Population variance is used throughout so perfectly
// correlated questions give exactly 1. The result is clamped to [0, 1] and is
// 0 when there are fewer than two respondents or questions.
func CronbachAlpha(rows [][]float64) float64 {
	n := len(rows)
	if n < 2 {
		return 0
	}
	k := len(rows[0])
	if k < 2 {
		return 0
	}

	totals := make([]float64, n)
	var itemVarSum float64
	for j := 0; j < k; j++ {
		col := make([]float64, n)
		for i, row := range rows {
			if len(row) != k {
				return 0
			}
			col[i] = row[j]
			totals[i] += row[j]
		}
		itemVarSum += variance(col)
	}

	totalVar := variance(totals)
	if totalVar == 0 {
		return 0
	}
	kf := float64(k)
	alpha := kf / (kf - 1) * (1 - itemVarSum/totalVar)
	switch {
	case alpha < 0:
		return 0
	case alpha > 1:
		return 1
	}
	return alpha
}

func variance(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var mean float64
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	var sum float64
	for _, x := range xs {
		d := x - mean
		sum += d * d
	}
	return sum / float64(len(xs))
}

// reliabilityRows lays out the question scores of completed assessments in
// matrix order. Unanswered questions count as 0.
func reliabilityRows(matrix *models.Matrix, assessments []*models.EmployeeAssessment) [][]float64 {
	qids := matrix.QuestionIDs()
	var rows [][]float64
	for _, a := range assessments {
		if a.Status != models.StatusCompleted {
			continue
		}
		row := make([]float64, len(qids))
		for j, qid := range qids {
			row[j] = a.Score.QuestionScores[qid]
		}
		rows = append(rows, row)
	}
	return rows
}
