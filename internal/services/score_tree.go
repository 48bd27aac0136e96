package services

import "github.com/soaringjerry/Compass/internal/models"

// ComputeScoreTree rolls answer scores up through the matrix structure.
// Unanswered questions are absent from the tree and contribute 0; answers to
// questions no longer placed in the matrix are ignored.
func ComputeScoreTree(matrix *models.Matrix, answers []*models.Answer) models.ScoreTree {
	scores := make(map[string]float64, len(answers))
	for _, a := range answers {
		if a != nil {
			scores[a.QuestionID] = a.Score
		}
	}
	return buildScoreTree(matrix, func(qid string) (float64, bool) {
		v, ok := scores[qid]
		return v, ok
	})
}

// ComputePotentialScoreTree rolls up the maximum achievable score of every
// question currently in the matrix. questions is keyed by question id.
func ComputePotentialScoreTree(matrix *models.Matrix, questions map[string]*models.QuestionDefinition) models.ScoreTree {
	return buildScoreTree(matrix, func(qid string) (float64, bool) {
		def, ok := questions[qid]
		if !ok {
			return 0, false
		}
		return PotentialScore(def), true
	})
}

func emptyScoreTree() models.ScoreTree {
	return models.ScoreTree{
		QuestionScores: map[string]float64{},
		CategoryScores: map[string]models.CategoryScore{},
		PillarScores:   map[string]models.PillarScore{},
	}
}

// buildScoreTree walks pillars, categories and question ids in matrix order so
// floating point sums are reproducible regardless of map iteration order.
func buildScoreTree(matrix *models.Matrix, lookup func(qid string) (float64, bool)) models.ScoreTree {
	tree := emptyScoreTree()
	if matrix == nil {
		return tree
	}
	for _, p := range matrix.Pillars {
		ps := models.PillarScore{CategoryScores: make(map[string]models.CategoryScore, len(p.Categories))}
		for _, c := range p.Categories {
			cs := models.CategoryScore{QuestionScores: make(map[string]float64, len(c.QuestionIDs))}
			for _, qid := range c.QuestionIDs {
				v, ok := lookup(qid)
				if !ok {
					continue
				}
				cs.QuestionScores[qid] = v
				tree.QuestionScores[qid] = v
				cs.Score += v
			}
			ps.CategoryScores[c.ID] = cs
			tree.CategoryScores[c.ID] = cs
			ps.Score += cs.Score
		}
		tree.PillarScores[p.ID] = ps
		tree.Total += ps.Score
	}
	return tree
}
