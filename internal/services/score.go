package services

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/soaringjerry/Compass/internal/models"
)

// ScoreResult is the outcome of scoring one raw answer value.
type ScoreResult struct {
	Score         float64
	PendingReview bool
}

// scorer is the per-question-type scoring strategy.
type scorer interface {
	score(def *models.QuestionDefinition, raw string) (ScoreResult, error)
	potential(def *models.QuestionDefinition) float64
}

var scorers = map[models.QuestionType]scorer{
	models.QuestionYesNo:      binaryScorer{},
	models.QuestionGoodBad:    binaryScorer{},
	models.QuestionStarThree:  ratingScorer{max: 3},
	models.QuestionStarFive:   ratingScorer{max: 5},
	models.QuestionOneToTen:   ratingScorer{max: 10},
	models.QuestionOpenAnswer: openScorer{},
	models.QuestionCustomized: optionScorer{},
}

// Score converts raw into a score for def. Nothing is persisted here, so a
// validation failure leaves no partial state behind.
func Score(def *models.QuestionDefinition, raw string) (ScoreResult, error) {
	if def == nil {
		return ScoreResult{}, invalidAnswer("question definition missing")
	}
	s, ok := scorers[def.Type]
	if !ok {
		return ScoreResult{}, invalidAnswer("unsupported question type " + string(def.Type))
	}
	return s.score(def, raw)
}

// PotentialScore is the maximum score def can yield.
func PotentialScore(def *models.QuestionDefinition) float64 {
	if def == nil {
		return 0
	}
	s, ok := scorers[def.Type]
	if !ok {
		return 0
	}
	return s.potential(def)
}

func nonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

var binaryValues = map[string]bool{
	"true": true, "yes": true, "good": true, "1": true,
	"false": false, "no": false, "bad": false, "0": false,
}

// binaryScorer handles YES_NO and GOOD_BAD.
type binaryScorer struct{}

func (binaryScorer) score(def *models.QuestionDefinition, raw string) (ScoreResult, error) {
	v, ok := binaryValues[strings.ToLower(strings.TrimSpace(raw))]
	if !ok {
		return ScoreResult{}, invalidAnswer("expected a yes/no value, got " + strconv.Quote(raw))
	}
	if !v {
		return ScoreResult{}, nil
	}
	return ScoreResult{Score: nonNegative(def.Points)}, nil
}

func (binaryScorer) potential(def *models.QuestionDefinition) float64 {
	return nonNegative(def.Points)
}

// ratingScorer scales a 1..max rating linearly onto the question's points.
type ratingScorer struct{ max int }

func (r ratingScorer) score(def *models.QuestionDefinition, raw string) (ScoreResult, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return ScoreResult{}, invalidAnswer("expected an integer rating, got " + strconv.Quote(raw))
	}
	if n < 1 || n > r.max {
		return ScoreResult{}, invalidAnswer("rating " + strconv.Itoa(n) + " outside [1," + strconv.Itoa(r.max) + "]")
	}
	return ScoreResult{Score: nonNegative(def.Points) * float64(n) / float64(r.max)}, nil
}

func (r ratingScorer) potential(def *models.QuestionDefinition) float64 {
	return nonNegative(def.Points)
}

// openScorer accepts free text that a reviewer grades later.
type openScorer struct{}

func (openScorer) score(_ *models.QuestionDefinition, raw string) (ScoreResult, error) {
	if strings.TrimSpace(raw) == "" {
		return ScoreResult{}, invalidAnswer("open answer is empty")
	}
	return ScoreResult{PendingReview: true}, nil
}

func (openScorer) potential(def *models.QuestionDefinition) float64 {
	return nonNegative(def.Points)
}

// optionScorer handles CUSTOMIZED questions whose options carry their own points.
type optionScorer struct{}

func (optionScorer) score(def *models.QuestionDefinition, raw string) (ScoreResult, error) {
	selected, err := parseSelection(raw)
	if err != nil {
		return ScoreResult{}, err
	}
	if len(selected) == 0 {
		return ScoreResult{}, invalidAnswer("no option selected")
	}
	if !def.MultipleChoice && len(selected) > 1 {
		return ScoreResult{}, invalidAnswer("single choice question accepts one option")
	}
	points := make(map[string]float64, len(def.Options))
	for _, opt := range def.Options {
		points[opt.ID] = nonNegative(opt.Points)
	}
	total := 0.0
	for _, id := range selected {
		p, ok := points[id]
		if !ok {
			return ScoreResult{}, invalidOption(id)
		}
		total += p
	}
	return ScoreResult{Score: total}, nil
}

func (optionScorer) potential(def *models.QuestionDefinition) float64 {
	best, sum := 0.0, 0.0
	for _, opt := range def.Options {
		p := nonNegative(opt.Points)
		sum += p
		if p > best {
			best = p
		}
	}
	if def.MultipleChoice {
		return sum
	}
	return best
}

// parseSelection accepts a JSON array of option ids or a comma separated list.
// Duplicates are dropped, first occurrence order is kept.
func parseSelection(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	var ids []string
	if strings.HasPrefix(raw, "[") {
		if err := json.Unmarshal([]byte(raw), &ids); err != nil {
			return nil, invalidAnswer("malformed option list: " + err.Error())
		}
	} else {
		ids = strings.Split(raw, ",")
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}
