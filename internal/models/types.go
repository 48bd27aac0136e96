package models

import (
	"errors"
	"time"
)

// QuestionType selects how a raw answer value is scored.
type QuestionType string

const (
	QuestionYesNo      QuestionType = "YES_NO"
	QuestionGoodBad    QuestionType = "GOOD_BAD"
	QuestionStarThree  QuestionType = "STAR_THREE"
	QuestionStarFive   QuestionType = "STAR_FIVE"
	QuestionOneToTen   QuestionType = "ONE_TO_TEN"
	QuestionOpenAnswer QuestionType = "OPEN_ANSWER"
	QuestionCustomized QuestionType = "CUSTOMIZED"
)

// QuestionOption is one selectable option of a CUSTOMIZED question.
type QuestionOption struct {
	ID     string  `json:"id" yaml:"id" validate:"required"`
	Text   string  `json:"text" yaml:"text"`
	Points float64 `json:"points" yaml:"points" validate:"gte=0"`
}

// QuestionDefinition is a question as published into a matrix.
type QuestionDefinition struct {
	ID             string           `json:"id" yaml:"id" validate:"required"`
	MatrixID       string           `json:"matrix_id" yaml:"-"`
	PillarID       string           `json:"pillar_id" yaml:"-"`
	CategoryID     string           `json:"category_id" yaml:"-"`
	Text           string           `json:"text" yaml:"text"`
	Type           QuestionType     `json:"type" yaml:"type" validate:"required,oneof=YES_NO GOOD_BAD STAR_THREE STAR_FIVE ONE_TO_TEN OPEN_ANSWER CUSTOMIZED"`
	Points         float64          `json:"points" yaml:"points" validate:"gte=0"`
	Options        []QuestionOption `json:"options,omitempty" yaml:"options,omitempty" validate:"dive"`
	MultipleChoice bool             `json:"multiple_choice,omitempty" yaml:"multiple_choice,omitempty"`
}

// Category groups questions inside a pillar. QuestionIDs keeps matrix order.
type Category struct {
	ID          string   `json:"id"`
	Name        string   `json:"name,omitempty"`
	QuestionIDs []string `json:"question_ids"`
}

// Pillar is the top grouping level of a matrix.
type Pillar struct {
	ID         string     `json:"id"`
	Name       string     `json:"name,omitempty"`
	Categories []Category `json:"categories"`
}

// Matrix is the pillar -> category -> question template employees are assessed against.
type Matrix struct {
	ID                 string    `json:"id"`
	TenantID           string    `json:"tenant_id"`
	PerformanceCycleID string    `json:"performance_cycle_id"`
	Name               string    `json:"name,omitempty"`
	Pillars            []Pillar  `json:"pillars"`
	TeamIDs            []string  `json:"team_ids,omitempty"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// QuestionCount is the number of questions currently placed in the matrix.
func (m *Matrix) QuestionCount() int {
	n := 0
	for _, p := range m.Pillars {
		for _, c := range p.Categories {
			n += len(c.QuestionIDs)
		}
	}
	return n
}

// QuestionIDs returns every question id in matrix order.
func (m *Matrix) QuestionIDs() []string {
	out := make([]string, 0, m.QuestionCount())
	for _, p := range m.Pillars {
		for _, c := range p.Categories {
			out = append(out, c.QuestionIDs...)
		}
	}
	return out
}

// Answer is the single stored answer of one assessment to one question.
type Answer struct {
	ID                   string    `json:"id"`
	EmployeeAssessmentID string    `json:"employee_assessment_id"`
	QuestionID           string    `json:"question_id"`
	Value                string    `json:"value"`
	Score                float64   `json:"score"`
	AnsweredAt           time.Time `json:"answered_at"`
	Notes                string    `json:"notes,omitempty"`
	PendingReview        bool      `json:"pending_review,omitempty"`
}

// AssessmentStatus is the lifecycle state of an employee assessment.
type AssessmentStatus string

const (
	StatusInvited    AssessmentStatus = "INVITED"
	StatusConfirmed  AssessmentStatus = "CONFIRMED"
	StatusInProgress AssessmentStatus = "IN_PROGRESS"
	StatusCompleted  AssessmentStatus = "COMPLETED"
)

// Rank orders statuses along the lifecycle; unknown statuses rank lowest.
func (s AssessmentStatus) Rank() int {
	switch s {
	case StatusInvited:
		return 1
	case StatusConfirmed:
		return 2
	case StatusInProgress:
		return 3
	case StatusCompleted:
		return 4
	default:
		return 0
	}
}

// CategoryScore is a category subtotal with its question scores.
type CategoryScore struct {
	Score          float64            `json:"score"`
	QuestionScores map[string]float64 `json:"question_scores"`
}

// PillarScore is a pillar subtotal with its category subtotals.
type PillarScore struct {
	Score          float64                  `json:"score"`
	CategoryScores map[string]CategoryScore `json:"category_scores"`
}

// ScoreTree is a derived question -> category -> pillar -> total rollup.
// The same shape carries both actual and potential scores.
type ScoreTree struct {
	QuestionScores map[string]float64       `json:"question_scores"`
	CategoryScores map[string]CategoryScore `json:"category_scores"`
	PillarScores   map[string]PillarScore   `json:"pillar_scores"`
	Total          float64                  `json:"total"`
}

// EmployeeAssessment tracks one employee's progress through one matrix.
type EmployeeAssessment struct {
	ID                      string           `json:"id"`
	MatrixID                string           `json:"matrix_id"`
	TenantID                string           `json:"tenant_id"`
	TeamID                  string           `json:"team_id,omitempty"`
	EmployeeEmailNormalized string           `json:"employee_email"`
	AnsweredQuestionCount   int              `json:"answered_question_count"`
	Status                  AssessmentStatus `json:"status"`
	LastActivityDate        time.Time        `json:"last_activity_date"`
	Score                   ScoreTree        `json:"score"`
	Version                 int64            `json:"version"`
	CreatedAt               time.Time        `json:"created_at"`
}

// AnalyticsScope distinguishes matrix-wide from team dashboard records.
type AnalyticsScope string

const (
	ScopeOverview AnalyticsScope = "OVERVIEW"
	ScopeTeam     AnalyticsScope = "TEAM"
)

// CategoryAnalytics is the mean category score of a scope against its potential.
type CategoryAnalytics struct {
	ID         string  `json:"id"`
	Average    float64 `json:"average"`
	Potential  float64 `json:"potential"`
	Percentage float64 `json:"percentage"`
}

// PillarAnalytics is the mean pillar score of a scope against its potential.
type PillarAnalytics struct {
	ID         string              `json:"id"`
	Average    float64             `json:"average"`
	Potential  float64             `json:"potential"`
	Percentage float64             `json:"percentage"`
	Categories []CategoryAnalytics `json:"categories"`
}

// DashboardAnalytics is a cached rollup for one scope of a matrix.
// It is always regenerated wholesale, never edited.
type DashboardAnalytics struct {
	PartitionKey             string            `json:"pk"`
	SortKey                  string            `json:"sk"`
	MatrixID                 string            `json:"matrix_id"`
	Scope                    AnalyticsScope    `json:"scope"`
	TeamID                   string            `json:"team_id,omitempty"`
	EmployeeCount            int               `json:"employee_count"`
	CompletedCount           int               `json:"completed_count"`
	CompletionPercentage     float64           `json:"completion_percentage"`
	GeneralAverage           float64           `json:"general_average"`
	GeneralAveragePercentage float64           `json:"general_average_percentage"`
	Potential                float64           `json:"potential"`
	Reliability              float64           `json:"reliability"`
	Pillars                  []PillarAnalytics `json:"pillars"`
	CalculatedAt             time.Time         `json:"calculated_at"`
}

// DashboardPartitionKey is companyId#performanceCycleId.
func DashboardPartitionKey(tenantID, cycleID string) string {
	return tenantID + "#" + cycleID
}

// DashboardSortKey is matrixId#SCOPE, suffixed with #teamId for team records.
func DashboardSortKey(matrixID string, scope AnalyticsScope, teamID string) string {
	key := matrixID + "#" + string(scope)
	if scope == ScopeTeam {
		key += "#" + teamID
	}
	return key
}

// AuditEntry records an operator-visible action.
type AuditEntry struct {
	Time   time.Time `json:"time"`
	Actor  string    `json:"actor"`
	Action string    `json:"action"`
	Target string    `json:"target"`
	Note   string    `json:"note,omitempty"`
}

var (
	// ErrVersionConflict is returned by stores when a compare-and-swap update lost the race.
	ErrVersionConflict = errors.New("version conflict")
	// ErrDuplicate is returned by stores when a unique key already exists.
	ErrDuplicate = errors.New("duplicate key")
)
