package services

import (
	"context"

	"github.com/soaringjerry/Compass/internal/models"
)

// CatalogStore resolves matrix structure and question definitions.
// Question ids are scoped to their matrix. Missing records are reported as (nil, nil).
type CatalogStore interface {
	GetMatrix(ctx context.Context, id string) (*models.Matrix, error)
	GetQuestion(ctx context.Context, matrixID, id string) (*models.QuestionDefinition, error)
	ListQuestions(ctx context.Context, matrixID string) ([]*models.QuestionDefinition, error)
}

// AnswerStore persists answers under the unique (assessment, question) key.
type AnswerStore interface {
	// UpsertAnswer inserts a if its key is free, otherwise overwrites value,
	// score, answered-at, notes and pending-review of the existing answer while
	// keeping its id. wasNew reports which branch ran.
	UpsertAnswer(ctx context.Context, a *models.Answer) (stored *models.Answer, wasNew bool, err error)
	ListAnswers(ctx context.Context, assessmentID string) ([]*models.Answer, error)
	DeleteAnswersByAssessment(ctx context.Context, assessmentID string) (int, error)
}

// AssessmentStore persists employee assessments with optimistic concurrency.
type AssessmentStore interface {
	GetAssessment(ctx context.Context, id string) (*models.EmployeeAssessment, error)
	// InsertAssessment fails with models.ErrDuplicate when (matrix, email) is taken.
	InsertAssessment(ctx context.Context, a *models.EmployeeAssessment) error
	// UpdateAssessment writes a only if the stored version equals expectedVersion,
	// then sets a.Version to the new version. Lost races return models.ErrVersionConflict.
	UpdateAssessment(ctx context.Context, a *models.EmployeeAssessment, expectedVersion int64) error
	ListAssessmentsByMatrix(ctx context.Context, matrixID string) ([]*models.EmployeeAssessment, error)
	DeleteAssessment(ctx context.Context, id string) (bool, error)
}

// DashboardStore keeps one analytics record per scope key.
type DashboardStore interface {
	// PutDashboardAnalytics overwrites every record by (partition, sort) key in one write.
	PutDashboardAnalytics(ctx context.Context, records []*models.DashboardAnalytics) error
	GetDashboardAnalytics(ctx context.Context, partitionKey, sortKey string) (*models.DashboardAnalytics, error)
}

type AuditStore interface {
	AddAudit(entry models.AuditEntry)
}

// EngineStore is everything the assessment engine needs from persistence.
type EngineStore interface {
	CatalogStore
	AnswerStore
	AssessmentStore
	AuditStore
}

// AnalyticsStore is what the dashboard aggregator reads and writes.
type AnalyticsStore interface {
	CatalogStore
	DashboardStore
	AuditStore
	ListAssessmentsByMatrix(ctx context.Context, matrixID string) ([]*models.EmployeeAssessment, error)
}
