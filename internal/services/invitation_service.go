package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"code.cloudfoundry.org/lager/v3"
	"github.com/go-playground/validator/v10"

	"github.com/soaringjerry/Compass/internal/models"
)

// InvitationStore is what inviting and removing employees needs.
type InvitationStore interface {
	GetMatrix(ctx context.Context, id string) (*models.Matrix, error)
	AssessmentStore
	DeleteAnswersByAssessment(ctx context.Context, assessmentID string) (int, error)
	AddAudit(entry models.AuditEntry)
}

// InvitationService opens employee assessments on a matrix and removes them.
type InvitationService struct {
	logger      lager.Logger
	store       InvitationStore
	validate    *validator.Validate
	now         func() time.Time
	idGenerator func() string
}

func NewInvitationService(logger lager.Logger, store InvitationStore) *InvitationService {
	return &InvitationService{
		logger:      logger,
		store:       store,
		validate:    validator.New(),
		now:         func() time.Time { return time.Now().UTC() },
		idGenerator: func() string { return shortID(12) },
	}
}

// NormalizeEmail lower-cases and trims an address so one person maps to one key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Invite creates an INVITED assessment for email on the matrix. A second
// invite of the same normalized email to the same matrix is rejected by the
// store's unique key and surfaces ErrDuplicateEmployeeAssessment.
func (s *InvitationService) Invite(ctx context.Context, matrixID, teamID, email string) (*models.EmployeeAssessment, error) {
	email = NormalizeEmail(email)
	logger := s.logger.Session("invite", lager.Data{"matrix": matrixID, "team": teamID})

	if err := s.validate.Var(email, "required,email"); err != nil {
		return nil, NewInvalidError("invalid email: " + email)
	}
	matrix, err := s.store.GetMatrix(ctx, matrixID)
	if err != nil {
		logger.Error("failed-to-get-matrix", err)
		return nil, err
	}
	if matrix == nil {
		return nil, matrixNotFound(matrixID)
	}

	now := s.now()
	a := &models.EmployeeAssessment{
		ID:                      s.idGenerator(),
		MatrixID:                matrix.ID,
		TenantID:                matrix.TenantID,
		TeamID:                  strings.TrimSpace(teamID),
		EmployeeEmailNormalized: email,
		Status:                  models.StatusInvited,
		LastActivityDate:        now,
		Score:                   emptyScoreTree(),
		CreatedAt:               now,
	}
	if err := s.store.InsertAssessment(ctx, a); err != nil {
		if errors.Is(err, models.ErrDuplicate) {
			return nil, &ServiceError{
				Code:    ErrorConflict,
				Message: email + " already invited to matrix " + matrixID,
				Err:     ErrDuplicateEmployeeAssessment,
			}
		}
		logger.Error("failed-to-insert-assessment", err)
		return nil, err
	}
	s.store.AddAudit(models.AuditEntry{Time: now, Actor: "system", Action: "assessment.invite", Target: a.ID, Note: email})
	logger.Info("invited", lager.Data{"assessment": a.ID})
	return a, nil
}

// ListAssessments returns every assessment opened on the matrix.
func (s *InvitationService) ListAssessments(ctx context.Context, matrixID string) ([]*models.EmployeeAssessment, error) {
	matrix, err := s.store.GetMatrix(ctx, matrixID)
	if err != nil {
		return nil, err
	}
	if matrix == nil {
		return nil, matrixNotFound(matrixID)
	}
	return s.store.ListAssessmentsByMatrix(ctx, matrixID)
}

// DeleteAssessment removes an assessment together with all of its answers.
func (s *InvitationService) DeleteAssessment(ctx context.Context, assessmentID string) error {
	logger := s.logger.Session("delete-assessment", lager.Data{"assessment": assessmentID})

	removed, err := s.store.DeleteAnswersByAssessment(ctx, assessmentID)
	if err != nil {
		logger.Error("failed-to-delete-answers", err)
		return err
	}
	ok, err := s.store.DeleteAssessment(ctx, assessmentID)
	if err != nil {
		logger.Error("failed-to-delete-assessment", err)
		return err
	}
	if !ok {
		return assessmentNotFound(assessmentID)
	}
	s.store.AddAudit(models.AuditEntry{Time: s.now(), Actor: "system", Action: "assessment.delete", Target: assessmentID})
	logger.Info("deleted", lager.Data{"answers": removed})
	return nil
}
