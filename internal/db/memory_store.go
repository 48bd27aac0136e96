package db

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/soaringjerry/Compass/internal/models"
)

type questionKey struct {
	matrixID string
	id       string
}

type answerKey struct {
	assessmentID string
	questionID   string
}

// MemoryStore is an in-process store with the same conditional-write
// semantics as SQLiteStore. Records are copied on the way in and out so
// callers never share state with the store.
type MemoryStore struct {
	mu          sync.RWMutex
	matrices    map[string]*models.Matrix
	questions   map[questionKey]*models.QuestionDefinition
	assessments map[string]*models.EmployeeAssessment
	byEmail     map[string]string // matrixID#email -> assessment id
	answers     map[answerKey]*models.Answer
	dashboards  map[string]*models.DashboardAnalytics
	audit       []models.AuditEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		matrices:    map[string]*models.Matrix{},
		questions:   map[questionKey]*models.QuestionDefinition{},
		assessments: map[string]*models.EmployeeAssessment{},
		byEmail:     map[string]string{},
		answers:     map[answerKey]*models.Answer{},
		dashboards:  map[string]*models.DashboardAnalytics{},
	}
}

func (s *MemoryStore) PutMatrix(_ context.Context, m *models.Matrix) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.matrices[m.ID] = cloneMatrix(m)
	return nil
}

func (s *MemoryStore) GetMatrix(_ context.Context, id string) (*models.Matrix, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.matrices[id]
	if !ok {
		return nil, nil
	}
	return cloneMatrix(m), nil
}

func (s *MemoryStore) PutQuestion(_ context.Context, q *models.QuestionDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.questions[questionKey{q.MatrixID, q.ID}] = cloneQuestion(q)
	return nil
}

// ReplaceMatrix writes m and exactly the given questions as one change.
// Questions of m that are not listed are removed. Nothing is written on error.
func (s *MemoryStore) ReplaceMatrix(_ context.Context, m *models.Matrix, questions []*models.QuestionDefinition) error {
	keep := make(map[questionKey]struct{}, len(questions))
	for _, q := range questions {
		if q.MatrixID != m.ID {
			return fmt.Errorf("question %s belongs to matrix %s, not %s", q.ID, q.MatrixID, m.ID)
		}
		if q.Points < 0 {
			return fmt.Errorf("put question %s/%s: negative points", q.MatrixID, q.ID)
		}
		keep[questionKey{q.MatrixID, q.ID}] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.matrices[m.ID] = cloneMatrix(m)
	for k := range s.questions {
		if _, ok := keep[k]; k.matrixID == m.ID && !ok {
			delete(s.questions, k)
		}
	}
	for _, q := range questions {
		s.questions[questionKey{q.MatrixID, q.ID}] = cloneQuestion(q)
	}
	return nil
}

func (s *MemoryStore) GetQuestion(_ context.Context, matrixID, id string) (*models.QuestionDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.questions[questionKey{matrixID, id}]
	if !ok {
		return nil, nil
	}
	return cloneQuestion(q), nil
}

func (s *MemoryStore) ListQuestions(_ context.Context, matrixID string) ([]*models.QuestionDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.QuestionDefinition
	for _, q := range s.questions {
		if q.MatrixID == matrixID {
			out = append(out, cloneQuestion(q))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) UpsertAnswer(_ context.Context, a *models.Answer) (*models.Answer, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := answerKey{a.EmployeeAssessmentID, a.QuestionID}
	existing, ok := s.answers[key]
	if !ok {
		stored := *a
		s.answers[key] = &stored
		out := stored
		return &out, true, nil
	}
	existing.Value = a.Value
	existing.Score = a.Score
	existing.AnsweredAt = a.AnsweredAt
	existing.Notes = a.Notes
	existing.PendingReview = a.PendingReview
	out := *existing
	return &out, false, nil
}

func (s *MemoryStore) ListAnswers(_ context.Context, assessmentID string) ([]*models.Answer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Answer
	for k, a := range s.answers {
		if k.assessmentID == assessmentID {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QuestionID < out[j].QuestionID })
	return out, nil
}

func (s *MemoryStore) DeleteAnswersByAssessment(_ context.Context, assessmentID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for k := range s.answers {
		if k.assessmentID == assessmentID {
			delete(s.answers, k)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) GetAssessment(_ context.Context, id string) (*models.EmployeeAssessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assessments[id]
	if !ok {
		return nil, nil
	}
	return cloneAssessment(a), nil
}

func (s *MemoryStore) InsertAssessment(_ context.Context, a *models.EmployeeAssessment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	emailKey := a.MatrixID + "#" + a.EmployeeEmailNormalized
	if _, taken := s.byEmail[emailKey]; taken {
		return models.ErrDuplicate
	}
	if _, taken := s.assessments[a.ID]; taken {
		return models.ErrDuplicate
	}
	if a.Version == 0 {
		a.Version = 1
	}
	s.assessments[a.ID] = cloneAssessment(a)
	s.byEmail[emailKey] = a.ID
	return nil
}

func (s *MemoryStore) UpdateAssessment(_ context.Context, a *models.EmployeeAssessment, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.assessments[a.ID]
	if !ok || cur.Version != expectedVersion {
		return models.ErrVersionConflict
	}
	next := cloneAssessment(a)
	next.Version = expectedVersion + 1
	// identity fields are fixed at insert
	next.MatrixID = cur.MatrixID
	next.EmployeeEmailNormalized = cur.EmployeeEmailNormalized
	next.CreatedAt = cur.CreatedAt
	s.assessments[a.ID] = next
	a.Version = next.Version
	return nil
}

func (s *MemoryStore) ListAssessmentsByMatrix(_ context.Context, matrixID string) ([]*models.EmployeeAssessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.EmployeeAssessment
	for _, a := range s.assessments {
		if a.MatrixID == matrixID {
			out = append(out, cloneAssessment(a))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) DeleteAssessment(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assessments[id]
	if !ok {
		return false, nil
	}
	delete(s.byEmail, a.MatrixID+"#"+a.EmployeeEmailNormalized)
	delete(s.assessments, id)
	return true, nil
}

func (s *MemoryStore) PutDashboardAnalytics(_ context.Context, records []*models.DashboardAnalytics) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		s.dashboards[rec.PartitionKey+"|"+rec.SortKey] = cloneDashboard(rec)
	}
	return nil
}

func (s *MemoryStore) GetDashboardAnalytics(_ context.Context, partitionKey, sortKey string) (*models.DashboardAnalytics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.dashboards[partitionKey+"|"+sortKey]
	if !ok {
		return nil, nil
	}
	return cloneDashboard(rec), nil
}

func (s *MemoryStore) AddAudit(entry models.AuditEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, entry)
}

// ListAudit returns the most recent entries first.
func (s *MemoryStore) ListAudit(_ context.Context, limit uint64) ([]models.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.AuditEntry, 0, len(s.audit))
	for i := len(s.audit) - 1; i >= 0 && uint64(len(out)) < limit; i-- {
		out = append(out, s.audit[i])
	}
	return out, nil
}

func cloneMatrix(m *models.Matrix) *models.Matrix {
	out := *m
	out.Pillars = make([]models.Pillar, len(m.Pillars))
	for i, p := range m.Pillars {
		cp := p
		cp.Categories = make([]models.Category, len(p.Categories))
		for j, c := range p.Categories {
			cc := c
			cc.QuestionIDs = append([]string(nil), c.QuestionIDs...)
			cp.Categories[j] = cc
		}
		out.Pillars[i] = cp
	}
	out.TeamIDs = append([]string(nil), m.TeamIDs...)
	return &out
}

func cloneQuestion(q *models.QuestionDefinition) *models.QuestionDefinition {
	out := *q
	out.Options = append([]models.QuestionOption(nil), q.Options...)
	return &out
}

func cloneAssessment(a *models.EmployeeAssessment) *models.EmployeeAssessment {
	out := *a
	out.Score = cloneScoreTree(a.Score)
	return &out
}

func cloneScoreTree(t models.ScoreTree) models.ScoreTree {
	out := models.ScoreTree{Total: t.Total}
	if t.QuestionScores != nil {
		out.QuestionScores = make(map[string]float64, len(t.QuestionScores))
		for k, v := range t.QuestionScores {
			out.QuestionScores[k] = v
		}
	}
	if t.CategoryScores != nil {
		out.CategoryScores = make(map[string]models.CategoryScore, len(t.CategoryScores))
		for k, v := range t.CategoryScores {
			out.CategoryScores[k] = cloneCategoryScore(v)
		}
	}
	if t.PillarScores != nil {
		out.PillarScores = make(map[string]models.PillarScore, len(t.PillarScores))
		for k, v := range t.PillarScores {
			ps := models.PillarScore{Score: v.Score, CategoryScores: make(map[string]models.CategoryScore, len(v.CategoryScores))}
			for ck, cv := range v.CategoryScores {
				ps.CategoryScores[ck] = cloneCategoryScore(cv)
			}
			out.PillarScores[k] = ps
		}
	}
	return out
}

func cloneCategoryScore(c models.CategoryScore) models.CategoryScore {
	out := models.CategoryScore{Score: c.Score, QuestionScores: make(map[string]float64, len(c.QuestionScores))}
	for k, v := range c.QuestionScores {
		out.QuestionScores[k] = v
	}
	return out
}

func cloneDashboard(d *models.DashboardAnalytics) *models.DashboardAnalytics {
	out := *d
	out.Pillars = make([]models.PillarAnalytics, len(d.Pillars))
	for i, p := range d.Pillars {
		cp := p
		cp.Categories = append([]models.CategoryAnalytics(nil), p.Categories...)
		out.Pillars[i] = cp
	}
	return &out
}
