package services

import (
	"context"
	"sort"
	"time"

	"code.cloudfoundry.org/lager/v3"
	"golang.org/x/sync/errgroup"

	"github.com/soaringjerry/Compass/internal/metric"
	"github.com/soaringjerry/Compass/internal/models"
)

// DashboardResult is the set of records written by one recompute.
type DashboardResult struct {
	Overview *models.DashboardAnalytics            `json:"overview"`
	PerTeam  map[string]*models.DashboardAnalytics `json:"per_team"`
}

type AnalyticsService struct {
	logger      lager.Logger
	store       AnalyticsStore
	concurrency int
	now         func() time.Time
}

func NewAnalyticsService(logger lager.Logger, store AnalyticsStore, concurrency int) *AnalyticsService {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &AnalyticsService{
		logger:      logger,
		store:       store,
		concurrency: concurrency,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// partition is one scope's slice of a matrix's assessments.
type partition struct {
	scope       models.AnalyticsScope
	teamID      string
	assessments []*models.EmployeeAssessment
}

// RecomputeDashboard rebuilds the OVERVIEW record and one TEAM record per team
// of the matrix. Every record is computed before any is written; the batch
// replaces whatever was stored under the same keys.
func (s *AnalyticsService) RecomputeDashboard(ctx context.Context, matrixID string) (*DashboardResult, error) {
	logger := s.logger.Session("recompute-dashboard", lager.Data{"matrix": matrixID})
	started := time.Now()

	matrix, err := s.store.GetMatrix(ctx, matrixID)
	if err != nil {
		logger.Error("failed-to-get-matrix", err)
		return nil, err
	}
	if matrix == nil {
		return nil, matrixNotFound(matrixID)
	}
	potential, err := potentialTree(ctx, s.store, matrixID)
	if err != nil {
		logger.Error("failed-to-compute-potential", err)
		return nil, err
	}
	assessments, err := s.store.ListAssessmentsByMatrix(ctx, matrixID)
	if err != nil {
		logger.Error("failed-to-list-assessments", err)
		return nil, err
	}

	parts := partitionByTeam(matrix, assessments)
	records := make([]*models.DashboardAnalytics, len(parts))
	calculatedAt := s.now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, p := range parts {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rec := summarize(matrix, potential, p)
			rec.PartitionKey = models.DashboardPartitionKey(matrix.TenantID, matrix.PerformanceCycleID)
			rec.SortKey = models.DashboardSortKey(matrix.ID, p.scope, p.teamID)
			rec.CalculatedAt = calculatedAt
			records[i] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logger.Error("failed-to-fold-partitions", err)
		return nil, err
	}

	if err := s.store.PutDashboardAnalytics(ctx, records); err != nil {
		logger.Error("failed-to-write-dashboard", err)
		return nil, err
	}

	result := &DashboardResult{PerTeam: make(map[string]*models.DashboardAnalytics, len(records)-1)}
	for _, rec := range records {
		if rec.Scope == models.ScopeOverview {
			result.Overview = rec
			continue
		}
		result.PerTeam[rec.TeamID] = rec
	}

	metric.RecordDashboardRecompute(ctx, time.Since(started), matrixID, len(records))
	s.store.AddAudit(models.AuditEntry{Time: calculatedAt, Actor: "system", Action: "dashboard.recompute", Target: matrixID})
	logger.Info("recomputed", lager.Data{"employees": len(assessments), "teams": len(result.PerTeam)})
	return result, nil
}

// GetDashboard reads a previously computed record. teamID is ignored for OVERVIEW.
func (s *AnalyticsService) GetDashboard(ctx context.Context, matrixID string, scope models.AnalyticsScope, teamID string) (*models.DashboardAnalytics, error) {
	switch scope {
	case models.ScopeOverview:
		teamID = ""
	case models.ScopeTeam:
		if teamID == "" {
			return nil, NewInvalidError("team id required for TEAM scope")
		}
	default:
		return nil, NewInvalidError("unknown analytics scope: " + string(scope))
	}
	matrix, err := s.store.GetMatrix(ctx, matrixID)
	if err != nil {
		return nil, err
	}
	if matrix == nil {
		return nil, matrixNotFound(matrixID)
	}
	rec, err := s.store.GetDashboardAnalytics(ctx,
		models.DashboardPartitionKey(matrix.TenantID, matrix.PerformanceCycleID),
		models.DashboardSortKey(matrixID, scope, teamID))
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, NewNotFoundError("dashboard not computed for " + models.DashboardSortKey(matrixID, scope, teamID))
	}
	return rec, nil
}

// partitionByTeam returns the overview partition first, then one partition per
// team in sorted order. Teams the matrix is rolled out to are included even
// when nobody in them has been invited.
func partitionByTeam(matrix *models.Matrix, assessments []*models.EmployeeAssessment) []partition {
	byTeam := make(map[string][]*models.EmployeeAssessment)
	for _, teamID := range matrix.TeamIDs {
		if teamID != "" {
			byTeam[teamID] = nil
		}
	}
	for _, a := range assessments {
		if a.TeamID != "" {
			byTeam[a.TeamID] = append(byTeam[a.TeamID], a)
		}
	}
	teamIDs := make([]string, 0, len(byTeam))
	for id := range byTeam {
		teamIDs = append(teamIDs, id)
	}
	sort.Strings(teamIDs)

	parts := make([]partition, 0, len(teamIDs)+1)
	parts = append(parts, partition{scope: models.ScopeOverview, assessments: assessments})
	for _, id := range teamIDs {
		parts = append(parts, partition{scope: models.ScopeTeam, teamID: id, assessments: byTeam[id]})
	}
	return parts
}

// summarize folds one partition. All divisions are guarded so empty
// partitions and zero potentials yield 0.
func summarize(matrix *models.Matrix, potential models.ScoreTree, p partition) *models.DashboardAnalytics {
	n := len(p.assessments)
	rec := &models.DashboardAnalytics{
		MatrixID:      matrix.ID,
		Scope:         p.scope,
		TeamID:        p.teamID,
		EmployeeCount: n,
		Potential:     potential.Total,
		Pillars:       make([]models.PillarAnalytics, 0, len(matrix.Pillars)),
	}

	var totalSum float64
	pillarSum := make(map[string]float64)
	categorySum := make(map[string]float64)
	for _, a := range p.assessments {
		if a.Status == models.StatusCompleted {
			rec.CompletedCount++
		}
		totalSum += a.Score.Total
		for pid, ps := range a.Score.PillarScores {
			pillarSum[pid] += ps.Score
		}
		for cid, cs := range a.Score.CategoryScores {
			categorySum[cid] += cs.Score
		}
	}

	rec.CompletionPercentage = percentage(float64(rec.CompletedCount), float64(n))
	rec.GeneralAverage = mean(totalSum, n)
	rec.GeneralAveragePercentage = percentage(rec.GeneralAverage, potential.Total)

	for _, pillar := range matrix.Pillars {
		pa := models.PillarAnalytics{
			ID:         pillar.ID,
			Average:    mean(pillarSum[pillar.ID], n),
			Potential:  potential.PillarScores[pillar.ID].Score,
			Categories: make([]models.CategoryAnalytics, 0, len(pillar.Categories)),
		}
		pa.Percentage = percentage(pa.Average, pa.Potential)
		for _, c := range pillar.Categories {
			ca := models.CategoryAnalytics{
				ID:        c.ID,
				Average:   mean(categorySum[c.ID], n),
				Potential: potential.CategoryScores[c.ID].Score,
			}
			ca.Percentage = percentage(ca.Average, ca.Potential)
			pa.Categories = append(pa.Categories, ca)
		}
		rec.Pillars = append(rec.Pillars, pa)
	}

	rec.Reliability = CronbachAlpha(reliabilityRows(matrix, p.assessments))
	return rec
}

func mean(sum float64, n int) float64 {
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func percentage(part, whole float64) float64 {
	if whole <= 0 {
		return 0
	}
	pct := 100 * part / whole
	if pct > 100 {
		return 100
	}
	return pct
}
