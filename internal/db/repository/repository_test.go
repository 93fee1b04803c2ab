package repository

import (
	"testing"
	"time"

	"asistente-coples/internal/core/models"
	"asistente-coples/internal/database"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlog "gorm.io/gorm/logger"
)

func testRepo(t *testing.T) *Repository {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlog.Default.LogMode(gormlog.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	return New(db)
}

func TestUserRoundTrip(t *testing.T) {
	repo := testRepo(t)

	role := &models.Role{Name: "operador"}
	require.NoError(t, repo.SaveRole(role))

	user := &models.User{
		Username:     "operario1",
		Email:        "op1@planta.mx",
		Name:         "Operario Uno",
		PasswordHash: "hash",
		RoleID:       &role.ID,
	}
	require.NoError(t, repo.SaveUser(user))

	got, err := repo.GetUserByUsername("operario1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "operador", got.RoleName)
	require.True(t, got.HasRole("operador"))

	missing, err := repo.GetUserByUsername("nadie")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestEmailTaken(t *testing.T) {
	repo := testRepo(t)

	user := &models.User{Username: "a", Email: "a@planta.mx", PasswordHash: "h"}
	require.NoError(t, repo.SaveUser(user))

	taken, err := repo.EmailTaken("a@planta.mx", 0)
	require.NoError(t, err)
	require.True(t, taken)

	// The owner of the address does not collide with itself.
	taken, err = repo.EmailTaken("a@planta.mx", user.ID)
	require.NoError(t, err)
	require.False(t, taken)
}

func TestDeleteRoleInUse(t *testing.T) {
	repo := testRepo(t)

	role := &models.Role{Name: "operador"}
	require.NoError(t, repo.SaveRole(role))
	user := &models.User{Username: "a", Email: "a@x", PasswordHash: "h", RoleID: &role.ID}
	require.NoError(t, repo.SaveUser(user))

	require.ErrorIs(t, repo.DeleteRole(role.ID), ErrRoleInUse)

	require.NoError(t, repo.DeleteUser(user.ID))
	require.NoError(t, repo.DeleteRole(role.ID))
}

func TestSaveConfigKeepsSingleActive(t *testing.T) {
	repo := testRepo(t)

	first := &models.SystemConfig{Name: "turno-dia", CameraIP: "10.0.0.10", Robustness: models.RobustnessOriginal, Active: true}
	require.NoError(t, repo.SaveConfig(first))

	second := &models.SystemConfig{Name: "turno-noche", CameraIP: "10.0.0.11", Robustness: models.RobustnessModerate, Active: true}
	require.NoError(t, repo.SaveConfig(second))

	active, err := repo.GetActiveConfig()
	require.NoError(t, err)
	require.NotNil(t, active)
	require.Equal(t, second.ID, active.ID)

	reloaded, err := repo.GetConfigByID(first.ID)
	require.NoError(t, err)
	require.False(t, reloaded.Active)
}

func TestActivateConfig(t *testing.T) {
	repo := testRepo(t)

	first := &models.SystemConfig{Name: "a", Active: true}
	second := &models.SystemConfig{Name: "b"}
	require.NoError(t, repo.SaveConfig(first))
	require.NoError(t, repo.SaveConfig(second))

	activated, err := repo.ActivateConfig(second.ID)
	require.NoError(t, err)
	require.NotNil(t, activated)
	require.True(t, activated.Active)

	reloaded, err := repo.GetConfigByID(first.ID)
	require.NoError(t, err)
	require.False(t, reloaded.Active)

	missing, err := repo.ActivateConfig(9999)
	require.NoError(t, err)
	require.Nil(t, missing)
}

func seedAnalysis(t *testing.T, repo *Repository, userID *uint, kind, status, class string, processedAt time.Time) *models.Analysis {
	t.Helper()

	a := &models.Analysis{
		AnalysisID:  "analisis_" + kind + "_" + processedAt.Format("20060102150405.000000000"),
		Kind:        kind,
		Status:      status,
		UserID:      userID,
		ProcessedAt: processedAt,
		TotalMS:     120,
	}
	if class != "" {
		a.Classification = &models.Classification{PredictedClass: class, Confidence: 0.9}
	}
	require.NoError(t, repo.SaveAnalysis(a))
	return a
}

func TestListAnalysesFilters(t *testing.T) {
	repo := testRepo(t)

	user := &models.User{Username: "a", Email: "a@x", PasswordHash: "h"}
	require.NoError(t, repo.SaveUser(user))
	other := &models.User{Username: "b", Email: "b@x", PasswordHash: "h"}
	require.NoError(t, repo.SaveUser(other))

	// Fixed midday timestamp so the one-hour offset stays within the day.
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	seedAnalysis(t, repo, &user.ID, models.KindFull, models.StatusCompleted, "Aceptado", now)
	seedAnalysis(t, repo, &user.ID, models.KindClassification, models.StatusError, "", now.Add(-time.Hour))
	seedAnalysis(t, repo, &other.ID, models.KindFull, models.StatusCompleted, "Rechazado", now.Add(-48*time.Hour))

	all, total, err := repo.ListAnalyses(AnalysisFilter{})
	require.NoError(t, err)
	require.EqualValues(t, 3, total)
	require.Len(t, all, 3)
	// Newest first.
	require.Equal(t, models.KindFull, all[0].Kind)

	mine, total, err := repo.ListAnalyses(AnalysisFilter{UserID: &user.ID})
	require.NoError(t, err)
	require.EqualValues(t, 2, total)
	require.Len(t, mine, 2)

	errored, _, err := repo.ListAnalyses(AnalysisFilter{Status: models.StatusError})
	require.NoError(t, err)
	require.Len(t, errored, 1)

	today := now.Format("2006-01-02")
	recent, _, err := repo.ListAnalyses(AnalysisFilter{DateFrom: today, DateTo: today})
	require.NoError(t, err)
	require.Len(t, recent, 2)

	paged, total, err := repo.ListAnalyses(AnalysisFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.EqualValues(t, 3, total)
	require.Len(t, paged, 1)
}

func TestClassificationTotals(t *testing.T) {
	repo := testRepo(t)

	now := time.Now()
	seedAnalysis(t, repo, nil, models.KindFull, models.StatusCompleted, "Aceptado", now)
	seedAnalysis(t, repo, nil, models.KindFull, models.StatusCompleted, "Aceptado", now.Add(time.Second))
	seedAnalysis(t, repo, nil, models.KindFull, models.StatusCompleted, "Rechazado", now.Add(2*time.Second))

	accepted, rejected, avg, err := repo.ClassificationTotals(nil)
	require.NoError(t, err)
	require.EqualValues(t, 2, accepted)
	require.EqualValues(t, 1, rejected)
	require.InDelta(t, 0.9, avg, 0.001)
}

func TestRecordAnalysisOutcome(t *testing.T) {
	repo := testRepo(t)

	now := time.Now()
	date := now.Format("2006-01-02")

	first := &models.Analysis{
		AnalysisID:     "a1",
		Kind:           models.KindFull,
		Status:         models.StatusCompleted,
		ProcessedAt:    now,
		CaptureMS:      10,
		TotalMS:        100,
		Classification: &models.Classification{PredictedClass: "Aceptado", Confidence: 0.8},
	}
	require.NoError(t, repo.RecordAnalysisOutcome(first))

	second := &models.Analysis{
		AnalysisID:  "a2",
		Kind:        models.KindFull,
		Status:      models.StatusError,
		ProcessedAt: now,
		CaptureMS:   30,
		TotalMS:     200,
	}
	require.NoError(t, repo.RecordAnalysisOutcome(second))

	stat, err := repo.GetDailyStatistic(date)
	require.NoError(t, err)
	require.NotNil(t, stat)
	require.Equal(t, 2, stat.TotalAnalyses)
	require.Equal(t, 1, stat.SuccessfulAnalyses)
	require.Equal(t, 1, stat.FailedAnalyses)
	require.Equal(t, 1, stat.TotalAccepted)
	require.InDelta(t, 20, stat.AvgCaptureMS, 0.001)
	require.InDelta(t, 150, stat.AvgTotalMS, 0.001)
	require.InDelta(t, 0.8, stat.AvgConfidence, 0.001)
	require.InDelta(t, 50, stat.SuccessRate(), 0.001)
	require.InDelta(t, 100, stat.AcceptanceRate(), 0.001)

	// An analysis still in progress must not be folded into statistics.
	require.Error(t, repo.RecordAnalysisOutcome(&models.Analysis{
		AnalysisID: "a3", Status: models.StatusProcessing, ProcessedAt: now,
	}))
}
