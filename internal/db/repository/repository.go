package repository

import (
	"errors"
	"fmt"
	"time"

	"asistente-coples/internal/core/models"

	"gorm.io/gorm"
)

// ErrRoleInUse is returned when deleting a role that still has users.
var ErrRoleInUse = errors.New("role is referenced by existing users")

// AnalysisFilter narrows analysis listings.
type AnalysisFilter struct {
	UserID   *uint  // restrict to one user (non-admin callers)
	Kind     string // tipo_analisis
	Status   string // estado
	DateFrom string // YYYY-MM-DD, inclusive
	DateTo   string // YYYY-MM-DD, inclusive
	Limit    int
	Offset   int
}

// Repository bundles the database operations behind the API handlers.
type Repository struct {
	db *gorm.DB
}

// New creates a repository on the given connection.
func New(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// DB exposes the underlying connection for transactional callers.
func (r *Repository) DB() *gorm.DB {
	return r.db
}

// --- Users ---

// GetUserByID fetches a user with its role preloaded. Returns nil when missing.
func (r *Repository) GetUserByID(id uint) (*models.User, error) {
	var user models.User
	result := r.db.Preload("Role").First(&user, id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	user.FillRoleName()
	return &user, nil
}

// GetUserByUsername fetches a user by username. Returns nil when missing.
func (r *Repository) GetUserByUsername(username string) (*models.User, error) {
	var user models.User
	result := r.db.Preload("Role").Where("username = ?", username).First(&user)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	user.FillRoleName()
	return &user, nil
}

// EmailTaken reports whether another user already uses the email address.
func (r *Repository) EmailTaken(email string, excludeID uint) (bool, error) {
	var count int64
	query := r.db.Model(&models.User{}).Where("email = ?", email)
	if excludeID != 0 {
		query = query.Where("id != ?", excludeID)
	}
	if err := query.Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListUsers returns all users with roles preloaded.
func (r *Repository) ListUsers() ([]models.User, error) {
	var users []models.User
	if err := r.db.Preload("Role").Order("username").Find(&users).Error; err != nil {
		return nil, err
	}
	for i := range users {
		users[i].FillRoleName()
	}
	return users, nil
}

// SaveUser inserts or updates a user.
func (r *Repository) SaveUser(user *models.User) error {
	return r.db.Save(user).Error
}

// DeleteUser removes a user by id.
func (r *Repository) DeleteUser(id uint) error {
	return r.db.Delete(&models.User{}, id).Error
}

// --- Roles ---

// GetRoleByID fetches a role. Returns nil when missing.
func (r *Repository) GetRoleByID(id uint) (*models.Role, error) {
	var role models.Role
	result := r.db.First(&role, id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &role, nil
}

// ListRoles returns all roles ordered by name.
func (r *Repository) ListRoles() ([]models.Role, error) {
	var roles []models.Role
	if err := r.db.Order("name").Find(&roles).Error; err != nil {
		return nil, err
	}
	return roles, nil
}

// SaveRole inserts or updates a role.
func (r *Repository) SaveRole(role *models.Role) error {
	return r.db.Save(role).Error
}

// DeleteRole removes a role, refusing while users still reference it.
func (r *Repository) DeleteRole(id uint) error {
	var count int64
	if err := r.db.Model(&models.User{}).Where("role_id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return ErrRoleInUse
	}
	return r.db.Delete(&models.Role{}, id).Error
}

// --- System configurations ---

// GetConfigByID fetches a configuration with its creator preloaded.
func (r *Repository) GetConfigByID(id uint) (*models.SystemConfig, error) {
	var cfg models.SystemConfig
	result := r.db.Preload("CreatedBy").First(&cfg, id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	cfg.FillCreatedByName()
	return &cfg, nil
}

// GetActiveConfig returns the active configuration, or nil when none is active.
func (r *Repository) GetActiveConfig() (*models.SystemConfig, error) {
	var cfg models.SystemConfig
	result := r.db.Preload("CreatedBy").Where("active = ?", true).First(&cfg)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	cfg.FillCreatedByName()
	return &cfg, nil
}

// ListConfigs returns all configurations, newest first.
func (r *Repository) ListConfigs() ([]models.SystemConfig, error) {
	var configs []models.SystemConfig
	if err := r.db.Preload("CreatedBy").Order("created_at DESC").Find(&configs).Error; err != nil {
		return nil, err
	}
	for i := range configs {
		configs[i].FillCreatedByName()
	}
	return configs, nil
}

// SaveConfig inserts or updates a configuration. When the configuration is
// active, every other configuration is deactivated in the same transaction
// so that at most one row carries the flag.
func (r *Repository) SaveConfig(cfg *models.SystemConfig) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if cfg.Active {
			if err := tx.Model(&models.SystemConfig{}).
				Where("active = ? AND id != ?", true, cfg.ID).
				Update("active", false).Error; err != nil {
				return err
			}
		}
		return tx.Save(cfg).Error
	})
}

// ActivateConfig marks the given configuration active and all others inactive.
func (r *Repository) ActivateConfig(id uint) (*models.SystemConfig, error) {
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.SystemConfig{}).
			Where("active = ?", true).
			Update("active", false).Error; err != nil {
			return err
		}
		result := tx.Model(&models.SystemConfig{}).Where("id = ?", id).Update("active", true)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return r.GetConfigByID(id)
}

// DeleteConfig removes a configuration by id.
func (r *Repository) DeleteConfig(id uint) error {
	return r.db.Delete(&models.SystemConfig{}, id).Error
}

// --- Analyses ---

// GetAnalysisByID fetches a full analysis with all result rows preloaded.
func (r *Repository) GetAnalysisByID(id uint) (*models.Analysis, error) {
	var analysis models.Analysis
	result := r.db.
		Preload("Config").
		Preload("User").
		Preload("Classification").
		Preload("PieceDetections").
		Preload("DefectDetections").
		Preload("DefectSegmentations").
		Preload("PieceSegmentations").
		First(&analysis, id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &analysis, nil
}

// ListAnalyses returns analyses matching the filter, newest first, plus the
// total row count for pagination.
func (r *Repository) ListAnalyses(filter AnalysisFilter) ([]models.Analysis, int64, error) {
	query := r.db.Model(&models.Analysis{})

	if filter.UserID != nil {
		query = query.Where("user_id = ?", *filter.UserID)
	}
	if filter.Kind != "" {
		query = query.Where("kind = ?", filter.Kind)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.DateFrom != "" {
		if from, err := time.Parse("2006-01-02", filter.DateFrom); err == nil {
			query = query.Where("processed_at >= ?", from)
		}
	}
	if filter.DateTo != "" {
		if to, err := time.Parse("2006-01-02", filter.DateTo); err == nil {
			query = query.Where("processed_at < ?", to.AddDate(0, 0, 1))
		}
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var analyses []models.Analysis
	err := query.
		Preload("Config").
		Preload("User").
		Preload("Classification").
		Order("processed_at DESC").
		Find(&analyses).Error
	if err != nil {
		return nil, 0, err
	}
	return analyses, total, nil
}

// SaveAnalysis inserts or updates an analysis and its result rows.
func (r *Repository) SaveAnalysis(analysis *models.Analysis) error {
	return r.db.Save(analysis).Error
}

// CountAnalyses counts analyses matching status/kind for the optional user.
func (r *Repository) CountAnalyses(userID *uint, status, kind string) (int64, error) {
	query := r.db.Model(&models.Analysis{})
	if userID != nil {
		query = query.Where("user_id = ?", *userID)
	}
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if kind != "" {
		query = query.Where("kind = ?", kind)
	}
	var count int64
	err := query.Count(&count).Error
	return count, err
}

// ClassificationTotals returns accepted/rejected counts and mean confidence
// over completed analyses, optionally restricted to one user.
func (r *Repository) ClassificationTotals(userID *uint) (accepted, rejected int64, avgConfidence float64, err error) {
	base := r.db.Model(&models.Classification{}).
		Joins("JOIN analyses ON analyses.id = classifications.analysis_id").
		Where("analyses.status = ?", models.StatusCompleted)
	if userID != nil {
		base = base.Where("analyses.user_id = ?", *userID)
	}

	if err = base.Session(&gorm.Session{}).Where("classifications.predicted_class = ?", "Aceptado").Count(&accepted).Error; err != nil {
		return
	}
	if err = base.Session(&gorm.Session{}).Where("classifications.predicted_class = ?", "Rechazado").Count(&rejected).Error; err != nil {
		return
	}

	var avg *float64
	if err = base.Session(&gorm.Session{}).Select("AVG(classifications.confidence)").Scan(&avg).Error; err != nil {
		return
	}
	if avg != nil {
		avgConfidence = *avg
	}
	return
}

// --- Daily statistics ---

// GetDailyStatistic returns the row for a date, or nil.
func (r *Repository) GetDailyStatistic(date string) (*models.DailyStatistic, error) {
	var stat models.DailyStatistic
	result := r.db.Where("date = ?", date).First(&stat)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &stat, nil
}

// ListDailyStatistics returns rows within the optional date range, newest first.
func (r *Repository) ListDailyStatistics(dateFrom, dateTo string) ([]models.DailyStatistic, error) {
	query := r.db.Model(&models.DailyStatistic{})
	if dateFrom != "" {
		query = query.Where("date >= ?", dateFrom)
	}
	if dateTo != "" {
		query = query.Where("date <= ?", dateTo)
	}
	var stats []models.DailyStatistic
	if err := query.Order("date DESC").Find(&stats).Error; err != nil {
		return nil, err
	}
	return stats, nil
}

// SaveDailyStatistic inserts or updates a daily row.
func (r *Repository) SaveDailyStatistic(stat *models.DailyStatistic) error {
	return r.db.Save(stat).Error
}

// RecordAnalysisOutcome folds one finished analysis into the day's statistics.
func (r *Repository) RecordAnalysisOutcome(analysis *models.Analysis) error {
	date := analysis.ProcessedAt.Format("2006-01-02")

	return r.db.Transaction(func(tx *gorm.DB) error {
		var stat models.DailyStatistic
		result := tx.Where("date = ?", date).First(&stat)
		if result.Error != nil {
			if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return result.Error
			}
			stat = models.DailyStatistic{Date: date}
		}

		n := float64(stat.TotalAnalyses)
		stat.TotalAnalyses++
		switch analysis.Status {
		case models.StatusCompleted:
			stat.SuccessfulAnalyses++
		case models.StatusError:
			stat.FailedAnalyses++
		default:
			return fmt.Errorf("cannot record analysis %s in status %q", analysis.AnalysisID, analysis.Status)
		}

		// Running averages over all analyses of the day.
		stat.AvgCaptureMS = (stat.AvgCaptureMS*n + analysis.CaptureMS) / (n + 1)
		stat.AvgClassificationMS = (stat.AvgClassificationMS*n + analysis.ClassificationMS) / (n + 1)
		stat.AvgTotalMS = (stat.AvgTotalMS*n + analysis.TotalMS) / (n + 1)

		if analysis.Classification != nil {
			c := float64(stat.TotalAccepted + stat.TotalRejected)
			stat.AvgConfidence = (stat.AvgConfidence*c + analysis.Classification.Confidence) / (c + 1)
			switch analysis.Classification.PredictedClass {
			case "Aceptado":
				stat.TotalAccepted++
			case "Rechazado":
				stat.TotalRejected++
			}
		}

		return tx.Save(&stat).Error
	})
}
