package cleanup

import (
	"os"
	"path/filepath"
	"time"

	"asistente-coples/config"
	"asistente-coples/internal/core/models"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Service removes analyses and their artifacts once they exceed the
// configured retention period.
type Service struct {
	db          *gorm.DB
	cfg         config.CleanupConfig
	artifactDir string
	stopChan    chan struct{}
}

// NewService creates a cleanup service.
func NewService(db *gorm.DB, cfg config.CleanupConfig, artifactDir string) *Service {
	return &Service{
		db:          db,
		cfg:         cfg,
		artifactDir: artifactDir,
		stopChan:    make(chan struct{}),
	}
}

// StartBackgroundCleanup runs the cleanup once at startup and then every 24
// hours until stopped.
func (s *Service) StartBackgroundCleanup() {
	if s.cfg.RetentionDays <= 0 {
		log.Info("Analysis cleanup is disabled (retention_days <= 0)")
		return
	}

	log.Infof("Background cleanup started (retention: %d days)", s.cfg.RetentionDays)

	go func() {
		s.runCleanup()

		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.runCleanup()
			case <-s.stopChan:
				return
			}
		}
	}()
}

// StopBackgroundCleanup terminates the background loop.
func (s *Service) StopBackgroundCleanup() {
	close(s.stopChan)
	log.Info("Background cleanup stopped")
}

// runCleanup deletes all analyses older than the retention window.
func (s *Service) runCleanup() {
	cutoff := time.Now().AddDate(0, 0, -s.cfg.RetentionDays)

	var old []models.Analysis
	if err := s.db.Where("processed_at < ?", cutoff).Find(&old).Error; err != nil {
		log.Errorf("Cleanup: failed to query old analyses: %v", err)
		return
	}
	if len(old) == 0 {
		log.Debug("Cleanup: no analyses past retention")
		return
	}

	removed := 0
	for _, analysis := range old {
		if err := s.deleteAnalysis(&analysis); err != nil {
			log.Errorf("Cleanup: failed to delete analysis %s: %v", analysis.AnalysisID, err)
			continue
		}
		removed++
	}
	log.Infof("Cleanup: removed %d of %d analyses older than %s", removed, len(old), cutoff.Format("2006-01-02"))
}

// deleteAnalysis removes one analysis row, its result rows and its artifact
// files. Result rows are deleted explicitly so the cleanup does not depend
// on foreign-key enforcement being enabled in SQLite.
func (s *Service) deleteAnalysis(analysis *models.Analysis) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("analysis_id = ?", analysis.ID).Delete(&models.Classification{}).Error; err != nil {
			return err
		}
		if err := tx.Where("analysis_id = ?", analysis.ID).Delete(&models.PieceDetection{}).Error; err != nil {
			return err
		}
		if err := tx.Where("analysis_id = ?", analysis.ID).Delete(&models.DefectDetection{}).Error; err != nil {
			return err
		}
		if err := tx.Where("analysis_id = ?", analysis.ID).Delete(&models.DefectSegmentation{}).Error; err != nil {
			return err
		}
		if err := tx.Where("analysis_id = ?", analysis.ID).Delete(&models.PieceSegmentation{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Analysis{}, analysis.ID).Error
	})
	if err != nil {
		return err
	}

	s.removeArtifact(analysis.ImageFile)
	s.removeArtifact(analysis.JSONFile)
	return nil
}

// removeArtifact deletes one artifact file, ignoring missing files.
func (s *Service) removeArtifact(name string) {
	if name == "" {
		return
	}
	path := name
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.artifactDir, name)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Warnf("Cleanup: failed to remove artifact %s: %v", path, err)
	}
}
