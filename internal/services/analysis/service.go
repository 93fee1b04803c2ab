package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"asistente-coples/internal/core/models"
	"asistente-coples/internal/db/repository"
	"asistente-coples/internal/integrations/mqtt"
	"asistente-coples/internal/integrations/vision"
	"asistente-coples/internal/server/sse"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// ErrNoActiveConfig is returned when the pipeline has no active configuration.
var ErrNoActiveConfig = fmt.Errorf("no active system configuration")

// ErrConfigNotFound is returned when a requested configuration id is unknown.
var ErrConfigNotFound = fmt.Errorf("configuration not found")

// Service drives the inference backend: it initializes the pipeline with the
// active configuration, runs analyses, persists the results and notifies
// subscribers over SSE and MQTT.
type Service struct {
	repo      *repository.Repository
	vision    *vision.Client
	hub       *sse.Hub
	publisher *mqtt.Publisher

	mu          sync.Mutex
	initialized bool
}

// Status describes the current state of the vision pipeline.
type Status struct {
	Initialized      bool                 `json:"inicializado"`
	BackendAvailable bool                 `json:"backend_disponible"`
	ActiveConfig     *models.SystemConfig `json:"configuracion_activa"`
	PreviewClients   int                  `json:"clientes_preview"`
}

// Statistics aggregates analysis outcomes for the dashboard.
type Statistics struct {
	Total         int64            `json:"total_analisis"`
	Completed     int64            `json:"analisis_completados"`
	Failed        int64            `json:"analisis_con_error"`
	Accepted      int64            `json:"total_aceptados"`
	Rejected      int64            `json:"total_rechazados"`
	AvgConfidence float64          `json:"confianza_promedio"`
	ByKind        map[string]int64 `json:"por_tipo"`
}

// NewService creates the analysis service.
func NewService(repo *repository.Repository, client *vision.Client, hub *sse.Hub, publisher *mqtt.Publisher) *Service {
	return &Service{
		repo:      repo,
		vision:    client,
		hub:       hub,
		publisher: publisher,
	}
}

// Initialize loads camera and models in the backend using the active
// configuration. It is idempotent.
func (s *Service) Initialize(ctx context.Context) (*models.SystemConfig, error) {
	return s.InitializeWith(ctx, nil)
}

// InitializeWith loads camera and models with the given configuration, or
// with the active one when configID is nil. The backend replaces whatever
// parameters it was running with, so activation flows call this to make the
// new configuration take effect immediately.
func (s *Service) InitializeWith(ctx context.Context, configID *uint) (*models.SystemConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.resolveConfig(configID)
	if err != nil {
		return nil, err
	}

	if err := s.vision.Initialize(ctx, paramsFromConfig(cfg)); err != nil {
		// The backend state is unknown now; force a fresh init next time.
		s.initialized = false
		return nil, fmt.Errorf("failed to initialize vision backend: %w", err)
	}

	s.initialized = true
	log.Infof("Vision pipeline initialized with configuration %q", cfg.Name)
	return cfg, nil
}

// resolveConfig loads the requested configuration, or the active one when
// configID is nil. Callers hold s.mu or do not need it.
func (s *Service) resolveConfig(configID *uint) (*models.SystemConfig, error) {
	if configID != nil {
		cfg, err := s.repo.GetConfigByID(*configID)
		if err != nil {
			return nil, fmt.Errorf("failed to load configuration %d: %w", *configID, err)
		}
		if cfg == nil {
			return nil, ErrConfigNotFound
		}
		return cfg, nil
	}

	active, err := s.repo.GetActiveConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load active configuration: %w", err)
	}
	if active == nil {
		return nil, ErrNoActiveConfig
	}
	return active, nil
}

// Release frees camera and model resources in the backend.
func (s *Service) Release(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.vision.Release(ctx); err != nil {
		return fmt.Errorf("failed to release vision backend: %w", err)
	}
	s.initialized = false
	log.Info("Vision pipeline released")
	return nil
}

// Initialized reports whether the pipeline has been initialized.
func (s *Service) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

// Status returns the pipeline state, including backend reachability.
func (s *Service) Status(ctx context.Context) (*Status, error) {
	active, err := s.repo.GetActiveConfig()
	if err != nil {
		return nil, err
	}

	available, err := s.vision.Ping(ctx)
	if err != nil {
		log.Warnf("Vision backend health check failed: %v", err)
		available = false
	}

	return &Status{
		Initialized:      s.Initialized(),
		BackendAvailable: available,
		ActiveConfig:     active,
		PreviewClients:   s.hub.ClientCount(),
	}, nil
}

// Perform runs one analysis of the given kind on behalf of a user. When
// configID is non-nil the backend is re-initialized with that configuration
// first; otherwise the pipeline is initialized on demand with the active
// one. A row is persisted for every attempt, including failed ones.
func (s *Service) Perform(ctx context.Context, kind string, configID *uint, user *models.User) (*models.Analysis, error) {
	if !models.ValidKind(kind) {
		return nil, fmt.Errorf("unknown analysis kind %q", kind)
	}

	var active *models.SystemConfig
	var err error
	if configID != nil {
		active, err = s.InitializeWith(ctx, configID)
	} else {
		active, err = s.ensureInitialized(ctx)
	}
	if err != nil {
		return nil, err
	}

	record := &models.Analysis{
		AnalysisID:  newAnalysisID(),
		Kind:        kind,
		Status:      models.StatusProcessing,
		ProcessedAt: time.Now(),
		ConfigID:    &active.ID,
	}
	if user != nil {
		record.UserID = &user.ID
	}
	if err := s.repo.SaveAnalysis(record); err != nil {
		return nil, fmt.Errorf("failed to persist analysis: %w", err)
	}
	s.hub.BroadcastAnalysis("inicio", record)

	result, err := s.vision.Analyze(ctx, kind, paramsFromConfig(active))
	if err != nil {
		record.Status = models.StatusError
		record.ErrorMessage = err.Error()
		record.ProcessedAt = time.Now()
		if saveErr := s.repo.SaveAnalysis(record); saveErr != nil {
			log.Errorf("Failed to persist failed analysis %s: %v", record.AnalysisID, saveErr)
		}
		if statErr := s.repo.RecordAnalysisOutcome(record); statErr != nil {
			log.Errorf("Failed to record statistics for analysis %s: %v", record.AnalysisID, statErr)
		}
		s.hub.BroadcastAnalysis("error", record)
		return record, fmt.Errorf("analysis failed: %w", err)
	}

	applyResult(record, result)
	record.Status = models.StatusCompleted
	record.ProcessedAt = time.Now()

	if err := s.repo.SaveAnalysis(record); err != nil {
		return nil, fmt.Errorf("failed to persist analysis results: %w", err)
	}
	if err := s.repo.RecordAnalysisOutcome(record); err != nil {
		log.Errorf("Failed to record statistics for analysis %s: %v", record.AnalysisID, err)
	}

	s.hub.BroadcastAnalysis("completado", record)
	if s.publisher != nil {
		s.publisher.PublishAnalysis(record)
	}

	log.Infof("Analysis %s (%s) completed in %.1f ms", record.AnalysisID, kind, record.TotalMS)
	return record, nil
}

// Preview fetches a single camera frame from the backend.
func (s *Service) Preview(ctx context.Context) (*vision.Preview, error) {
	return s.vision.CapturePreview(ctx)
}

// Statistics aggregates outcomes, optionally restricted to one user.
func (s *Service) Statistics(userID *uint) (*Statistics, error) {
	total, err := s.repo.CountAnalyses(userID, "", "")
	if err != nil {
		return nil, err
	}
	completed, err := s.repo.CountAnalyses(userID, models.StatusCompleted, "")
	if err != nil {
		return nil, err
	}
	failed, err := s.repo.CountAnalyses(userID, models.StatusError, "")
	if err != nil {
		return nil, err
	}

	accepted, rejected, avgConfidence, err := s.repo.ClassificationTotals(userID)
	if err != nil {
		return nil, err
	}

	byKind := make(map[string]int64, len(models.AnalysisKinds))
	for _, kind := range models.AnalysisKinds {
		count, err := s.repo.CountAnalyses(userID, "", kind)
		if err != nil {
			return nil, err
		}
		byKind[kind] = count
	}

	return &Statistics{
		Total:         total,
		Completed:     completed,
		Failed:        failed,
		Accepted:      accepted,
		Rejected:      rejected,
		AvgConfidence: avgConfidence,
		ByKind:        byKind,
	}, nil
}

// ensureInitialized initializes the pipeline when needed and returns the
// active configuration the analysis should run with.
func (s *Service) ensureInitialized(ctx context.Context) (*models.SystemConfig, error) {
	if s.Initialized() {
		return s.resolveConfig(nil)
	}
	return s.Initialize(ctx)
}

// applyResult copies a backend result payload into the analysis row.
func applyResult(record *models.Analysis, result *vision.Result) {
	record.CapturedAt = result.CapturedAt
	record.Width = result.Width
	record.Height = result.Height
	record.Channels = result.Channels
	record.ImageFile = result.ImageFile
	record.JSONFile = result.JSONFile

	record.CaptureMS = result.Times.CaptureMS
	record.ClassificationMS = result.Times.ClassificationMS
	record.PieceDetectionMS = result.Times.PieceDetectionMS
	record.DefectDetectionMS = result.Times.DefectDetectionMS
	record.DefectSegmentationMS = result.Times.DefectSegmentationMS
	record.PieceSegmentationMS = result.Times.PieceSegmentationMS
	record.TotalMS = result.Times.TotalMS

	if result.Classification != nil {
		record.Classification = &models.Classification{
			PredictedClass: result.Classification.PredictedClass,
			Confidence:     result.Classification.Confidence,
			InferenceMS:    result.Classification.InferenceMS,
		}
	}
	for _, d := range result.PieceDetections {
		record.PieceDetections = append(record.PieceDetections, models.PieceDetection{
			Class:      d.Class,
			Confidence: d.Confidence,
			BBox:       models.BoundingBox(d.BBox),
			Centroid:   models.Centroid(d.Centroid),
			Area:       d.Area,
		})
	}
	for _, d := range result.DefectDetections {
		record.DefectDetections = append(record.DefectDetections, models.DefectDetection{
			Class:      d.Class,
			Confidence: d.Confidence,
			BBox:       models.BoundingBox(d.BBox),
			Centroid:   models.Centroid(d.Centroid),
			Area:       d.Area,
		})
	}
	for _, seg := range result.DefectSegmentations {
		record.DefectSegmentations = append(record.DefectSegmentations, models.DefectSegmentation{
			Class:            seg.Class,
			Confidence:       seg.Confidence,
			BBox:             models.BoundingBox(seg.BBox),
			Centroid:         models.Centroid(seg.Centroid),
			MaskArea:         seg.MaskArea,
			MaskCoefficients: []byte(seg.MaskCoefficients),
		})
	}
	for _, seg := range result.PieceSegmentations {
		record.PieceSegmentations = append(record.PieceSegmentations, models.PieceSegmentation{
			Class:            seg.Class,
			Confidence:       seg.Confidence,
			BBox:             models.BoundingBox(seg.BBox),
			Centroid:         models.Centroid(seg.Centroid),
			MaskArea:         seg.MaskArea,
			MaskWidth:        seg.MaskWidth,
			MaskHeight:       seg.MaskHeight,
			MaskCoefficients: []byte(seg.MaskCoefficients),
		})
	}

	// The frame and raw counts travel in the metadata column so image
	// endpoints can serve the capture without a separate file store.
	meta := map[string]interface{}{
		"frame":                result.Frame,
		"total_detecciones":    len(result.PieceDetections) + len(result.DefectDetections),
		"total_segmentaciones": len(result.DefectSegmentations) + len(result.PieceSegmentations),
		"resolucion":           fmt.Sprintf("%dx%d", result.Width, result.Height),
	}
	if data, err := json.Marshal(meta); err == nil {
		record.Metadata = data
	}
}

// paramsFromConfig maps a stored configuration onto backend parameters.
func paramsFromConfig(cfg *models.SystemConfig) vision.Params {
	return vision.Params{
		CameraIP:            cfg.CameraIP,
		ConfidenceThreshold: cfg.ConfidenceThreshold,
		IoUThreshold:        cfg.IoUThreshold,
		Robustness:          cfg.Robustness,
	}
}

// newAnalysisID builds the public analysis identifier.
func newAnalysisID() string {
	return fmt.Sprintf("analisis_%s_%d", uuid.New().String()[:8], time.Now().Unix())
}
