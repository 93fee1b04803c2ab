package models

import (
	"time"

	"gorm.io/datatypes"
)

// Analysis status values, as stored and served on the wire.
const (
	StatusProcessing = "procesando"
	StatusCompleted  = "completado"
	StatusError      = "error"
)

// Analysis kinds supported by the inference backend.
const (
	KindFull               = "completo"
	KindClassification     = "clasificacion"
	KindPieceDetection     = "deteccion_piezas"
	KindDefectDetection    = "deteccion_defectos"
	KindDefectSegmentation = "segmentacion_defectos"
	KindPieceSegmentation  = "segmentacion_piezas"
)

// Robustness presets of the inference pipeline.
const (
	RobustnessOriginal        = "original"
	RobustnessModerate        = "moderada"
	RobustnessPermissive      = "permisiva"
	RobustnessUltraPermissive = "ultra_permisiva"
)

// AnalysisKinds lists all valid analysis kinds.
var AnalysisKinds = []string{
	KindFull,
	KindClassification,
	KindPieceDetection,
	KindDefectDetection,
	KindDefectSegmentation,
	KindPieceSegmentation,
}

// RobustnessPresets lists all valid robustness presets.
var RobustnessPresets = []string{
	RobustnessOriginal,
	RobustnessModerate,
	RobustnessPermissive,
	RobustnessUltraPermissive,
}

// ValidKind reports whether kind is a known analysis kind.
func ValidKind(kind string) bool {
	for _, k := range AnalysisKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Role groups users for access control.
type Role struct {
	ID          uint      `gorm:"primarykey" json:"id"`
	Name        string    `gorm:"uniqueIndex;not null" json:"rol_nombre"`
	Description string    `json:"rol_descripcion"`
	CreatedAt   time.Time `json:"-"`
	UpdatedAt   time.Time `json:"-"`
}

// User is an operator or administrator of the dashboard.
type User struct {
	ID           uint      `gorm:"primarykey" json:"id"`
	Username     string    `gorm:"uniqueIndex;not null" json:"username"`
	Email        string    `gorm:"uniqueIndex" json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	RoleID       *uint     `gorm:"index" json:"rol"`
	Role         *Role     `gorm:"foreignKey:RoleID" json:"-"`
	RoleName     string    `gorm:"-" json:"rol_nombre"`
	CreatedAt    time.Time `json:"-"`
	UpdatedAt    time.Time `json:"-"`
}

// FillRoleName copies the preloaded role name into the serialized field.
func (u *User) FillRoleName() {
	if u.Role != nil {
		u.RoleName = u.Role.Name
	}
}

// HasRole reports whether the user belongs to the named role.
func (u *User) HasRole(name string) bool {
	return u.Role != nil && u.Role.Name == name
}

// SystemConfig is one named parameter set for the inference pipeline.
// At most one configuration is active at a time.
type SystemConfig struct {
	ID                  uint      `gorm:"primarykey" json:"id"`
	Name                string    `gorm:"uniqueIndex;not null" json:"nombre"`
	CameraIP            string    `json:"ip_camara"`
	ConfidenceThreshold float64   `json:"umbral_confianza"`
	IoUThreshold        float64   `json:"umbral_iou"`
	Robustness          string    `json:"configuracion_robustez"`
	Active              bool      `gorm:"index" json:"activa"`
	CreatedByID         *uint     `json:"creada_por"`
	CreatedBy           *User     `gorm:"foreignKey:CreatedByID" json:"-"`
	CreatedByName       string    `gorm:"-" json:"creada_por_nombre"`
	CreatedAt           time.Time `json:"fecha_creacion"`
	UpdatedAt           time.Time `json:"fecha_modificacion"`
}

// FillCreatedByName copies the preloaded creator name into the serialized field.
func (c *SystemConfig) FillCreatedByName() {
	if c.CreatedBy != nil {
		c.CreatedByName = c.CreatedBy.Name
	}
}

// Analysis is one inspection run produced by the inference backend.
// Rows are written by the analysis service and read-only through the API.
type Analysis struct {
	ID          uint          `gorm:"primarykey" json:"id"`
	AnalysisID  string        `gorm:"uniqueIndex;not null" json:"id_analisis"`
	CapturedAt  time.Time     `json:"timestamp_captura"`
	ProcessedAt time.Time     `gorm:"index" json:"timestamp_procesamiento"`
	Kind        string        `gorm:"index" json:"tipo_analisis"`
	Status      string        `gorm:"index" json:"estado"`
	ConfigID    *uint         `json:"configuracion"`
	Config      *SystemConfig `gorm:"foreignKey:ConfigID" json:"-"`
	UserID      *uint         `gorm:"index" json:"usuario"`
	User        *User         `gorm:"foreignKey:UserID" json:"-"`

	ImageFile string `json:"archivo_imagen"`
	JSONFile  string `json:"archivo_json"`

	Width    int `json:"resolucion_ancho"`
	Height   int `json:"resolucion_alto"`
	Channels int `json:"resolucion_canales"`

	// Per-stage processing times in milliseconds.
	CaptureMS            float64 `json:"tiempo_captura_ms"`
	ClassificationMS     float64 `json:"tiempo_clasificacion_ms"`
	PieceDetectionMS     float64 `json:"tiempo_deteccion_piezas_ms"`
	DefectDetectionMS    float64 `json:"tiempo_deteccion_defectos_ms"`
	DefectSegmentationMS float64 `json:"tiempo_segmentacion_defectos_ms"`
	PieceSegmentationMS  float64 `json:"tiempo_segmentacion_piezas_ms"`
	TotalMS              float64 `json:"tiempo_total_ms"`

	// Raw backend metadata, including the captured frame as base64.
	Metadata     datatypes.JSON `gorm:"type:json" json:"metadatos_json"`
	ErrorMessage string         `json:"mensaje_error"`

	Classification      *Classification      `gorm:"foreignKey:AnalysisID;constraint:OnDelete:CASCADE;" json:"resultado_clasificacion,omitempty"`
	PieceDetections     []PieceDetection     `gorm:"foreignKey:AnalysisID;constraint:OnDelete:CASCADE;" json:"detecciones_piezas,omitempty"`
	DefectDetections    []DefectDetection    `gorm:"foreignKey:AnalysisID;constraint:OnDelete:CASCADE;" json:"detecciones_defectos,omitempty"`
	DefectSegmentations []DefectSegmentation `gorm:"foreignKey:AnalysisID;constraint:OnDelete:CASCADE;" json:"segmentaciones_defectos,omitempty"`
	PieceSegmentations  []PieceSegmentation  `gorm:"foreignKey:AnalysisID;constraint:OnDelete:CASCADE;" json:"segmentaciones_piezas,omitempty"`
}

// BoundingBox holds detection box corners in pixel coordinates.
type BoundingBox struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Centroid is the center point of a detection in pixel coordinates.
type Centroid struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Classification is the accept/reject prediction for one analysis.
type Classification struct {
	ID             uint    `gorm:"primarykey" json:"-"`
	AnalysisID     uint    `gorm:"uniqueIndex;not null" json:"-"`
	PredictedClass string  `json:"clase_predicha"`
	Confidence     float64 `json:"confianza"`
	InferenceMS    float64 `json:"tiempo_inferencia_ms"`
}

// PieceDetection is one detected coupling piece.
type PieceDetection struct {
	ID         uint        `gorm:"primarykey" json:"-"`
	AnalysisID uint        `gorm:"index;not null" json:"-"`
	Class      string      `json:"clase"`
	Confidence float64     `json:"confianza"`
	BBox       BoundingBox `gorm:"embedded;embeddedPrefix:bbox_" json:"bbox"`
	Centroid   Centroid    `gorm:"embedded;embeddedPrefix:centroide_" json:"centroide"`
	Area       int         `json:"area"`
}

// DefectDetection is one detected surface defect.
type DefectDetection struct {
	ID         uint        `gorm:"primarykey" json:"-"`
	AnalysisID uint        `gorm:"index;not null" json:"-"`
	Class      string      `json:"clase"`
	Confidence float64     `json:"confianza"`
	BBox       BoundingBox `gorm:"embedded;embeddedPrefix:bbox_" json:"bbox"`
	Centroid   Centroid    `gorm:"embedded;embeddedPrefix:centroide_" json:"centroide"`
	Area       int         `json:"area"`
}

// DefectSegmentation is one segmented defect with its mask coefficients.
type DefectSegmentation struct {
	ID               uint           `gorm:"primarykey" json:"-"`
	AnalysisID       uint           `gorm:"index;not null" json:"-"`
	Class            string         `json:"clase"`
	Confidence       float64        `json:"confianza"`
	BBox             BoundingBox    `gorm:"embedded;embeddedPrefix:bbox_" json:"bbox"`
	Centroid         Centroid       `gorm:"embedded;embeddedPrefix:centroide_" json:"centroide"`
	MaskArea         int            `json:"area_mascara"`
	MaskCoefficients datatypes.JSON `gorm:"type:json" json:"coeficientes_mascara"`
}

// PieceSegmentation is one segmented piece with mask dimensions.
type PieceSegmentation struct {
	ID               uint           `gorm:"primarykey" json:"-"`
	AnalysisID       uint           `gorm:"index;not null" json:"-"`
	Class            string         `json:"clase"`
	Confidence       float64        `json:"confianza"`
	BBox             BoundingBox    `gorm:"embedded;embeddedPrefix:bbox_" json:"bbox"`
	Centroid         Centroid       `gorm:"embedded;embeddedPrefix:centroide_" json:"centroide"`
	MaskArea         int            `json:"area_mascara"`
	MaskWidth        int            `json:"ancho_mascara"`
	MaskHeight       int            `json:"alto_mascara"`
	MaskCoefficients datatypes.JSON `gorm:"type:json" json:"coeficientes_mascara"`
}

// DailyStatistic aggregates analysis results for one calendar day.
type DailyStatistic struct {
	ID                  uint    `gorm:"primarykey" json:"id"`
	Date                string  `gorm:"uniqueIndex;not null" json:"fecha"` // YYYY-MM-DD
	TotalAnalyses       int     `json:"total_analisis"`
	SuccessfulAnalyses  int     `json:"analisis_exitosos"`
	FailedAnalyses      int     `json:"analisis_con_error"`
	TotalAccepted       int     `json:"total_aceptados"`
	TotalRejected       int     `json:"total_rechazados"`
	AvgCaptureMS        float64 `json:"tiempo_promedio_captura_ms"`
	AvgClassificationMS float64 `json:"tiempo_promedio_clasificacion_ms"`
	AvgTotalMS          float64 `json:"tiempo_promedio_total_ms"`
	AvgConfidence       float64 `json:"confianza_promedio"`
}

// SuccessRate returns the percentage of analyses that completed.
func (s DailyStatistic) SuccessRate() float64 {
	if s.TotalAnalyses == 0 {
		return 0
	}
	return float64(s.SuccessfulAnalyses) / float64(s.TotalAnalyses) * 100
}

// AcceptanceRate returns the percentage of classified pieces accepted.
func (s DailyStatistic) AcceptanceRate() float64 {
	classified := s.TotalAccepted + s.TotalRejected
	if classified == 0 {
		return 0
	}
	return float64(s.TotalAccepted) / float64(classified) * 100
}
