package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"asistente-coples/config"

	log "github.com/sirupsen/logrus"
)

// Client talks to the external vision-inference backend over REST. The
// backend owns the camera, the models and all defect-detection logic; this
// client only moves parameters in and result payloads out.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Params carries the active configuration into the backend.
type Params struct {
	CameraIP            string  `json:"ip_camara"`
	ConfidenceThreshold float64 `json:"umbral_confianza"`
	IoUThreshold        float64 `json:"umbral_iou"`
	Robustness          string  `json:"configuracion_robustez"`
}

// Classification is the accept/reject prediction in a result payload.
type Classification struct {
	PredictedClass string  `json:"clase_predicha"`
	Confidence     float64 `json:"confianza"`
	InferenceMS    float64 `json:"tiempo_inferencia_ms"`
}

// Box is a detection bounding box in pixel coordinates.
type Box struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Point is a centroid in pixel coordinates.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Detection is one detected piece or defect.
type Detection struct {
	Class      string  `json:"clase"`
	Confidence float64 `json:"confianza"`
	BBox       Box     `json:"bbox"`
	Centroid   Point   `json:"centroide"`
	Area       int     `json:"area"`
}

// Segmentation is one segmented piece or defect with mask data.
type Segmentation struct {
	Class            string          `json:"clase"`
	Confidence       float64         `json:"confianza"`
	BBox             Box             `json:"bbox"`
	Centroid         Point           `json:"centroide"`
	MaskArea         int             `json:"area_mascara"`
	MaskWidth        int             `json:"ancho_mascara,omitempty"`
	MaskHeight       int             `json:"alto_mascara,omitempty"`
	MaskCoefficients json.RawMessage `json:"coeficientes_mascara"`
}

// Times is the per-stage timing breakdown of one analysis.
type Times struct {
	CaptureMS            float64 `json:"captura_ms"`
	ClassificationMS     float64 `json:"clasificacion_ms"`
	PieceDetectionMS     float64 `json:"deteccion_piezas_ms"`
	DefectDetectionMS    float64 `json:"deteccion_defectos_ms"`
	DefectSegmentationMS float64 `json:"segmentacion_defectos_ms"`
	PieceSegmentationMS  float64 `json:"segmentacion_piezas_ms"`
	TotalMS              float64 `json:"total_ms"`
}

// Result is the full payload returned by the backend for one analysis run.
type Result struct {
	CapturedAt          time.Time       `json:"timestamp_captura"`
	Width               int             `json:"resolucion_ancho"`
	Height              int             `json:"resolucion_alto"`
	Channels            int             `json:"resolucion_canales"`
	Times               Times           `json:"tiempos"`
	Classification      *Classification `json:"resultado_clasificacion,omitempty"`
	PieceDetections     []Detection     `json:"detecciones_piezas,omitempty"`
	DefectDetections    []Detection     `json:"detecciones_defectos,omitempty"`
	DefectSegmentations []Segmentation  `json:"segmentaciones_defectos,omitempty"`
	PieceSegmentations  []Segmentation  `json:"segmentaciones_piezas,omitempty"`
	Frame               string          `json:"frame,omitempty"` // JPEG as base64
	ImageFile           string          `json:"archivo_imagen,omitempty"`
	JSONFile            string          `json:"archivo_json,omitempty"`
}

// Preview is a single camera frame without inference results.
type Preview struct {
	Frame      string    `json:"frame"`
	CapturedAt time.Time `json:"timestamp_captura"`
	Width      int       `json:"resolucion_ancho"`
	Height     int       `json:"resolucion_alto"`
}

// NewClient creates a vision backend client.
func NewClient(cfg config.VisionConfig) *Client {
	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Ping checks whether the backend is reachable.
func (c *Client) Ping(ctx context.Context) (bool, error) {
	apiURL, err := url.JoinPath(c.baseURL, "/api/v1/sistema/salud")
	if err != nil {
		return false, fmt.Errorf("failed to create API URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return true, nil
	}

	body, _ := io.ReadAll(resp.Body)
	log.Warnf("Vision backend health check failed (status %d): %s", resp.StatusCode, string(body))
	return false, nil
}

// Initialize loads camera and models in the backend with the given parameters.
func (c *Client) Initialize(ctx context.Context, params Params) error {
	return c.post(ctx, "/api/v1/sistema/inicializar", params, nil)
}

// Release frees camera and model resources in the backend.
func (c *Client) Release(ctx context.Context) error {
	return c.post(ctx, "/api/v1/sistema/liberar", nil, nil)
}

// Analyze captures a frame and runs the requested analysis kind.
func (c *Client) Analyze(ctx context.Context, kind string, params Params) (*Result, error) {
	payload := struct {
		Kind string `json:"tipo_analisis"`
		Params
	}{Kind: kind, Params: params}

	start := time.Now()
	var result Result
	if err := c.post(ctx, "/api/v1/analisis", payload, &result); err != nil {
		return nil, err
	}
	log.Debugf("Vision analysis (%s) round trip took %s", kind, time.Since(start))
	return &result, nil
}

// CapturePreview fetches a single camera frame for the live preview.
func (c *Client) CapturePreview(ctx context.Context) (*Preview, error) {
	apiURL, err := url.JoinPath(c.baseURL, "/api/v1/camara/preview")
	if err != nil {
		return nil, fmt.Errorf("failed to create API URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("vision backend returned error (status %d): %s", resp.StatusCode, string(body))
	}

	var preview Preview
	if err := json.NewDecoder(resp.Body).Decode(&preview); err != nil {
		return nil, fmt.Errorf("failed to decode preview response: %w", err)
	}
	return &preview, nil
}

// post sends a JSON request and decodes the response into out when non-nil.
func (c *Client) post(ctx context.Context, path string, payload, out interface{}) error {
	apiURL, err := url.JoinPath(c.baseURL, path)
	if err != nil {
		return fmt.Errorf("failed to create API URL: %w", err)
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode request payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("vision backend returned error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
