package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"asistente-coples/config"
	"asistente-coples/internal/auth"
	"asistente-coples/internal/core/models"
	"asistente-coples/internal/database"
	"asistente-coples/internal/db/repository"
	"asistente-coples/internal/integrations/vision"
	"asistente-coples/internal/server/sse"
	"asistente-coples/internal/services/analysis"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlog "gorm.io/gorm/logger"
)

// testEnv wires a full API stack against an in-memory database and a fake
// vision backend.
type testEnv struct {
	router      *gin.Engine
	repo        *repository.Repository
	auth        *auth.Service
	backend     *httptest.Server
	backendFunc func(w http.ResponseWriter, r *http.Request)

	admin    *models.User
	operator *models.User
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlog.Default.LogMode(gormlog.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	repo := repository.New(db)

	env := &testEnv{repo: repo}
	env.backend = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if env.backendFunc != nil {
			env.backendFunc(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(env.backend.Close)

	cfg := &config.Config{}
	cfg.Auth = config.AuthConfig{
		JWTSecret:        "test-secret",
		AccessTTLMinutes: 60,
		RefreshTTLHours:  168,
		AdminRole:        "admin",
	}
	cfg.Vision = config.VisionConfig{BaseURL: env.backend.URL, TimeoutSeconds: 5}

	env.auth = auth.NewService(cfg.Auth)
	hub := sse.NewHub()
	go hub.Run()

	visionClient := vision.NewClient(cfg.Vision)
	analysisService := analysis.NewService(repo, visionClient, hub, nil)

	router := gin.New()
	api := router.Group("/api")
	NewAPIHandler(repo, cfg, env.auth, analysisService, hub).RegisterRoutes(api)
	env.router = router

	adminRole := &models.Role{Name: "admin"}
	require.NoError(t, repo.SaveRole(adminRole))
	operatorRole := &models.Role{Name: "operador"}
	require.NoError(t, repo.SaveRole(operatorRole))

	hash, err := env.auth.HashPassword("clave-segura")
	require.NoError(t, err)

	admin := &models.User{Username: "jefa", Email: "jefa@planta.mx", PasswordHash: hash, RoleID: &adminRole.ID}
	require.NoError(t, repo.SaveUser(admin))
	env.admin, err = repo.GetUserByID(admin.ID)
	require.NoError(t, err)

	operator := &models.User{Username: "operario", Email: "op@planta.mx", PasswordHash: hash, RoleID: &operatorRole.ID}
	require.NoError(t, repo.SaveUser(operator))
	env.operator, err = repo.GetUserByID(operator.ID)
	require.NoError(t, err)

	return env
}

func (env *testEnv) tokenFor(t *testing.T, user *models.User) string {
	t.Helper()
	pair, err := env.auth.IssuePair(user)
	require.NoError(t, err)
	return pair.Access
}

func (env *testEnv) request(t *testing.T, method, path, token string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var body *bytes.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, body)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out))
}

// --- Token endpoints ---

func TestObtainToken(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(t, http.MethodPost, "/api/token", "", gin.H{
		"username": "jefa", "password": "clave-segura",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var pair auth.TokenPair
	decode(t, w, &pair)
	require.NotEmpty(t, pair.Access)
	require.NotEmpty(t, pair.Refresh)

	// The issued access token works against a protected route.
	w = env.request(t, http.MethodGet, "/api/users/me", pair.Access, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "jefa")
}

func TestObtainTokenBadCredentials(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(t, http.MethodPost, "/api/token", "", gin.H{
		"username": "jefa", "password": "incorrecta",
	})
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.request(t, http.MethodPost, "/api/token", "", gin.H{
		"username": "fantasma", "password": "x",
	})
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRefreshToken(t *testing.T) {
	env := newTestEnv(t)

	pair, err := env.auth.IssuePair(env.operator)
	require.NoError(t, err)

	w := env.request(t, http.MethodPost, "/api/token/refresh", "", gin.H{"refresh": pair.Refresh})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Access string `json:"access"`
	}
	decode(t, w, &resp)
	require.NotEmpty(t, resp.Access)

	// An access token is not accepted as a refresh token.
	w = env.request(t, http.MethodPost, "/api/token/refresh", "", gin.H{"refresh": pair.Access})
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

// --- Registration and users ---

func TestRegisterUser(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(t, http.MethodPost, "/api/users/register", "", gin.H{
		"username":  "nuevo",
		"email":     "nuevo@planta.mx",
		"password":  "clave-segura",
		"password2": "clave-segura",
		"name":      "Usuario Nuevo",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var created models.User
	decode(t, w, &created)
	require.Equal(t, "nuevo", created.Username)
	require.NotContains(t, w.Body.String(), "clave-segura")
}

func TestRegisterUserPasswordMismatch(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(t, http.MethodPost, "/api/users/register", "", gin.H{
		"username":  "nuevo",
		"email":     "nuevo@planta.mx",
		"password":  "clave-segura",
		"password2": "otra-clave",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRegisterUserDuplicates(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(t, http.MethodPost, "/api/users/register", "", gin.H{
		"username":  "jefa",
		"email":     "libre@planta.mx",
		"password":  "clave-segura",
		"password2": "clave-segura",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = env.request(t, http.MethodPost, "/api/users/register", "", gin.H{
		"username":  "libre",
		"email":     "jefa@planta.mx",
		"password":  "clave-segura",
		"password2": "clave-segura",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUserAdminGuard(t *testing.T) {
	env := newTestEnv(t)
	operatorToken := env.tokenFor(t, env.operator)

	w := env.request(t, http.MethodGet, "/api/users", operatorToken, nil)
	require.Equal(t, http.StatusForbidden, w.Code)

	adminToken := env.tokenFor(t, env.admin)
	w = env.request(t, http.MethodGet, "/api/users", adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var users []models.User
	decode(t, w, &users)
	require.Len(t, users, 2)
}

func TestUpdateAndDeleteUser(t *testing.T) {
	env := newTestEnv(t)
	adminToken := env.tokenFor(t, env.admin)

	path := "/api/users/" + itoa(env.operator.ID)
	w := env.request(t, http.MethodPut, path, adminToken, gin.H{"name": "Operario Renombrado"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "Operario Renombrado")

	// Self-deletion is rejected.
	w = env.request(t, http.MethodDelete, "/api/users/"+itoa(env.admin.ID), adminToken, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = env.request(t, http.MethodDelete, path, adminToken, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = env.request(t, http.MethodDelete, path, adminToken, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

// --- Roles ---

func TestRoleLifecycle(t *testing.T) {
	env := newTestEnv(t)
	adminToken := env.tokenFor(t, env.admin)

	w := env.request(t, http.MethodPost, "/api/roles", adminToken, gin.H{
		"rol_nombre": "supervisor", "rol_descripcion": "Supervisa turnos",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var role models.Role
	decode(t, w, &role)
	require.Equal(t, "supervisor", role.Name)

	path := "/api/roles/" + itoa(role.ID)
	w = env.request(t, http.MethodPut, path, adminToken, gin.H{"rol_nombre": "supervisor-turno"})
	require.Equal(t, http.StatusOK, w.Code)

	w = env.request(t, http.MethodDelete, path, adminToken, nil)
	require.Equal(t, http.StatusNoContent, w.Code)
}

func TestDeleteRoleInUseConflict(t *testing.T) {
	env := newTestEnv(t)
	adminToken := env.tokenFor(t, env.admin)

	w := env.request(t, http.MethodDelete, "/api/roles/"+itoa(*env.operator.RoleID), adminToken, nil)
	require.Equal(t, http.StatusConflict, w.Code)
}

// --- Configurations ---

func validConfigPayload() gin.H {
	return gin.H{
		"nombre":                 "turno-dia",
		"ip_camara":              "10.0.0.10",
		"umbral_confianza":       0.75,
		"umbral_iou":             0.4,
		"configuracion_robustez": "moderada",
		"activa":                 true,
	}
}

func TestCreateConfigValidation(t *testing.T) {
	env := newTestEnv(t)
	token := env.tokenFor(t, env.operator)

	bad := validConfigPayload()
	bad["ip_camara"] = "no-es-una-ip"
	w := env.request(t, http.MethodPost, "/api/analisis-coples/configuraciones", token, bad)
	require.Equal(t, http.StatusBadRequest, w.Code)

	bad = validConfigPayload()
	bad["umbral_confianza"] = 1.5
	w = env.request(t, http.MethodPost, "/api/analisis-coples/configuraciones", token, bad)
	require.Equal(t, http.StatusBadRequest, w.Code)

	bad = validConfigPayload()
	bad["configuracion_robustez"] = "maxima"
	w = env.request(t, http.MethodPost, "/api/analisis-coples/configuraciones", token, bad)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestConfigLifecycle(t *testing.T) {
	env := newTestEnv(t)
	token := env.tokenFor(t, env.operator)
	adminToken := env.tokenFor(t, env.admin)

	w := env.request(t, http.MethodPost, "/api/analisis-coples/configuraciones", token, validConfigPayload())
	require.Equal(t, http.StatusCreated, w.Code)

	var first models.SystemConfig
	decode(t, w, &first)
	require.True(t, first.Active)
	require.NotNil(t, first.CreatedByID)

	second := validConfigPayload()
	second["nombre"] = "turno-noche"
	w = env.request(t, http.MethodPost, "/api/analisis-coples/configuraciones", token, second)
	require.Equal(t, http.StatusCreated, w.Code)

	// The second active configuration displaced the first.
	w = env.request(t, http.MethodGet, "/api/analisis-coples/configuraciones/activa", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "turno-noche")

	// Reactivate the first.
	w = env.request(t, http.MethodPost, "/api/analisis-coples/configuraciones/"+itoa(first.ID)+"/activar", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.request(t, http.MethodGet, "/api/analisis-coples/configuraciones/activa", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "turno-dia")

	// The active configuration cannot be deleted.
	w = env.request(t, http.MethodDelete, "/api/analisis-coples/configuraciones/"+itoa(first.ID), adminToken, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)

	// Deleting configurations requires the admin role.
	var secondCfg models.SystemConfig
	w = env.request(t, http.MethodGet, "/api/analisis-coples/configuraciones", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var all []models.SystemConfig
	decode(t, w, &all)
	for _, cfg := range all {
		if !cfg.Active {
			secondCfg = cfg
		}
	}
	require.NotZero(t, secondCfg.ID)

	w = env.request(t, http.MethodDelete, "/api/analisis-coples/configuraciones/"+itoa(secondCfg.ID), token, nil)
	require.Equal(t, http.StatusForbidden, w.Code)

	w = env.request(t, http.MethodDelete, "/api/analisis-coples/configuraciones/"+itoa(secondCfg.ID), adminToken, nil)
	require.Equal(t, http.StatusNoContent, w.Code)
}

func TestActivateConfigReinitializesPipeline(t *testing.T) {
	env := newTestEnv(t)
	token := env.tokenFor(t, env.operator)

	day := env.activeConfig(t)
	night := &models.SystemConfig{
		Name: "turno-noche", CameraIP: "10.0.0.20",
		ConfidenceThreshold: 0.9, IoUThreshold: 0.5,
		Robustness: models.RobustnessPermissive,
	}
	require.NoError(t, env.repo.SaveConfig(night))

	var initParams []vision.Params
	env.backendFunc = func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/sistema/inicializar" {
			var params vision.Params
			require.NoError(t, json.NewDecoder(r.Body).Decode(&params))
			initParams = append(initParams, params)
		}
		w.WriteHeader(http.StatusOK)
	}

	w := env.request(t, http.MethodPost, "/api/analisis-coples/configuraciones/"+itoa(night.ID)+"/activar", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Initialized bool `json:"sistema_inicializado"`
	}
	decode(t, w, &resp)
	require.True(t, resp.Initialized)

	// The backend was re-initialized with the newly activated parameters.
	require.Len(t, initParams, 1)
	require.Equal(t, "10.0.0.20", initParams[0].CameraIP)
	require.Equal(t, models.RobustnessPermissive, initParams[0].Robustness)

	active, err := env.repo.GetActiveConfig()
	require.NoError(t, err)
	require.Equal(t, night.ID, active.ID)
	require.NotEqual(t, day.ID, active.ID)
}

func TestActivateConfigSurvivesBackendFailure(t *testing.T) {
	env := newTestEnv(t)
	token := env.tokenFor(t, env.operator)

	cfg := env.activeConfig(t)
	other := &models.SystemConfig{
		Name: "turno-noche", CameraIP: "10.0.0.20",
		ConfidenceThreshold: 0.9, IoUThreshold: 0.5,
		Robustness: models.RobustnessModerate,
	}
	require.NoError(t, env.repo.SaveConfig(other))

	env.backendFunc = func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "backend caido", http.StatusInternalServerError)
	}

	// Activation persists even when the pipeline cannot be re-initialized.
	w := env.request(t, http.MethodPost, "/api/analisis-coples/configuraciones/"+itoa(other.ID)+"/activar", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Initialized bool   `json:"sistema_inicializado"`
		InitError   string `json:"error_inicializacion"`
	}
	decode(t, w, &resp)
	require.False(t, resp.Initialized)
	require.NotEmpty(t, resp.InitError)

	active, err := env.repo.GetActiveConfig()
	require.NoError(t, err)
	require.Equal(t, other.ID, active.ID)
	require.NotEqual(t, cfg.ID, active.ID)
}

// --- Analyses ---

func (env *testEnv) activeConfig(t *testing.T) *models.SystemConfig {
	t.Helper()
	cfg := &models.SystemConfig{
		Name: "test", CameraIP: "10.0.0.10",
		ConfidenceThreshold: 0.7, IoUThreshold: 0.4,
		Robustness: models.RobustnessOriginal, Active: true,
	}
	require.NoError(t, env.repo.SaveConfig(cfg))
	return cfg
}

func analysisBackend(t *testing.T) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/sistema/inicializar", "/api/v1/sistema/liberar", "/api/v1/sistema/salud":
			w.WriteHeader(http.StatusOK)
		case "/api/v1/analisis":
			json.NewEncoder(w).Encode(vision.Result{
				CapturedAt: time.Now(),
				Width:      1280, Height: 1024, Channels: 3,
				Times: vision.Times{CaptureMS: 10, ClassificationMS: 40, TotalMS: 120},
				Classification: &vision.Classification{
					PredictedClass: "Aceptado", Confidence: 0.95, InferenceMS: 40,
				},
				Frame: "ZmFrZS1qcGVn",
			})
		default:
			t.Errorf("unexpected backend call: %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func TestPerformAnalysis(t *testing.T) {
	env := newTestEnv(t)
	env.activeConfig(t)
	env.backendFunc = analysisBackend(t)
	token := env.tokenFor(t, env.operator)

	w := env.request(t, http.MethodPost, "/api/analisis-coples/analisis/realizar_analisis", token, gin.H{
		"tipo_analisis": "completo",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		Analysis struct {
			ID         uint   `json:"id"`
			AnalysisID string `json:"id_analisis"`
			Status     string `json:"estado"`
			Times      struct {
				TotalMS float64 `json:"total_ms"`
			} `json:"tiempos"`
			Classification *models.Classification `json:"resultado_clasificacion"`
		} `json:"analisis"`
	}
	decode(t, w, &resp)
	require.Equal(t, models.StatusCompleted, resp.Analysis.Status)
	require.NotEmpty(t, resp.Analysis.AnalysisID)
	require.InDelta(t, 120, resp.Analysis.Times.TotalMS, 0.001)
	require.NotNil(t, resp.Analysis.Classification)
	require.Equal(t, "Aceptado", resp.Analysis.Classification.PredictedClass)

	// The run is persisted and owned by the caller.
	stored, err := env.repo.GetAnalysisByID(resp.Analysis.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Equal(t, env.operator.ID, *stored.UserID)
}

func TestPerformAnalysisInvalidKind(t *testing.T) {
	env := newTestEnv(t)
	token := env.tokenFor(t, env.operator)

	w := env.request(t, http.MethodPost, "/api/analisis-coples/analisis/realizar_analisis", token, gin.H{
		"tipo_analisis": "radiografia",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPerformAnalysisWithoutActiveConfig(t *testing.T) {
	env := newTestEnv(t)
	token := env.tokenFor(t, env.operator)

	w := env.request(t, http.MethodPost, "/api/analisis-coples/analisis/realizar_analisis", token, gin.H{
		"tipo_analisis": "completo",
	})
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestPerformAnalysisBackendFailureIsPersisted(t *testing.T) {
	env := newTestEnv(t)
	env.activeConfig(t)
	env.backendFunc = func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/analisis" {
			http.Error(w, "camara no disponible", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
	token := env.tokenFor(t, env.operator)

	w := env.request(t, http.MethodPost, "/api/analisis-coples/analisis/realizar_analisis", token, gin.H{
		"tipo_analisis": "completo",
	})
	require.Equal(t, http.StatusBadGateway, w.Code)

	analyses, total, err := env.repo.ListAnalyses(repository.AnalysisFilter{})
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	require.Equal(t, models.StatusError, analyses[0].Status)
	require.NotEmpty(t, analyses[0].ErrorMessage)
}

func TestListAnalysesOwnOnly(t *testing.T) {
	env := newTestEnv(t)
	env.activeConfig(t)
	env.backendFunc = analysisBackend(t)

	// One run per user.
	for _, user := range []*models.User{env.admin, env.operator} {
		w := env.request(t, http.MethodPost, "/api/analisis-coples/analisis/realizar_analisis", env.tokenFor(t, user), gin.H{
			"tipo_analisis": "completo",
		})
		require.Equal(t, http.StatusCreated, w.Code)
	}

	// The operator only sees their own run.
	w := env.request(t, http.MethodGet, "/api/analisis-coples/analisis", env.tokenFor(t, env.operator), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listing struct {
		Count   int64             `json:"count"`
		Results []models.Analysis `json:"resultados"`
	}
	decode(t, w, &listing)
	require.EqualValues(t, 1, listing.Count)
	require.Len(t, listing.Results, 1)

	// The admin sees both.
	w = env.request(t, http.MethodGet, "/api/analisis-coples/analisis", env.tokenFor(t, env.admin), nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &listing)
	require.EqualValues(t, 2, listing.Count)

	// The operator cannot read the admin's analysis by id.
	var adminAnalysisID uint
	for _, a := range listing.Results {
		if a.UserID != nil && *a.UserID == env.admin.ID {
			adminAnalysisID = a.ID
		}
	}
	require.NotZero(t, adminAnalysisID)

	w = env.request(t, http.MethodGet, "/api/analisis-coples/analisis/"+itoa(adminAnalysisID), env.tokenFor(t, env.operator), nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestAnalysisImage(t *testing.T) {
	env := newTestEnv(t)
	env.activeConfig(t)
	env.backendFunc = analysisBackend(t)
	token := env.tokenFor(t, env.operator)

	w := env.request(t, http.MethodPost, "/api/analisis-coples/analisis/realizar_analisis", token, gin.H{
		"tipo_analisis": "completo",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		Analysis struct {
			ID uint `json:"id"`
		} `json:"analisis"`
	}
	decode(t, w, &resp)

	w = env.request(t, http.MethodGet, "/api/analisis-coples/imagen/"+itoa(resp.Analysis.ID), token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var image struct {
		ImageData  string     `json:"image_data"`
		AnalysisID string     `json:"analisis_id"`
		Timestamp  *time.Time `json:"timestamp"`
	}
	decode(t, w, &image)
	require.Equal(t, "ZmFrZS1qcGVn", image.ImageData)
	require.NotEmpty(t, image.AnalysisID)
	require.NotNil(t, image.Timestamp)
	require.False(t, image.Timestamp.IsZero())

	w = env.request(t, http.MethodGet, "/api/analisis-coples/miniatura/"+itoa(resp.Analysis.ID), token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "thumbnail_data")

	// An analysis without a stored frame yields 404.
	bare := &models.Analysis{AnalysisID: "sin-imagen", Kind: models.KindFull, Status: models.StatusCompleted, UserID: &env.operator.ID, ProcessedAt: time.Now()}
	require.NoError(t, env.repo.SaveAnalysis(bare))

	w = env.request(t, http.MethodGet, "/api/analisis-coples/imagen/"+itoa(bare.ID), token, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestAnalysisStatistics(t *testing.T) {
	env := newTestEnv(t)
	env.activeConfig(t)
	env.backendFunc = analysisBackend(t)
	token := env.tokenFor(t, env.operator)

	w := env.request(t, http.MethodPost, "/api/analisis-coples/analisis/realizar_analisis", token, gin.H{
		"tipo_analisis": "completo",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = env.request(t, http.MethodGet, "/api/analisis-coples/analisis/estadisticas", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var stats analysis.Statistics
	decode(t, w, &stats)
	require.EqualValues(t, 1, stats.Total)
	require.EqualValues(t, 1, stats.Completed)
	require.EqualValues(t, 1, stats.Accepted)
	require.EqualValues(t, 1, stats.ByKind[models.KindFull])

	// Daily statistics were folded in as well.
	w = env.request(t, http.MethodGet, "/api/analisis-coples/estadisticas", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var daily []models.DailyStatistic
	decode(t, w, &daily)
	require.Len(t, daily, 1)
	require.Equal(t, 1, daily[0].TotalAnalyses)

	w = env.request(t, http.MethodGet, "/api/analisis-coples/estadisticas/resumen", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "total_analisis")
}

// --- System ---

func TestSystemStatusAndLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.activeConfig(t)
	env.backendFunc = analysisBackend(t)
	adminToken := env.tokenFor(t, env.admin)

	w := env.request(t, http.MethodGet, "/api/analisis-coples/sistema/estado", adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var status struct {
		Initialized      bool `json:"inicializado"`
		BackendAvailable bool `json:"backend_disponible"`
	}
	decode(t, w, &status)
	require.False(t, status.Initialized)
	require.True(t, status.BackendAvailable)

	// Initialization requires the admin role.
	w = env.request(t, http.MethodPost, "/api/analisis-coples/sistema/inicializar", env.tokenFor(t, env.operator), nil)
	require.Equal(t, http.StatusForbidden, w.Code)

	w = env.request(t, http.MethodPost, "/api/analisis-coples/sistema/inicializar", adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.request(t, http.MethodGet, "/api/analisis-coples/sistema/estado", adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &status)
	require.True(t, status.Initialized)

	w = env.request(t, http.MethodPost, "/api/analisis-coples/sistema/liberar", adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.request(t, http.MethodGet, "/api/analisis-coples/sistema/estado", adminToken, nil)
	decode(t, w, &status)
	require.False(t, status.Initialized)
}

func TestInitializeWithoutActiveConfig(t *testing.T) {
	env := newTestEnv(t)
	adminToken := env.tokenFor(t, env.admin)

	w := env.request(t, http.MethodPost, "/api/analisis-coples/sistema/inicializar", adminToken, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestInitializeWithConfigID(t *testing.T) {
	env := newTestEnv(t)
	env.activeConfig(t)
	adminToken := env.tokenFor(t, env.admin)

	inactive := &models.SystemConfig{
		Name: "banco-pruebas", CameraIP: "10.0.0.30",
		ConfidenceThreshold: 0.6, IoUThreshold: 0.3,
		Robustness: models.RobustnessUltraPermissive,
	}
	require.NoError(t, env.repo.SaveConfig(inactive))

	var initParams []vision.Params
	env.backendFunc = func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/sistema/inicializar" {
			var params vision.Params
			require.NoError(t, json.NewDecoder(r.Body).Decode(&params))
			initParams = append(initParams, params)
		}
		w.WriteHeader(http.StatusOK)
	}

	// A requested configuration wins over the active one.
	w := env.request(t, http.MethodPost, "/api/analisis-coples/sistema/inicializar", adminToken, gin.H{
		"configuracion_id": inactive.ID,
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "banco-pruebas")
	require.Len(t, initParams, 1)
	require.Equal(t, "10.0.0.30", initParams[0].CameraIP)

	w = env.request(t, http.MethodPost, "/api/analisis-coples/sistema/inicializar", adminToken, gin.H{
		"configuracion_id": 9999,
	})
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestPerformAnalysisWithConfigID(t *testing.T) {
	env := newTestEnv(t)
	env.activeConfig(t)
	token := env.tokenFor(t, env.operator)

	inactive := &models.SystemConfig{
		Name: "banco-pruebas", CameraIP: "10.0.0.30",
		ConfidenceThreshold: 0.6, IoUThreshold: 0.3,
		Robustness: models.RobustnessUltraPermissive,
	}
	require.NoError(t, env.repo.SaveConfig(inactive))

	backend := analysisBackend(t)
	var initParams []vision.Params
	env.backendFunc = func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/sistema/inicializar" {
			var params vision.Params
			require.NoError(t, json.NewDecoder(r.Body).Decode(&params))
			initParams = append(initParams, params)
			w.WriteHeader(http.StatusOK)
			return
		}
		backend(w, r)
	}

	w := env.request(t, http.MethodPost, "/api/analisis-coples/analisis/realizar_analisis", token, gin.H{
		"tipo_analisis":    "completo",
		"configuracion_id": inactive.ID,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	require.Len(t, initParams, 1)
	require.Equal(t, "10.0.0.30", initParams[0].CameraIP)

	var resp struct {
		Analysis struct {
			ID       uint  `json:"id"`
			ConfigID *uint `json:"configuracion"`
		} `json:"analisis"`
	}
	decode(t, w, &resp)
	require.NotNil(t, resp.Analysis.ConfigID)
	require.Equal(t, inactive.ID, *resp.Analysis.ConfigID)

	w = env.request(t, http.MethodPost, "/api/analisis-coples/analisis/realizar_analisis", token, gin.H{
		"tipo_analisis":    "completo",
		"configuracion_id": 9999,
	})
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestSystemPreview(t *testing.T) {
	env := newTestEnv(t)
	env.backendFunc = func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/camara/preview", r.URL.Path)
		json.NewEncoder(w).Encode(vision.Preview{
			Frame:      "ZnJhbWUtcHJldmlldw==",
			CapturedAt: time.Now(),
			Width:      640, Height: 480,
		})
	}
	token := env.tokenFor(t, env.operator)

	w := env.request(t, http.MethodGet, "/api/analisis-coples/sistema/preview", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var preview vision.Preview
	decode(t, w, &preview)
	require.Equal(t, "ZnJhbWUtcHJldmlldw==", preview.Frame)
	require.Equal(t, 640, preview.Width)

	env.backendFunc = func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "camara ocupada", http.StatusInternalServerError)
	}
	w = env.request(t, http.MethodGet, "/api/analisis-coples/sistema/preview", token, nil)
	require.Equal(t, http.StatusBadGateway, w.Code)
}

func itoa(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
