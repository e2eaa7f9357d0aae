package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"ppg-monitor/configs"
	"ppg-monitor/internal/database"
	"ppg-monitor/internal/filter"
	"ppg-monitor/internal/inference"
	"ppg-monitor/internal/models"
	"ppg-monitor/pkg/utils"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RESTAPIServer обрабатывает REST API запросы
type RESTAPIServer struct {
	sessionManager *SessionManager
	streamHub      *StreamHub
	engine         *inference.Engine
	pipeline       configs.PipelineConfig
}

// SessionRequest запрос для создания сессии
type SessionRequest struct {
	PatientRef     string  `json:"patient_ref,omitempty"` // UUID пациента, опционально
	DeviceID       string  `json:"device_id" binding:"required"`
	SamplingRateHz float64 `json:"sampling_rate_hz,omitempty"` // 0 — значение из конфига
}

// SessionResponse ответ с информацией о сессии
type SessionResponse struct {
	SessionID      string     `json:"session_id"`
	PatientRef     *string    `json:"patient_ref,omitempty"`
	DeviceID       string     `json:"device_id"`
	Status         string     `json:"status"` // active | stopped
	StartTime      time.Time  `json:"start_time"`
	EndTime        *time.Time `json:"end_time,omitempty"`
	SamplingRateHz float64    `json:"sampling_rate_hz"`
	Quality        string     `json:"quality"`
	HREstimate     int        `json:"hr_estimate"`
	SBPEstimate    float64    `json:"sbp_estimate"`
	DBPEstimate    float64    `json:"dbp_estimate"`
	Duration       int        `json:"duration"` // секунды
}

// SessionDataResponse сигнал сессии со статистикой
type SessionDataResponse struct {
	SessionID   string              `json:"session_id"`
	Points      []models.PlethPoint `json:"points"`
	TotalPoints int                 `json:"total_points"`
	Stats       SignalStats         `json:"stats"`
}

// SignalStats сводная статистика сырого сигнала
type SignalStats struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	P05  float64 `json:"p05"`
	P95  float64 `json:"p95"`
}

// GroundTruthRequest референсное АД для сессии
type GroundTruthRequest struct {
	SBP float64 `json:"sbp" binding:"required"`
	DBP float64 `json:"dbp" binding:"required"`
}

// EvaluateRequest запрос на прогон модели по сессии
type EvaluateRequest struct {
	SessionID      string   `json:"session_id" binding:"required"`
	Stride         int      `json:"stride,omitempty"` // 0 — max(1, W/4)
	GroundTruthSBP *float64 `json:"ground_truth_sbp,omitempty"`
	GroundTruthDBP *float64 `json:"ground_truth_dbp,omitempty"`
}

// HealthResponse состояние сервиса
type HealthResponse struct {
	Status         string    `json:"status"`
	Service        string    `json:"service"`
	Timestamp      time.Time `json:"timestamp"`
	ActiveSessions int       `json:"active_sessions"`
	StreamClients  int       `json:"stream_clients"`
	EngineState    string    `json:"engine_state"`
}

// ErrorResponse стандартный ответ об ошибке
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// NewRESTAPIServer создает новый REST API сервер
func NewRESTAPIServer(
	sessionManager *SessionManager,
	streamHub *StreamHub,
	engine *inference.Engine,
	pipeline configs.PipelineConfig,
) *RESTAPIServer {
	return &RESTAPIServer{
		sessionManager: sessionManager,
		streamHub:      streamHub,
		engine:         engine,
		pipeline:       pipeline,
	}
}

// SetupRoutes настраивает маршруты REST API
func (api *RESTAPIServer) SetupRoutes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// Middleware
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"http://localhost:3000", "http://localhost:80", "*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// WebSocket дисплей
	r.GET("/ws/stream", api.streamHub.HandleWS)

	// API группа
	apiGroup := r.Group("/api/v1")

	// === УПРАВЛЕНИЕ СЕССИЯМИ ===
	sessions := apiGroup.Group("/sessions")
	{
		sessions.POST("/start", api.StartSession)
		sessions.POST("/stop/:session_id", api.StopSession)
		sessions.GET("", api.ListSessions)
		sessions.GET("/active", api.GetActiveSessions)
		sessions.GET("/:session_id", api.GetSession)
		sessions.GET("/:session_id/data", api.GetSessionData)
		sessions.GET("/:session_id/export", api.ExportSession)
		sessions.PUT("/:session_id/ground_truth", api.SetGroundTruth)
		sessions.DELETE("/:session_id", api.DeleteSession)
	}

	// === МОДЕЛЬ И ИНФЕРЕНС ===
	modelsGroup := apiGroup.Group("/models")
	{
		modelsGroup.POST("/load", api.LoadModel)
		modelsGroup.POST("/evaluate", api.EvaluateModel)
		modelsGroup.DELETE("", api.UnloadModel)
	}

	// === МОНИТОРИНГ СЕРВИСА ===
	monitoring := apiGroup.Group("/monitoring")
	{
		monitoring.GET("/health", api.HealthCheck)
		monitoring.POST("/cleanup", api.CleanupSessions)
	}

	return r
}

// StartSession запускает новую сессию записи
func (api *RESTAPIServer) StartSession(c *gin.Context) {
	var req SessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Неверный формат данных", Details: err.Error()})
		return
	}

	var patientRef *uuid.UUID
	if req.PatientRef != "" {
		id, err := uuid.Parse(req.PatientRef)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Неверный patient_ref", Details: err.Error()})
			return
		}
		patientRef = &id
	}

	session, err := api.sessionManager.StartSession(patientRef, req.DeviceID, req.SamplingRateHz)
	if err != nil {
		c.JSON(http.StatusConflict, ErrorResponse{Error: "Не удалось запустить сессию", Details: err.Error()})
		return
	}

	c.JSON(http.StatusCreated, sessionToResponse(session))
}

// StopSession останавливает и финализирует сессию
func (api *RESTAPIServer) StopSession(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Неверный session_id", Details: err.Error()})
		return
	}

	session, err := api.sessionManager.StopSession(sessionID)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Не удалось остановить сессию", Details: err.Error()})
		return
	}

	c.JSON(http.StatusOK, sessionToResponse(session))
}

// ListSessions возвращает все сессии
func (api *RESTAPIServer) ListSessions(c *gin.Context) {
	sessions, err := api.sessionManager.ListSessions()
	if err != nil {
		// Ошибки хранилища отдаются вызывающему как есть, без ретраев
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Ошибка хранилища", Details: err.Error()})
		return
	}

	responses := make([]SessionResponse, 0, len(sessions))
	for _, s := range sessions {
		responses = append(responses, sessionToResponse(s))
	}
	c.JSON(http.StatusOK, gin.H{"sessions": responses, "count": len(responses)})
}

// GetActiveSessions возвращает активные сессии
func (api *RESTAPIServer) GetActiveSessions(c *gin.Context) {
	sessions := api.sessionManager.GetAllActiveSessions()
	responses := make([]SessionResponse, 0, len(sessions))
	for _, s := range sessions {
		responses = append(responses, sessionToResponse(s))
	}
	c.JSON(http.StatusOK, gin.H{"sessions": responses, "count": len(responses)})
}

// GetSession возвращает сессию по ID
func (api *RESTAPIServer) GetSession(c *gin.Context) {
	session, ok := api.loadSession(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sessionToResponse(session))
}

// GetSessionData возвращает сигнал сессии со статистикой
func (api *RESTAPIServer) GetSessionData(c *gin.Context) {
	session, ok := api.loadSession(c)
	if !ok {
		return
	}

	values := session.Values()
	stats := SignalStats{
		Mean: utils.SafeFloat(utils.Mean(values)),
		Std:  utils.SafeFloat(utils.Std(values)),
		Min:  utils.SafeFloat(utils.Min(values)),
		Max:  utils.SafeFloat(utils.Max(values)),
		P05:  utils.SafeFloat(utils.Percentile(values, 5)),
		P95:  utils.SafeFloat(utils.Percentile(values, 95)),
	}

	c.JSON(http.StatusOK, SessionDataResponse{
		SessionID:   session.ID.String(),
		Points:      session.PlethData.Points,
		TotalPoints: session.PlethData.Count,
		Stats:       stats,
	})
}

// ExportSession выгружает сессию в CSV
func (api *RESTAPIServer) ExportSession(c *gin.Context) {
	session, ok := api.loadSession(c)
	if !ok {
		return
	}

	filename := fmt.Sprintf("ppg_session_%s.csv", session.ID.String())
	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))

	if err := WriteSessionCSV(c.Writer, session); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Ошибка экспорта", Details: err.Error()})
	}
}

// SetGroundTruth сохраняет референсное АД сессии
func (api *RESTAPIServer) SetGroundTruth(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Неверный session_id", Details: err.Error()})
		return
	}

	var req GroundTruthRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Неверный формат данных", Details: err.Error()})
		return
	}

	if err := api.sessionManager.SetGroundTruth(sessionID, req.SBP, req.DBP); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Ошибка хранилища", Details: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Референсное АД сохранено"})
}

// DeleteSession удаляет сессию
func (api *RESTAPIServer) DeleteSession(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Неверный session_id", Details: err.Error()})
		return
	}

	if err := api.sessionManager.DeleteSession(sessionID); err != nil {
		c.JSON(http.StatusConflict, ErrorResponse{Error: "Не удалось удалить сессию", Details: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Сессия удалена"})
}

// LoadModel загружает блоб модели в движок инференса
func (api *RESTAPIServer) LoadModel(c *gin.Context) {
	fileHeader, err := c.FormFile("model")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Нужен multipart файл 'model'", Details: err.Error()})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Не удалось открыть файл", Details: err.Error()})
		return
	}
	defer file.Close()

	blob, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Не удалось прочитать файл", Details: err.Error()})
		return
	}

	handle, err := api.engine.Load(blob)
	if err != nil {
		var loadErr *inference.ModelLoadError
		if errors.As(err, &loadErr) {
			c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: "Модель отвергнута", Details: err.Error()})
			return
		}
		c.JSON(http.StatusConflict, ErrorResponse{Error: "Не удалось загрузить модель", Details: err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":     "Модель загружена",
		"input_name":  handle.InputName,
		"output_name": handle.OutputName,
		"state":       api.engine.State(),
	})
}

// EvaluateModel прогоняет загруженную модель по отфильтрованному сигналу
// сохраненной сессии и возвращает агрегат предсказаний
func (api *RESTAPIServer) EvaluateModel(c *gin.Context) {
	var req EvaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Неверный формат данных", Details: err.Error()})
		return
	}

	sessionID, err := uuid.Parse(req.SessionID)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Неверный session_id", Details: err.Error()})
		return
	}

	session, err := api.sessionManager.GetSession(sessionID)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Сессия не найдена", Details: err.Error()})
		return
	}

	// Пакетная фильтрация сохраненного сырого сигнала — тот же фильтр,
	// что и в живом конвейере
	filtered := filter.ProcessAll(session.Values(), api.pipeline.FilterAlpha)

	if err := api.engine.ResolveShape(len(filtered)); err != nil {
		var shapeErr *inference.ShapeResolutionError
		if errors.As(err, &shapeErr) {
			c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: "Не удалось определить форму входа", Details: err.Error()})
			return
		}
		c.JSON(http.StatusConflict, ErrorResponse{Error: "Модель не готова", Details: err.Error()})
		return
	}

	// Порядок выбора референса: явное переопределение -> сохраненное в
	// сессии -> дефолт 120/80
	gtSBP, gtDBP := inference.ResolveGroundTruth(
		req.GroundTruthSBP, req.GroundTruthDBP,
		session.GroundTruthSBP, session.GroundTruthDBP,
	)

	agg, err := api.engine.Run(c.Request.Context(), filtered, inference.RunOptions{
		Stride:         req.Stride,
		GroundTruthSBP: &gtSBP,
		GroundTruthDBP: &gtDBP,
	})
	if err != nil {
		var insufficient *inference.InsufficientSignalError
		var noPreds *inference.NoPredictionsError
		switch {
		case errors.As(err, &insufficient):
			c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
				Error:   "Сигнал короче окна модели",
				Details: err.Error(),
			})
		case errors.As(err, &noPreds):
			c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
				Error:   "Модель не дала ни одного предсказания",
				Details: err.Error(),
			})
		default:
			c.JSON(http.StatusInternalServerError, ErrorResponse{
				Error:   "Прогон модели прерван",
				Details: err.Error(),
			})
		}
		return
	}

	c.JSON(http.StatusOK, agg)
}

// UnloadModel выгружает активную модель
func (api *RESTAPIServer) UnloadModel(c *gin.Context) {
	if err := api.engine.Unload(); err != nil {
		c.JSON(http.StatusConflict, ErrorResponse{Error: "Не удалось выгрузить модель", Details: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Модель выгружена", "state": api.engine.State()})
}

// HealthCheck проверяет состояние сервиса
func (api *RESTAPIServer) HealthCheck(c *gin.Context) {
	status := "healthy"
	if err := database.HealthCheck(); err != nil {
		status = "degraded"
	}

	c.JSON(http.StatusOK, HealthResponse{
		Status:         status,
		Service:        "PPG Monitor",
		Timestamp:      time.Now().UTC(),
		ActiveSessions: api.sessionManager.GetActiveSessionCount(),
		StreamClients:  api.streamHub.SubscriberCount(),
		EngineState:    string(api.engine.State()),
	})
}

// CleanupSessions принудительно завершает зависшие сессии
func (api *RESTAPIServer) CleanupSessions(c *gin.Context) {
	stopped := api.sessionManager.CleanupInactiveSessions()
	c.JSON(http.StatusOK, gin.H{
		"message":         "Очистка сессий выполнена",
		"stopped":         stopped,
		"active_sessions": api.sessionManager.GetActiveSessionCount(),
	})
}

// loadSession читает сессию по параметру пути, отвечая ошибкой сам
func (api *RESTAPIServer) loadSession(c *gin.Context) (*models.PPGSession, bool) {
	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Неверный session_id", Details: err.Error()})
		return nil, false
	}

	session, err := api.sessionManager.GetSession(sessionID)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Сессия не найдена", Details: err.Error()})
		return nil, false
	}
	return session, true
}

// sessionToResponse маппит модель сессии в ответ API
func sessionToResponse(s *models.PPGSession) SessionResponse {
	status := "stopped"
	if s.IsActive() {
		status = "active"
	}

	var patientRef *string
	if s.PatientRef != nil {
		ref := s.PatientRef.String()
		patientRef = &ref
	}

	return SessionResponse{
		SessionID:      s.ID.String(),
		PatientRef:     patientRef,
		DeviceID:       s.DeviceID,
		Status:         status,
		StartTime:      s.StartTime,
		EndTime:        s.EndTime,
		SamplingRateHz: s.SamplingRateHz,
		Quality:        s.Quality,
		HREstimate:     s.HREstimate,
		SBPEstimate:    s.SBPEstimate,
		DBPEstimate:    s.DBPEstimate,
		Duration:       s.GetDurationSeconds(),
	}
}
