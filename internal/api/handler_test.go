package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fingaurd/fraud-engine/configs"
	"github.com/fingaurd/fraud-engine/internal/anomaly"
	"github.com/fingaurd/fraud-engine/internal/features"
	"github.com/fingaurd/fraud-engine/internal/models"
	"github.com/fingaurd/fraud-engine/internal/profile"
	"github.com/fingaurd/fraud-engine/internal/scoring"
)

type stubProfileStore struct {
	stats map[string]*models.UserStatsSnapshot
}

func (s *stubProfileStore) Stats(_ context.Context, userID string) (*models.UserStatsSnapshot, error) {
	if snapshot, ok := s.stats[userID]; ok {
		return snapshot, nil
	}
	return nil, profile.ErrStatsNotFound
}

func testRouter(t *testing.T) (*gin.Engine, *anomaly.Manager) {
	t.Helper()
	return testRouterWithDB(t, nil)
}

func testRouterWithDB(t *testing.T, db HealthChecker) (*gin.Engine, *anomaly.Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	engineCfg := configs.EngineConfig{
		ReferenceCeiling:    10000,
		ExpectedVelocity:    10,
		StddevEpsilon:       0.01,
		OutlierBoost:        0.15,
		OutlierSigma:        3.0,
		VelocityBoost:       0.10,
		VelocitySpikeFactor: 3.0,
		OddHourBoost:        0.05,
		ColdStartPenalty:    0.5,
	}
	trainCfg := configs.TrainingConfig{
		MinSamples:          10,
		Trees:               50,
		SubsampleSize:       128,
		ThresholdPercentile: 95,
		FallbackThreshold:   0.7,
		ThresholdMin:        0.05,
		ThresholdMax:        0.95,
		Seed:                42,
		PreviousModelGrace:  time.Hour,
	}

	manager := anomaly.NewManager(trainCfg.PreviousModelGrace)
	profiles := &stubProfileStore{stats: map[string]*models.UserStatsSnapshot{
		"user-1": {UserID: "user-1", MeanSpend: 120, StddevSpend: 20, TxCount24h: 5},
	}}

	service := scoring.NewService(
		features.NewExtractor(engineCfg),
		profiles,
		manager,
		anomaly.NewTrainer(trainCfg),
		scoring.NewDecisionEngine(engineCfg),
	)

	router := gin.New()
	NewHandler(service, nil, db).RegisterRoutes(router)
	return router, manager
}

type stubHealthChecker struct {
	err error
}

func (s *stubHealthChecker) HealthCheck(context.Context) error {
	return s.err
}

func publishTestModel(t *testing.T, manager *anomaly.Manager, threshold float64) {
	t.Helper()
	payload := fmt.Sprintf(
		`{"version":"test-model","trained_at":"2025-06-01T00:00:00Z","schema_hash":%q,"threshold":%g,"forest":{"trees":[{"n":2}],"subsample_size":2},"scale_min":0,"scale_max":1}`,
		models.FeatureSchemaHash(), threshold)
	model, err := anomaly.Decode([]byte(payload))
	require.NoError(t, err)
	require.NoError(t, manager.Publish(model))
}

func doJSON(router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func analyzeBody() AnalyzeRequest {
	return AnalyzeRequest{
		TransactionID: "tx-1",
		UserID:        "user-1",
		Amount:        150,
		Category:      "groceries",
		Type:          models.TransactionTypeExpense,
		Timestamp:     "2025-06-11T14:30:00Z",
	}
}

func TestHealthEndpoint(t *testing.T) {
	router, _ := testRouter(t)

	w := doJSON(router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHealthReportsDatabaseState(t *testing.T) {
	t.Run("reachable", func(t *testing.T) {
		router, _ := testRouterWithDB(t, &stubHealthChecker{})

		w := doJSON(router, http.MethodGet, "/health", nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("unreachable", func(t *testing.T) {
		router, _ := testRouterWithDB(t, &stubHealthChecker{err: errors.New("connection refused")})

		w := doJSON(router, http.MethodGet, "/health", nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Contains(t, w.Body.String(), "unhealthy")
	})
}

func TestReadinessGatesOnModel(t *testing.T) {
	router, manager := testRouter(t)

	w := doJSON(router, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	publishTestModel(t, manager, 0.7)

	w = doJSON(router, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAnalyzeWithoutModel(t *testing.T) {
	router, _ := testRouter(t)

	w := doJSON(router, http.MethodPost, "/api/v1/fraud/analyze", analyzeBody())
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestAnalyze(t *testing.T) {
	router, manager := testRouter(t)
	publishTestModel(t, manager, 0.7)

	w := doJSON(router, http.MethodPost, "/api/v1/fraud/analyze", analyzeBody())
	require.Equal(t, http.StatusOK, w.Code)

	var result models.AnalysisResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, "tx-1", result.TransactionID)
	assert.Equal(t, "test-model", result.ModelVersion)
	assert.GreaterOrEqual(t, result.RiskScore, 0.0)
	assert.LessOrEqual(t, result.RiskScore, 1.0)
}

func TestAnalyzeValidation(t *testing.T) {
	router, manager := testRouter(t)
	publishTestModel(t, manager, 0.7)

	t.Run("missing fields", func(t *testing.T) {
		w := doJSON(router, http.MethodPost, "/api/v1/fraud/analyze", gin.H{"amount": 10})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unparseable timestamp", func(t *testing.T) {
		body := analyzeBody()
		body.Timestamp = "yesterday"
		w := doJSON(router, http.MethodPost, "/api/v1/fraud/analyze", body)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("negative amount", func(t *testing.T) {
		body := analyzeBody()
		body.Amount = -10
		w := doJSON(router, http.MethodPost, "/api/v1/fraud/analyze", body)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("bare datetime accepted as UTC", func(t *testing.T) {
		body := analyzeBody()
		body.Timestamp = "2025-06-11T14:30:00"
		w := doJSON(router, http.MethodPost, "/api/v1/fraud/analyze", body)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestAnalyzeBatch(t *testing.T) {
	router, manager := testRouter(t)
	publishTestModel(t, manager, 0.7)

	good := analyzeBody()
	bad := analyzeBody()
	bad.TransactionID = "tx-2"
	bad.Amount = -1

	w := doJSON(router, http.MethodPost, "/api/v1/fraud/analyze/batch", BatchRequest{
		Transactions: []AnalyzeRequest{good, bad},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp BatchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Successful)
	assert.Equal(t, 1, resp.Failed)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "tx-1", resp.Results[0].TransactionID)
	assert.NotNil(t, resp.Results[0].Result)
	assert.Equal(t, "tx-2", resp.Results[1].TransactionID)
	assert.NotEmpty(t, resp.Results[1].Error)
}

func TestAnalyzeBatchRejectsEmpty(t *testing.T) {
	router, manager := testRouter(t)
	publishTestModel(t, manager, 0.7)

	w := doJSON(router, http.MethodPost, "/api/v1/fraud/analyze/batch", BatchRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestModelInfoEndpoint(t *testing.T) {
	router, manager := testRouter(t)

	w := doJSON(router, http.MethodGet, "/api/v1/fraud/models", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	publishTestModel(t, manager, 0.7)

	w = doJSON(router, http.MethodGet, "/api/v1/fraud/models", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var info models.ModelInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.Equal(t, "test-model", info.Version)
	assert.Equal(t, anomaly.ModelType, info.ModelType)
	assert.Equal(t, models.FeatureNames, info.Features)
	assert.Equal(t, 0.7, info.Threshold)
}

func TestRollbackWithoutPrevious(t *testing.T) {
	router, manager := testRouter(t)
	publishTestModel(t, manager, 0.7)

	w := doJSON(router, http.MethodPost, "/api/v1/fraud/models/rollback", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestEnqueueDisabled(t *testing.T) {
	router, _ := testRouter(t)

	w := doJSON(router, http.MethodPost, "/api/v1/fraud/enqueue", analyzeBody())
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestTrainDisabled(t *testing.T) {
	router, _ := testRouter(t)

	w := doJSON(router, http.MethodPost, "/api/v1/fraud/models/train", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
