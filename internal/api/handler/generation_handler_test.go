package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lumagen/credit-engine/internal/api/service"
	"github.com/lumagen/credit-engine/internal/domain/generation"
	"github.com/lumagen/credit-engine/internal/domain/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockGenerationService struct {
	mock.Mock
}

func (m *MockGenerationService) Submit(ctx context.Context, params service.SubmitParams) (*generation.Request, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*generation.Request), args.Error(1)
}

func (m *MockGenerationService) GetByID(ctx context.Context, id uuid.UUID) (*generation.Request, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*generation.Request), args.Error(1)
}

func (m *MockGenerationService) ListByProjectID(ctx context.Context, projectID uuid.UUID, page, perPage int) ([]*generation.Request, int64, error) {
	args := m.Called(ctx, projectID, page, perPage)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]*generation.Request), args.Get(1).(int64), args.Error(2)
}

func (m *MockGenerationService) Shutdown() {
	m.Called()
}

var _ service.GenerationService = (*MockGenerationService)(nil)

func submitRequestBody(projectID uuid.UUID) SubmitGenerationRequest {
	return SubmitGenerationRequest{
		ProjectID: projectID.String(),
		Model:     "luma-standard",
		Prompt:    "a red fox in snow",
	}
}

func TestGenerationHandler_Submit(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	accountID := uuid.New()
	projectID := uuid.New()

	postSubmit := func(router *gin.Engine, body interface{}) *httptest.ResponseRecorder {
		jsonBody, _ := json.Marshal(body)
		req, _ := http.NewRequest(http.MethodPost, "/generations", bytes.NewBuffer(jsonBody))
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr
	}

	t.Run("Success", func(t *testing.T) {
		mockService := new(MockGenerationService)
		handler := NewGenerationHandler(logger, mockService)

		record := generation.NewRequest(accountID, projectID, "luma-standard", "a red fox in snow", 2)
		record.Status = generation.StatusCompleted
		record.OutputImage = "https://files.example.com/generations/out.png"

		mockService.On("Submit", mock.Anything, mock.MatchedBy(func(params service.SubmitParams) bool {
			return params.AccountID == accountID &&
				params.ProjectID == projectID &&
				params.ModelID == "luma-standard" &&
				params.CorrelationID != ""
		})).Return(record, nil)

		router := setupTestRouter(accountID)
		router.POST("/generations", handler.Submit)

		rr := postSubmit(router, submitRequestBody(projectID))

		assert.Equal(t, http.StatusCreated, rr.Code)

		var body GenerationResponse
		decodeData(t, rr.Body.Bytes(), &body)
		assert.Equal(t, record.ID.String(), body.ID)
		assert.Equal(t, string(generation.StatusCompleted), body.Status)
		assert.Equal(t, record.OutputImage, body.OutputImage)
		assert.Equal(t, int64(2), body.CreditCost)
		mockService.AssertExpectations(t)
	})

	t.Run("ReferencesDecodedBeforeSubmit", func(t *testing.T) {
		mockService := new(MockGenerationService)
		handler := NewGenerationHandler(logger, mockService)

		record := generation.NewRequest(accountID, projectID, "luma-standard", "a red fox in snow", 2)
		mockService.On("Submit", mock.Anything, mock.MatchedBy(func(params service.SubmitParams) bool {
			return len(params.References) == 1 && string(params.References[0].Data) == "raw-bytes"
		})).Return(record, nil)

		router := setupTestRouter(accountID)
		router.POST("/generations", handler.Submit)

		body := submitRequestBody(projectID)
		body.References = []ReferenceImageRequest{{
			Data:        base64.StdEncoding.EncodeToString([]byte("raw-bytes")),
			Filename:    "ref.png",
			ContentType: "image/png",
		}}
		rr := postSubmit(router, body)

		assert.Equal(t, http.StatusCreated, rr.Code)
		mockService.AssertExpectations(t)
	})

	t.Run("MalformedBody", func(t *testing.T) {
		mockService := new(MockGenerationService)
		handler := NewGenerationHandler(logger, mockService)

		router := setupTestRouter(accountID)
		router.POST("/generations", handler.Submit)

		req, _ := http.NewRequest(http.MethodPost, "/generations", bytes.NewBufferString(`{"invalid`))
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		mockService.AssertExpectations(t)
	})

	t.Run("ValidationError", func(t *testing.T) {
		mockService := new(MockGenerationService)
		handler := NewGenerationHandler(logger, mockService)

		mockService.On("Submit", mock.Anything, mock.Anything).
			Return(nil, service.ErrValidation{Reason: "unknown model: dalle-12"})

		router := setupTestRouter(accountID)
		router.POST("/generations", handler.Submit)

		body := submitRequestBody(projectID)
		body.Model = "dalle-12"
		rr := postSubmit(router, body)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("InsufficientCredits", func(t *testing.T) {
		mockService := new(MockGenerationService)
		handler := NewGenerationHandler(logger, mockService)

		mockService.On("Submit", mock.Anything, mock.Anything).
			Return(nil, ledger.ErrInsufficientCredits{AccountID: accountID, Balance: 1, Required: 2})

		router := setupTestRouter(accountID)
		router.POST("/generations", handler.Submit)

		rr := postSubmit(router, submitRequestBody(projectID))

		assert.Equal(t, http.StatusPaymentRequired, rr.Code)

		var envelope Response
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &envelope))
		require.NotNil(t, envelope.Error)
		assert.Equal(t, "INSUFFICIENT_CREDITS", envelope.Error.Code)
	})

	t.Run("AlreadyCharged", func(t *testing.T) {
		mockService := new(MockGenerationService)
		handler := NewGenerationHandler(logger, mockService)

		mockService.On("Submit", mock.Anything, mock.Anything).
			Return(nil, ledger.ErrAlreadyConsumed{RequestID: uuid.New()})

		router := setupTestRouter(accountID)
		router.POST("/generations", handler.Submit)

		rr := postSubmit(router, submitRequestBody(projectID))

		assert.Equal(t, http.StatusConflict, rr.Code)
	})

	t.Run("LedgerBusy", func(t *testing.T) {
		mockService := new(MockGenerationService)
		handler := NewGenerationHandler(logger, mockService)

		mockService.On("Submit", mock.Anything, mock.Anything).Return(nil, ledger.ErrConflict)

		router := setupTestRouter(accountID)
		router.POST("/generations", handler.Submit)

		rr := postSubmit(router, submitRequestBody(projectID))

		assert.Equal(t, http.StatusConflict, rr.Code)
	})

	t.Run("InvalidReferenceEncoding", func(t *testing.T) {
		mockService := new(MockGenerationService)
		handler := NewGenerationHandler(logger, mockService)

		router := setupTestRouter(accountID)
		router.POST("/generations", handler.Submit)

		body := submitRequestBody(projectID)
		body.References = []ReferenceImageRequest{{
			Data:        "%%%not-base64%%%",
			Filename:    "ref.png",
			ContentType: "image/png",
		}}
		rr := postSubmit(router, body)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		mockService.AssertExpectations(t)
	})

	t.Run("ServiceError", func(t *testing.T) {
		mockService := new(MockGenerationService)
		handler := NewGenerationHandler(logger, mockService)

		mockService.On("Submit", mock.Anything, mock.Anything).Return(nil, errors.New("internal problem"))

		router := setupTestRouter(accountID)
		router.POST("/generations", handler.Submit)

		rr := postSubmit(router, submitRequestBody(projectID))

		assert.Equal(t, http.StatusInternalServerError, rr.Code)
	})
}

func TestGenerationHandler_GetByID(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	accountID := uuid.New()

	t.Run("Success", func(t *testing.T) {
		mockService := new(MockGenerationService)
		handler := NewGenerationHandler(logger, mockService)

		record := generation.NewRequest(accountID, uuid.New(), "luma-turbo", "hello", 1)
		mockService.On("GetByID", mock.Anything, record.ID).Return(record, nil)

		router := setupTestRouter(accountID)
		router.GET("/generations/:id", handler.GetByID)

		req, _ := http.NewRequest(http.MethodGet, "/generations/"+record.ID.String(), nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)

		var body GenerationResponse
		decodeData(t, rr.Body.Bytes(), &body)
		assert.Equal(t, record.ID.String(), body.ID)
		assert.Equal(t, string(generation.StatusPending), body.Status)
		mockService.AssertExpectations(t)
	})

	t.Run("InvalidID", func(t *testing.T) {
		mockService := new(MockGenerationService)
		handler := NewGenerationHandler(logger, mockService)

		router := setupTestRouter(accountID)
		router.GET("/generations/:id", handler.GetByID)

		req, _ := http.NewRequest(http.MethodGet, "/generations/not-a-uuid", nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		mockService.AssertExpectations(t)
	})

	t.Run("NotFound", func(t *testing.T) {
		mockService := new(MockGenerationService)
		handler := NewGenerationHandler(logger, mockService)

		missingID := uuid.New()
		mockService.On("GetByID", mock.Anything, missingID).
			Return(nil, generation.ErrRequestNotFound{ID: missingID})

		router := setupTestRouter(accountID)
		router.GET("/generations/:id", handler.GetByID)

		req, _ := http.NewRequest(http.MethodGet, "/generations/"+missingID.String(), nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func TestGenerationHandler_GetByProjectID(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	accountID := uuid.New()
	projectID := uuid.New()

	t.Run("Success", func(t *testing.T) {
		mockService := new(MockGenerationService)
		handler := NewGenerationHandler(logger, mockService)

		records := []*generation.Request{
			generation.NewRequest(accountID, projectID, "luma-turbo", "first", 1),
			generation.NewRequest(accountID, projectID, "luma-ultra", "second", 4),
		}
		mockService.On("ListByProjectID", mock.Anything, projectID, 1, 20).Return(records, int64(2), nil)

		router := setupTestRouter(accountID)
		router.GET("/projects/:id/generations", handler.GetByProjectID)

		req, _ := http.NewRequest(http.MethodGet, "/projects/"+projectID.String()+"/generations", nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)

		var body []GenerationResponse
		envelope := decodeData(t, rr.Body.Bytes(), &body)
		require.Len(t, body, 2)
		assert.Equal(t, "luma-ultra", body[1].Model)
		require.NotNil(t, envelope.Meta)
		assert.Equal(t, 2, envelope.Meta.TotalItems)
		mockService.AssertExpectations(t)
	})

	t.Run("InvalidProjectID", func(t *testing.T) {
		mockService := new(MockGenerationService)
		handler := NewGenerationHandler(logger, mockService)

		router := setupTestRouter(accountID)
		router.GET("/projects/:id/generations", handler.GetByProjectID)

		req, _ := http.NewRequest(http.MethodGet, "/projects/nope/generations", nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		mockService.AssertExpectations(t)
	})
}
