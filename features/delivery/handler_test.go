package delivery_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"courier/features/delivery"
)

func TestHandler_ListFailed(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		setupMock  func(*MockRepo)
		wantStatus int
		checkBody  func(*testing.T, map[string]interface{})
	}{
		{
			name:  "default limit",
			query: "",
			setupMock: func(r *MockRepo) {
				r.On("ListFailed", mock.Anything, 50).Return([]delivery.Record{{ID: 1, DeliveryKey: "c_1"}}, nil)
			},
			wantStatus: http.StatusOK,
			checkBody: func(t *testing.T, body map[string]interface{}) {
				data := body["data"].([]interface{})
				assert.Len(t, data, 1)
				meta := body["meta"].(map[string]interface{})
				assert.EqualValues(t, 1, meta["count"])
			},
		},
		{
			name:  "limit is capped",
			query: "?limit=10000",
			setupMock: func(r *MockRepo) {
				r.On("ListFailed", mock.Anything, 500).Return(nil, nil)
			},
			wantStatus: http.StatusOK,
			checkBody: func(t *testing.T, body map[string]interface{}) {
				assert.Empty(t, body["data"])
			},
		},
		{
			name:       "bad limit",
			query:      "?limit=abc",
			setupMock:  func(r *MockRepo) {},
			wantStatus: http.StatusBadRequest,
			checkBody: func(t *testing.T, body map[string]interface{}) {
				errObj := body["error"].(map[string]interface{})
				assert.Equal(t, "INVALID_ARGUMENT", errObj["code"])
			},
		},
		{
			name:  "repo error",
			query: "?limit=5",
			setupMock: func(r *MockRepo) {
				r.On("ListFailed", mock.Anything, 5).Return(nil, errors.New("db down"))
			},
			wantStatus: http.StatusInternalServerError,
			checkBody: func(t *testing.T, body map[string]interface{}) {
				errObj := body["error"].(map[string]interface{})
				assert.Equal(t, "INTERNAL_ERROR", errObj["code"])
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(MockRepo)
			tt.setupMock(repo)
			h := delivery.NewHandler(delivery.NewService(repo, time.Hour))

			req := httptest.NewRequest(http.MethodGet, "/deliveries/failed"+tt.query, nil)
			w := httptest.NewRecorder()
			h.ListFailed(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			var body map[string]interface{}
			assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			tt.checkBody(t, body)
			repo.AssertExpectations(t)
		})
	}
}
