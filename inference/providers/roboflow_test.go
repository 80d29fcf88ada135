package providers

import (
	"context"
	"image"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-inspect/images"
	"github.com/nvr-ai/go-inspect/inference"
	"github.com/nvr-ai/go-inspect/models/postprocess"
)

func testFrame(t *testing.T) *images.Frame {
	t.Helper()
	frame, err := images.Freeze(image.NewNRGBA(image.Rect(0, 0, 32, 32)), 32)
	require.NoError(t, err)
	return frame
}

func TestRoboflow_Detect(t *testing.T) {
	var gotQuery map[string][]string
	var gotFile []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		gotQuery = r.URL.Query()

		f, _, err := r.FormFile("file")
		if assert.NoError(t, err) {
			gotFile, _ = io.ReadAll(f)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"predictions":[
			{"x":100,"y":120,"width":20,"height":30,"confidence":0.91,"class":"seed"},
			{"x":10,"y":12,"width":4,"height":5,"confidence":0.5,"class":"stone"}
		]}`)
	}))
	defer srv.Close()

	rf, err := NewRoboflow(RoboflowConfig{Endpoint: srv.URL + "/seeds/3", APIKey: "secret"}, nil)
	require.NoError(t, err)
	assert.Equal(t, RoboflowProviderName, rf.Name())

	got, err := rf.Detect(context.Background(), testFrame(t), postprocess.Thresholds{Confidence: 0.4, Overlap: 0.3})
	require.NoError(t, err)

	assert.Equal(t, "secret", gotQuery["api_key"][0])
	assert.Equal(t, "0.4", gotQuery["confidence"][0])
	assert.Equal(t, "0.3", gotQuery["overlap"][0])
	assert.Equal(t, []byte("\x89PNG"), gotFile[:4])

	require.Len(t, got, 2)
	assert.Equal(t, postprocess.Detection{
		X: 100, Y: 120, Width: 20, Height: 30, Confidence: 0.91, Class: "seed",
	}, got[0])
	assert.Equal(t, "stone", got[1].Class)
}

func TestRoboflow_DetectEmptyPredictions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"predictions":[]}`)
	}))
	defer srv.Close()

	rf, err := NewRoboflow(RoboflowConfig{Endpoint: srv.URL}, nil)
	require.NoError(t, err)

	got, err := rf.Detect(context.Background(), testFrame(t), postprocess.Thresholds{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRoboflow_DetectErrors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus int
		malformed  bool
	}{
		{name: "server error", status: http.StatusInternalServerError, body: `{"message":"boom"}`, wantStatus: 500},
		{name: "unauthorized", status: http.StatusUnauthorized, body: `{}`, wantStatus: 401},
		{name: "missing predictions", status: http.StatusOK, body: `{"time":0.1}`, wantStatus: 200, malformed: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			rf, err := NewRoboflow(RoboflowConfig{Endpoint: srv.URL}, nil)
			require.NoError(t, err)

			_, err = rf.Detect(context.Background(), testFrame(t), postprocess.Thresholds{})
			require.Error(t, err)

			var perr *inference.ProviderError
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, RoboflowProviderName, perr.Provider)
			assert.Equal(t, tt.wantStatus, perr.Status)
			assert.Equal(t, tt.malformed, errors.Is(err, inference.ErrMalformedOutput))
		})
	}
}

func TestRoboflow_DetectTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	rf, err := NewRoboflow(RoboflowConfig{Endpoint: srv.URL, Timeout: 50 * time.Millisecond}, nil)
	require.NoError(t, err)

	_, err = rf.Detect(context.Background(), testFrame(t), postprocess.Thresholds{})
	var perr *inference.ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Zero(t, perr.Status)
}

func TestNewRoboflow_RequiresEndpoint(t *testing.T) {
	_, err := NewRoboflow(RoboflowConfig{}, nil)
	assert.Error(t, err)
}
