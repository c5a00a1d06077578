package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shortstudio/studio-agent/internal/storyboard"
)

func newTestClient(url string) *HTTPClient {
	return NewHTTPClient(url, 5*time.Second, nil, WithRateLimit(0, 0))
}

func TestHTTPClient_Analyze(t *testing.T) {
	var received AnalyzeRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/analyze", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NotEmpty(t, r.Header.Get("X-Request-Id"))

		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.Write([]byte(`{
			"status": "success",
			"job_id": "j-1",
			"keywords_data": [
				{"keyword": "robot", "options": [{"download_link": "https://cdn/r.mp4", "preview_img": "https://img/r.jpg"}]}
			],
			"timestamps": [{"start": 0, "end": 0.4, "word": "HOLA"}],
			"audio_url": "/assets/audio/temp_preview.mp3"
		}`))
	}))
	defer server.Close()

	resp, err := newTestClient(server.URL).Analyze(context.Background(), AnalyzeRequest{
		Script: "hola mundo",
		Voice:  "es-ES-AlvaroNeural",
	})
	require.NoError(t, err)

	assert.Equal(t, "hola mundo", received.Script)
	assert.Equal(t, "es-ES-AlvaroNeural", received.Voice)

	assert.Equal(t, StatusSuccess, resp.Status)
	assert.Equal(t, "j-1", resp.JobID)
	require.Equal(t, 1, resp.Storyboard.Len())
	assert.Equal(t, "https://cdn/r.mp4", resp.Storyboard[0].Options[0].DownloadLink)
	assert.Equal(t, []storyboard.Segment{{Start: 0, End: 0.4, Text: "HOLA"}}, resp.Timing())
}

func TestAnalyzeResponse_TimingPrefersSegments(t *testing.T) {
	r := &AnalyzeResponse{
		Segments:   []storyboard.Segment{{Start: 1, End: 2, Text: "a"}},
		Timestamps: []storyboard.Segment{{Start: 3, End: 4, Text: "b"}},
	}
	assert.Equal(t, "a", r.Timing()[0].Text)
}

func TestHTTPClient_ExportStatus_SendsJobID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/export-status", r.URL.Path)
		assert.Equal(t, "j-7", r.URL.Query().Get("job_id"))
		w.Write([]byte(`{"status":"Renderizando","percent":42,"job_id":"j-7"}`))
	}))
	defer server.Close()

	st, err := newTestClient(server.URL).ExportStatus(context.Background(), "j-7")
	require.NoError(t, err)
	assert.Equal(t, "Renderizando", st.Label)
	assert.Equal(t, 42, st.Percent)
	assert.Equal(t, "j-7", st.JobID)
}

func TestHTTPClient_ExportStatus_WithoutJobID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.URL.RawQuery)
		w.Write([]byte(`{"status":"esperando","percent":0}`))
	}))
	defer server.Close()

	st, err := newTestClient(server.URL).ExportStatus(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "esperando", st.Label)
}

func TestHTTPClient_Export(t *testing.T) {
	var raw map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/export", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		w.Write([]byte(`{"status":"started"}`))
	}))
	defer server.Close()

	resp, err := newTestClient(server.URL).Export(context.Background(), ExportRequest{
		JobID:      "j-1",
		Script:     "hola",
		Selections: map[string]string{"robot": "https://cdn/r.mp4"},
		Timestamps: []storyboard.Segment{{Start: 0, End: 1, Text: "hola"}},
		FontSize:   60,
		OutputPath: "/tmp/out",
	})
	require.NoError(t, err)
	assert.Equal(t, "started", resp.Status)

	assert.Equal(t, "j-1", raw["job_id"])
	assert.Equal(t, "hola", raw["texto"])
	assert.Equal(t, float64(60), raw["fontSize"])
	assert.Equal(t, "/tmp/out", raw["output_path"])
	assert.NotContains(t, raw, "preset", "empty optional fields are omitted")
	assert.Equal(t, map[string]any{"robot": "https://cdn/r.mp4"}, raw["selections"])
}

func TestHTTPClient_Batch_Multipart(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/batch", r.URL.Path)
		assert.True(t, strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data"))

		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		assert.Equal(t, "guiones.csv", hdr.Filename)

		b, _ := io.ReadAll(f)
		assert.Equal(t, "texto\nhola\nadios\n", string(b))
		w.Write([]byte(`{"rows":2}`))
	}))
	defer server.Close()

	resp, err := newTestClient(server.URL).Batch(context.Background(), "guiones.csv",
		strings.NewReader("texto\nhola\nadios\n"))
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Rows)
}

func TestHTTPClient_ReturnsRemoteError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"detail":"engine busy"}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Analyze(context.Background(), AnalyzeRequest{Script: "x"})
	require.Error(t, err)

	var remoteErr *RemoteError
	require.True(t, errors.As(err, &remoteErr))
	assert.Equal(t, http.StatusServiceUnavailable, remoteErr.StatusCode)
	assert.Contains(t, remoteErr.Body, "engine busy")
	assert.True(t, remoteErr.IsRetryable())
}

func TestRemoteError_IsRetryable(t *testing.T) {
	assert.True(t, (&RemoteError{StatusCode: http.StatusInternalServerError}).IsRetryable())
	assert.False(t, (&RemoteError{StatusCode: http.StatusBadRequest}).IsRetryable())
}

func TestHTTPClient_BadJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).ExportStatus(context.Background(), "j")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode export status response")
}

func TestHTTPClient_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := newTestClient(server.URL).ExportStatus(ctx, "j")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestHTTPClient_AssetURL(t *testing.T) {
	c := newTestClient("http://127.0.0.1:8000/")
	bust := time.UnixMilli(1700000000123)

	tests := []struct {
		path string
		want string
	}{
		{"/assets/audio/temp_preview.mp3", "http://127.0.0.1:8000/assets/audio/temp_preview.mp3?t=1700000000123"},
		{"assets/x.jpg", "http://127.0.0.1:8000/assets/x.jpg?t=1700000000123"},
		{"https://cdn/v.mp4?s=1", "https://cdn/v.mp4?s=1&t=1700000000123"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, c.AssetURL(tt.path, bust), tt.path)
	}

	assert.Equal(t, "http://127.0.0.1:8000/a.mp3", c.AssetURL("/a.mp3", time.Time{}))
}

func TestHTTPClient_RateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"x","percent":1}`))
	}))
	defer server.Close()

	c := NewHTTPClient(server.URL, time.Second, nil, WithRateLimit(1, 1))
	_, err := c.ExportStatus(context.Background(), "")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.ExportStatus(ctx, "")
	require.Error(t, err, "second call inside the same second exceeds the budget")
	assert.Contains(t, err.Error(), "rate limit")
}
