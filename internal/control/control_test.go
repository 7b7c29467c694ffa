package control

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/leorm1110/music-mixer-ai/internal/audio"
	"github.com/leorm1110/music-mixer-ai/internal/separator"
	"github.com/leorm1110/music-mixer-ai/internal/studio"
)

type fakeBackend struct {
	exportErr error
	mix       []byte
	exportGo  chan struct{} // when set, Export waits on it
}

func (f *fakeBackend) UploadFile(ctx context.Context, path string) (*separator.UploadResult, error) {
	return &separator.UploadResult{
		Path: "sess-1",
		Tracks: []separator.Stem{
			{Name: "vocals", URL: "vocals.wav"},
			{Name: "drums", URL: "drums.wav"},
		},
	}, nil
}

func (f *fakeBackend) FetchStem(ctx context.Context, stem separator.Stem, dir string) (string, error) {
	return filepath.Join(dir, stem.URL), nil
}

func (f *fakeBackend) Export(ctx context.Context, req separator.ExportRequest) ([]byte, error) {
	if f.exportGo != nil {
		<-f.exportGo
	}
	if f.exportErr != nil {
		return nil, f.exportErr
	}
	return f.mix, nil
}

func newTestServer(t *testing.T, b *fakeBackend, opts Options) (*httptest.Server, *studio.Studio) {
	t.Helper()
	st := studio.New(b, audio.NewEngine(), studio.Config{
		CacheDir:     t.TempDir(),
		SyncInterval: 5 * time.Millisecond,
		Decode: func(ctx context.Context, path string) ([]int16, error) {
			return make([]int16, 2*audio.SampleRate*audio.Channels), nil
		},
	})
	t.Cleanup(st.Close)

	opts.UploadDir = t.TempDir()
	mux := http.NewServeMux()
	NewServer(st, NewHub(10), opts).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, st
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func upload(t *testing.T, srv *httptest.Server) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("audio", "song.mp3")
	if err != nil {
		t.Fatal(err)
	}
	fw.Write([]byte("not really mp3"))
	mw.Close()

	resp, err := http.Post(srv.URL+"/api/upload", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func TestStatusWithoutSession(t *testing.T) {
	srv, _ := newTestServer(t, &fakeBackend{}, Options{})

	resp, err := http.Get(srv.URL + "/api/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var st studio.Status
	decodeBody(t, resp, &st)
	if st.Loaded || len(st.Tracks) != 0 || st.Elapsed != "0:00" {
		t.Errorf("status = %+v", st)
	}
}

func TestCommandsWithoutSession(t *testing.T) {
	srv, _ := newTestServer(t, &fakeBackend{}, Options{})

	tests := []struct {
		path string
		body any
	}{
		{"/api/play", map[string]any{}},
		{"/api/stop", map[string]any{}},
		{"/api/seek", map[string]any{"position": 1.0}},
		{"/api/volume", map[string]any{"name": "vocals", "volume": 0.5}},
		{"/api/solo", map[string]any{"name": "vocals"}},
		{"/api/export", map[string]any{}},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp := postJSON(t, srv.URL+tt.path, tt.body)
			if resp.StatusCode != http.StatusConflict {
				t.Errorf("status = %d, want 409", resp.StatusCode)
			}
		})
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t, &fakeBackend{}, Options{})

	resp, err := http.Get(srv.URL + "/api/play")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}

func TestUploadMissingFile(t *testing.T) {
	srv, _ := newTestServer(t, &fakeBackend{}, Options{})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("other", "x")
	mw.Close()

	resp, err := http.Post(srv.URL+"/api/upload", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestUploadAndMix(t *testing.T) {
	srv, _ := newTestServer(t, &fakeBackend{}, Options{})

	resp := upload(t, srv)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload status = %d", resp.StatusCode)
	}
	var st studio.Status
	decodeBody(t, resp, &st)
	if len(st.Tracks) != 2 || st.Master != "vocals" {
		t.Fatalf("upload status = %+v", st)
	}

	resp = postJSON(t, srv.URL+"/api/solo", map[string]any{"name": "drums"})
	var solo struct {
		Solo string `json:"solo"`
	}
	decodeBody(t, resp, &solo)
	if solo.Solo != "drums" {
		t.Errorf("solo = %q, want drums", solo.Solo)
	}

	resp = postJSON(t, srv.URL+"/api/volume", map[string]any{"name": "drums", "volume": 0.5})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("volume status = %d", resp.StatusCode)
	}

	resp = postJSON(t, srv.URL+"/api/mute", map[string]any{"name": "vocals"})
	var mute struct {
		Muted bool `json:"muted"`
	}
	decodeBody(t, resp, &mute)
	if !mute.Muted {
		t.Error("mute toggle did not mute vocals")
	}

	get, err := http.Get(srv.URL + "/api/status")
	if err != nil {
		t.Fatal(err)
	}
	defer get.Body.Close()
	decodeBody(t, get, &st)
	gains := map[string]float64{}
	for _, tr := range st.Tracks {
		gains[tr.Name] = tr.Gain
	}
	if gains["vocals"] != 0 || gains["drums"] != 0.5 {
		t.Errorf("gains = %v, want vocals 0 drums 0.5", gains)
	}
}

func TestBadInput(t *testing.T) {
	srv, _ := newTestServer(t, &fakeBackend{}, Options{})
	upload(t, srv)

	tests := []struct {
		name string
		path string
		body any
		want int
	}{
		{"unknown track volume", "/api/volume", map[string]any{"name": "bass", "volume": 0.5}, http.StatusNotFound},
		{"unknown track solo", "/api/solo", map[string]any{"name": "bass"}, http.StatusNotFound},
		{"missing volume", "/api/volume", map[string]any{"name": "drums"}, http.StatusBadRequest},
		{"missing name", "/api/mute", map[string]any{"muted": true}, http.StatusBadRequest},
		{"negative seek", "/api/seek", map[string]any{"position": -1}, http.StatusBadRequest},
		{"missing position", "/api/seek", map[string]any{}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, srv.URL+tt.path, tt.body)
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
			var body map[string]string
			decodeBody(t, resp, &body)
			if body["error"] == "" {
				t.Error("missing error message")
			}
		})
	}
}

func TestPlaySeekStop(t *testing.T) {
	srv, st := newTestServer(t, &fakeBackend{}, Options{})
	upload(t, srv)

	resp := postJSON(t, srv.URL+"/api/seek", map[string]any{"position": 1.5})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("seek status = %d", resp.StatusCode)
	}
	if got := st.Status().Position; got != 1.5 {
		t.Errorf("position = %v, want 1.5", got)
	}
	if st.Status().SyncRunning {
		t.Error("seek started the sync loop")
	}

	resp = postJSON(t, srv.URL+"/api/play", map[string]any{})
	var play struct {
		Playing bool `json:"playing"`
	}
	decodeBody(t, resp, &play)
	if !play.Playing {
		t.Error("play did not start playback")
	}

	resp = postJSON(t, srv.URL+"/api/stop", map[string]any{})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stop status = %d", resp.StatusCode)
	}
	if s := st.Status(); s.Playing || s.Position != 0 {
		t.Errorf("after stop: playing=%v position=%v", s.Playing, s.Position)
	}
}

func TestSeekRateLimited(t *testing.T) {
	srv, _ := newTestServer(t, &fakeBackend{}, Options{SeekRate: 1})
	upload(t, srv)

	first := postJSON(t, srv.URL+"/api/seek", map[string]any{"position": 0.5})
	if first.StatusCode != http.StatusOK {
		t.Fatalf("first seek status = %d", first.StatusCode)
	}
	second := postJSON(t, srv.URL+"/api/seek", map[string]any{"position": 0.6})
	if second.StatusCode != http.StatusTooManyRequests {
		t.Errorf("second seek status = %d, want 429", second.StatusCode)
	}
}

func TestExportAttachment(t *testing.T) {
	srv, _ := newTestServer(t, &fakeBackend{mix: []byte("RIFFdata")}, Options{})
	upload(t, srv)

	resp := postJSON(t, srv.URL+"/api/export", map[string]any{})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("export status = %d", resp.StatusCode)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, `filename="mio_mix.wav"`) {
		t.Errorf("Content-Disposition = %q", cd)
	}
	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	if buf.String() != "RIFFdata" {
		t.Errorf("body = %q", buf.String())
	}
}

func TestExportBackendFailure(t *testing.T) {
	b := &fakeBackend{exportErr: &separator.ExportError{Status: 500, Message: "mix failed"}}
	srv, _ := newTestServer(t, b, Options{})
	upload(t, srv)

	resp := postJSON(t, srv.URL+"/api/export", map[string]any{})
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", resp.StatusCode)
	}
	var body map[string]string
	decodeBody(t, resp, &body)
	if !strings.Contains(body["error"], "mix failed") {
		t.Errorf("error = %q", body["error"])
	}
}

func TestExportInProgressConflict(t *testing.T) {
	b := &fakeBackend{mix: []byte("RIFF"), exportGo: make(chan struct{})}
	srv, st := newTestServer(t, b, Options{})
	release := sync.OnceFunc(func() { close(b.exportGo) })
	t.Cleanup(release)
	upload(t, srv)

	done := make(chan int, 1)
	go func() {
		resp, err := http.Post(srv.URL+"/api/export", "application/json", strings.NewReader("{}"))
		if err != nil {
			done <- 0
			return
		}
		resp.Body.Close()
		done <- resp.StatusCode
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !st.Status().Exporting {
		if time.Now().After(deadline) {
			t.Fatal("first export never started")
		}
		time.Sleep(time.Millisecond)
	}

	resp := postJSON(t, srv.URL+"/api/export", map[string]any{})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("overlapping export status = %d, want 409", resp.StatusCode)
	}

	release()
	if code := <-done; code != http.StatusOK {
		t.Errorf("first export status = %d, want 200", code)
	}
}

func TestSoloClearAndRemove(t *testing.T) {
	srv, st := newTestServer(t, &fakeBackend{}, Options{})
	upload(t, srv)

	postJSON(t, srv.URL+"/api/solo", map[string]any{"name": "drums"})
	resp := postJSON(t, srv.URL+"/api/solo", map[string]any{})
	if resp.StatusCode != http.StatusOK || st.Status().Solo != "" {
		t.Errorf("clear solo: status=%d solo=%q", resp.StatusCode, st.Status().Solo)
	}

	resp = postJSON(t, srv.URL+"/api/remove", map[string]any{"name": "vocals"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("remove master status = %d, want 400", resp.StatusCode)
	}
	resp = postJSON(t, srv.URL+"/api/remove", map[string]any{"name": "drums"})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("remove drums status = %d, want 200", resp.StatusCode)
	}
	if n := len(st.Status().Tracks); n != 1 {
		t.Errorf("tracks after remove = %d, want 1", n)
	}
}

func TestHubPublishesReadout(t *testing.T) {
	h := NewHub(10)
	srv := httptest.NewServer(h)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for h.Clients() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	h.Publish(studio.Readout{Position: 61, Elapsed: "1:01", Playing: true})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got studio.Readout
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Elapsed != "1:01" || !got.Playing {
		t.Errorf("readout = %+v", got)
	}
}

func TestHubThrottle(t *testing.T) {
	h := NewHub(1)

	h.Publish(studio.Readout{Position: 1, Playing: true})
	h.Publish(studio.Readout{Position: 2, Playing: true}) // burst used by the first
	if last, _ := h.Last(); last.Position != 1 {
		t.Errorf("throttled readout delivered: %+v", last)
	}

	h.Publish(studio.Readout{Position: 0, Playing: false})
	if last, _ := h.Last(); last.Playing || last.Position != 0 {
		t.Errorf("state change was throttled: %+v", last)
	}
}

func TestHubDeliversPausedReadouts(t *testing.T) {
	h := NewHub(10)

	h.Publish(studio.Readout{Position: 0, Playing: false})
	h.Publish(studio.Readout{Position: 42, Elapsed: "0:42", Playing: false})
	if last, _ := h.Last(); last.Position != 42 {
		t.Errorf("seek while paused not delivered: %+v", last)
	}
}
