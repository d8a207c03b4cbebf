package web

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guidoenr/audiosphere/internal/engine"
	"github.com/guidoenr/audiosphere/internal/params"
)

type fakeEngine struct {
	mu    sync.Mutex
	shape params.ShapeConfig
	ticks uint64
}

func (f *fakeEngine) Status() engine.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ticks++
	return engine.Status{
		Running:  true,
		Scale:    1.2,
		Ticks:    f.ticks,
		Vertices: 2145,
		Mesh:     engine.MeshInfo{Radius: 3, WidthSegments: 64, HeightSegments: 32},
	}
}

func (f *fakeEngine) Config() params.ShapeConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.shape
}

func (f *fakeEngine) Apply(p params.Patch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	next, err := f.shape.Apply(p)
	if err != nil {
		return err
	}
	f.shape = next
	return nil
}

type fakeAudio struct {
	active     bool
	reacquired int
	failWith   error
}

func (a *fakeAudio) Toggle() bool    { a.active = !a.active; return a.active }
func (a *fakeAudio) Active() bool    { return a.active }
func (a *fakeAudio) Available() bool { return a.failWith == nil }
func (a *fakeAudio) Err() error      { return a.failWith }
func (a *fakeAudio) Reacquire(context.Context) error {
	a.reacquired++
	return a.failWith
}

type fakePalette struct{ name string }

func (p *fakePalette) PaletteName() string    { return p.name }
func (p *fakePalette) SetPalette(name string) { p.name = name }

func newTestServer(t *testing.T, audio AudioControl) (*Server, *fakeEngine) {
	t.Helper()
	eng := &fakeEngine{shape: params.Defaults()}
	s := NewServer(Options{
		Engine:     eng,
		Audio:      audio,
		Palette:    &fakePalette{name: "default"},
		ConfigPath: filepath.Join(t.TempDir(), "sphere.toml"),
	})
	return s, eng
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestStatus(t *testing.T) {
	s, _ := newTestServer(t, &fakeAudio{active: true})
	rec := do(t, s, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var st StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.True(t, st.Running)
	assert.Equal(t, 1.2, st.Scale)
	assert.Equal(t, 2145, st.Vertices)
	assert.Equal(t, 64, st.Mesh.WidthSegments)
	assert.Contains(t, rec.Body.String(), `"mesh":{"radius":3,"widthSegments":64,"heightSegments":32}`)
	assert.True(t, st.Audio.Enabled)
	assert.True(t, st.Audio.Active)
	assert.True(t, st.Audio.Available)
}

func TestStatusWithoutAudio(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := do(t, s, http.MethodGet, "/api/status", "")
	var st StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.False(t, st.Audio.Enabled)
}

func TestGetConfig(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := do(t, s, http.MethodGet, "/api/config", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"color1":"#00ffff"`)
	assert.Contains(t, rec.Body.String(), `"widthSegments":64`)
}

func TestPatchConfig(t *testing.T) {
	s, eng := newTestServer(t, nil)
	rec := do(t, s, http.MethodPost, "/api/config", `{"waveIntensity":1.5,"color2":"#102030"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	cfg := eng.Config()
	assert.Equal(t, 1.5, cfg.WaveIntensity)
	assert.Equal(t, "#102030", cfg.Color2.Hex())
	assert.Equal(t, 64, cfg.WidthSegments, "untouched fields keep their value")
}

func TestPatchConfigIgnoresUnknownKeys(t *testing.T) {
	s, eng := newTestServer(t, nil)
	rec := do(t, s, http.MethodPost, "/api/config", `{"radius":2,"glow":1}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 2.0, eng.Config().Radius)
	assert.Equal(t, params.Defaults().WaveIntensity, eng.Config().WaveIntensity)
}

func TestPatchConfigRejected(t *testing.T) {
	s, eng := newTestServer(t, nil)
	for name, body := range map[string]string{
		"invalid value": `{"radius":-1}`,
		"few segments":  `{"heightSegments":2}`,
		"not an object": `[1,2]`,
		"bad colour":    `{"color1":"nope"}`,
		"malformed":     `{"radius":`,
	} {
		t.Run(name, func(t *testing.T) {
			rec := do(t, s, http.MethodPost, "/api/config", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
	assert.Equal(t, params.Defaults(), eng.Config())
}

func TestMethodNotAllowed(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := do(t, s, http.MethodGet, "/api/save", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestAudioToggle(t *testing.T) {
	audio := &fakeAudio{active: true}
	s, _ := newTestServer(t, audio)

	rec := do(t, s, http.MethodPost, "/api/audio/toggle", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var st AudioStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.False(t, st.Active)
	assert.False(t, audio.active)

	s, _ = newTestServer(t, nil)
	rec = do(t, s, http.MethodPost, "/api/audio/toggle", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAudioReacquire(t *testing.T) {
	audio := &fakeAudio{}
	s, _ := newTestServer(t, audio)
	rec := do(t, s, http.MethodPost, "/api/audio/reacquire", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, audio.reacquired)

	audio.failWith = errors.New("no device")
	rec = do(t, s, http.MethodPost, "/api/audio/reacquire", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "no device")
}

func TestSaveWritesTOML(t *testing.T) {
	s, eng := newTestServer(t, nil)
	require.NoError(t, eng.Apply(params.Patch{Radius: params.Float(2.5)}))

	rec := do(t, s, http.MethodPost, "/api/save", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	patch, _, err := params.LoadPatch(s.opts.ConfigPath)
	require.NoError(t, err)
	loaded, err := params.Defaults().Apply(patch)
	require.NoError(t, err)
	assert.Equal(t, eng.Config(), loaded)
}

func TestPalettes(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := do(t, s, http.MethodGet, "/api/palettes", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"current":"default"`)

	rec = do(t, s, http.MethodPost, "/api/palette", `{"name":"block"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "block", s.opts.Palette.PaletteName())

	rec = do(t, s, http.MethodPost, "/api/palette", `{"name":"plasma"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIndex(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := do(t, s, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/api/config")

	rec = do(t, s, http.MethodGet, "/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebSocketStream(t *testing.T) {
	eng := &fakeEngine{shape: params.Defaults()}
	s := NewServer(Options{Engine: eng, StatusInterval: 10 * time.Millisecond})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- s.Serve(ctx, ln) }()

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var first, second StatusResponse
	require.NoError(t, conn.ReadJSON(&first), "greeting")
	require.NoError(t, conn.ReadJSON(&second), "broadcast")
	assert.Greater(t, second.Ticks, first.Ticks)

	cancel()
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
}
