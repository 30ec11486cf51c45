package handlers

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"path/filepath"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/ulikunitz/xz"
	"golang.org/x/text/language"

	"tourney/internal/game"
	"tourney/internal/game/gametest"
	"tourney/internal/localtime"
	"tourney/internal/page"
	"tourney/internal/render"
	"tourney/internal/replay"
	"tourney/internal/storage"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	replays := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/good.hlt.gz" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(gametest.Gzip(gametest.Default().JSON()))
	}))
	t.Cleanup(replays.Close)
	f, err := replay.NewHTTPFetcher(replays.URL, 5*time.Second, 0)
	if err != nil {
		t.Fatalf("fetcher: %v", err)
	}
	pages := &page.Processor{
		Loader: &replay.Loader{
			Fetcher:  f,
			Parser:   replay.ParserFunc(game.Parse),
			Renderer: render.Replay{},
		},
		Localizer: localtime.New(time.UTC, language.AmericanEnglish),
	}
	return NewHandler(nil, pages, language.AmericanEnglish, nil, "secret")
}

func TestHandleRender(t *testing.T) {
	srv := httptest.NewServer(newTestHandler(t).Routes())
	defer srv.Close()

	in := `<div id="r" data-replay-url="/good.hlt.gz"></div><span data-date-time="2024-03-05T14:30:00Z">x</span>`
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/render?lang=de", strings.NewReader(in))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body bytes.Buffer
	_, _ = body.ReadFrom(resp.Body)
	got := body.String()
	if !strings.Contains(got, `class="replay-board"`) {
		t.Fatalf("replay not rendered:\n%s", got)
	}
	if !strings.Contains(got, "05.03.2024") {
		t.Fatalf("timestamp not localized for lang=de:\n%s", got)
	}
}

func TestPagesWithoutStore(t *testing.T) {
	srv := httptest.NewServer(newTestHandler(t).Routes())
	defer srv.Close()

	cases := []struct {
		path string
		want int
	}{
		{"/", http.StatusOK},
		{"/recent/", http.StatusServiceUnavailable},
		{"/leaderboard/", http.StatusServiceUnavailable},
		{"/match/not-a-uuid/", http.StatusNotFound},
		{"/match/" + uuid.NewString() + "/", http.StatusServiceUnavailable},
		{"/replays/" + uuid.NewString(), http.StatusServiceUnavailable},
		{"/healthz", http.StatusOK},
	}
	for _, c := range cases {
		resp, err := http.Get(srv.URL + c.path)
		if err != nil {
			t.Fatalf("GET %s: %v", c.path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != c.want {
			t.Fatalf("GET %s: expected %d, got %d", c.path, c.want, resp.StatusCode)
		}
	}
}

func uploadRequest(t *testing.T, token, field, filename string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if field != "" {
		fw, err := mw.CreateFormFile(field, filename)
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		_, _ = fw.Write(content)
	}
	_ = mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/match-result/", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestHandleMatchResultErrors(t *testing.T) {
	h := newTestHandler(t)
	routes := h.Routes()

	cases := []struct {
		name   string
		req    *http.Request
		status int
		code   string
	}{
		{"no token", uploadRequest(t, "", "result", "r.tar.xz", []byte("x")), http.StatusUnauthorized, "authentication_failed"},
		{"wrong token", uploadRequest(t, "nope", "result", "r.tar.xz", []byte("x")), http.StatusUnauthorized, "authentication_failed"},
		{"missing file", uploadRequest(t, "secret", "", "", nil), http.StatusBadRequest, "result_missing"},
		{"bad extension", uploadRequest(t, "secret", "result", "r.zip", []byte("x")), http.StatusBadRequest, "bad_extension"},
		{"malformed", uploadRequest(t, "secret", "result", "r.tar.xz", []byte("not xz")), http.StatusBadRequest, "file_malformed"},
	}
	for _, c := range cases {
		rr := httptest.NewRecorder()
		routes.ServeHTTP(rr, c.req)
		if rr.Code != c.status {
			t.Fatalf("%s: expected %d, got %d", c.name, c.status, rr.Code)
		}
		var resp map[string]any
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("%s: decode: %v", c.name, err)
		}
		if resp["code"] != c.code {
			t.Fatalf("%s: expected code %q, got %v", c.name, c.code, resp["code"])
		}
	}
}

func TestReplayCache(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	known := uuid.New()
	cache := NewReplayCache(ctx, func(_ context.Context, id uuid.UUID) ([]byte, string, error) {
		calls++
		if id != known {
			return nil, "", storage.ErrNotFound
		}
		return []byte("data"), "replays/1.hlt.gz", nil
	}, time.Minute, 1<<20)

	for i := 0; i < 3; i++ {
		data, name, err := cache.Get(ctx, known)
		if err != nil || string(data) != "data" || name != "replays/1.hlt.gz" {
			t.Fatalf("get: %q %q %v", data, name, err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected one load, got %d", calls)
	}
	if _, _, err := cache.Get(ctx, uuid.New()); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if cache.Len() != 1 {
		t.Fatalf("misses must not be cached, len=%d", cache.Len())
	}

	cache.Evict(time.Now())
	if cache.Len() != 1 {
		t.Fatal("fresh entry evicted")
	}
	cache.Evict(time.Now().Add(2 * time.Minute))
	if cache.Len() != 0 {
		t.Fatal("stale entry kept")
	}
}

func TestHandleReplayFromCache(t *testing.T) {
	id := uuid.New()
	h := newTestHandler(t)
	h.Cache = NewReplayCache(context.Background(), func(context.Context, uuid.UUID) ([]byte, string, error) {
		return []byte{0x1f, 0x8b}, "replays/abc.hlt.gz", nil
	}, time.Minute, 1<<20)

	rr := httptest.NewRecorder()
	h.Routes().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/replays/"+id.String(), nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := rr.Header().Get("Content-Disposition"); !strings.Contains(got, `filename="abc.hlt.gz"`) {
		t.Fatalf("unexpected disposition %q", got)
	}
	if rr.Body.Len() != 2 {
		t.Fatalf("unexpected body %v", rr.Body.Bytes())
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	if got := ClientIP(r); got != "10.0.0.1" {
		t.Fatalf("expected remote host, got %q", got)
	}
	r.Header.Set("X-Forwarded-For", "1.2.3.4, 10.0.0.1")
	if got := ClientIP(r); got != "1.2.3.4" {
		t.Fatalf("expected forwarded ip, got %q", got)
	}
}

func TestHandleRenderStaysOnPublicHost(t *testing.T) {
	hits := 0
	internal := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
	}))
	defer internal.Close()

	rr := httptest.NewRecorder()
	body := `<div data-replay-url="` + internal.URL + `/latest/meta-data/"></div>`
	newTestHandler(t).Routes().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/render", strings.NewReader(body)))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if hits != 0 {
		t.Fatalf("server fetched a foreign host %d times", hits)
	}
	if !strings.Contains(rr.Body.String(), "failed to download!") {
		t.Fatalf("expected download failure message:\n%s", rr.Body.String())
	}
}

func TestReplayCacheByteCap(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sizes := map[uuid.UUID]int{}
	cache := NewReplayCache(ctx, func(_ context.Context, id uuid.UUID) ([]byte, string, error) {
		return make([]byte, sizes[id]), id.String(), nil
	}, time.Hour, 10)

	a, b, c, big := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	sizes[a], sizes[b], sizes[c], sizes[big] = 4, 4, 4, 11

	for _, id := range []uuid.UUID{a, b} {
		if _, _, err := cache.Get(ctx, id); err != nil {
			t.Fatalf("get: %v", err)
		}
	}
	time.Sleep(time.Millisecond)
	_, _, _ = cache.Get(ctx, a)
	_, _, _ = cache.Get(ctx, c)
	if cache.Len() != 2 || cache.Size() != 8 {
		t.Fatalf("expected 2 entries of 8 bytes, got %d entries of %d bytes", cache.Len(), cache.Size())
	}
	cache.mu.Lock()
	_, keptA := cache.entries[a]
	_, keptB := cache.entries[b]
	cache.mu.Unlock()
	if !keptA || keptB {
		t.Fatalf("expected least recently served entry dropped, kept a=%t b=%t", keptA, keptB)
	}

	data, _, err := cache.Get(ctx, big)
	if err != nil || len(data) != 11 {
		t.Fatalf("oversized replay not served: %d bytes, %v", len(data), err)
	}
	if cache.Size() != 8 {
		t.Fatalf("oversized replay cached, size %d", cache.Size())
	}
}

func TestUploadAcceptsTokenScheme(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Token secret")
	if !validToken(req, "secret") {
		t.Fatalf("Token scheme rejected")
	}
	req.Header.Set("Authorization", "Bearer secre")
	if validToken(req, "secret") {
		t.Fatalf("prefix of the token accepted")
	}
}

func resultBundle(t *testing.T, id string, bots ...string) []byte {
	t.Helper()
	var results []map[string]any
	for i, name := range bots {
		results = append(results, map[string]any{
			"bot_name": name, "docker_image": "registry/" + name, "rank": i + 1, "last_frame_alive": 100 - i,
		})
	}
	meta, _ := json.Marshal(map[string]any{
		"id": id, "date": "2024-03-05T14:30:00+00:00", "replay": "game.hlt", "seed": 7,
		"width": 3, "height": 2, "workflow_run_id": 1, "match_results": results,
	})
	files := map[string][]byte{id + ".json": meta, "game.hlt": []byte(gametest.Default().JSON())}

	var buf bytes.Buffer
	xw, err := xz.NewWriter(&buf)
	if err != nil {
		t.Fatalf("xz writer: %v", err)
	}
	tw := tar.NewWriter(xw)
	for name, body := range files {
		if err := tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(body)), Typeflag: tar.TypeReg}); err != nil {
			t.Fatalf("tar header: %v", err)
		}
		_, _ = tw.Write(body)
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("tar close: %v", err)
	}
	if err := xw.Close(); err != nil {
		t.Fatalf("xz close: %v", err)
	}
	return buf.Bytes()
}

func TestTournamentFlow(t *testing.T) {
	db, err := storage.Open(sqlite.Open(filepath.Join(t.TempDir(), "tourney.db")), false)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	defer sqlDB.Close()

	h := newTestHandler(t)
	h.Store = storage.NewStore(db)
	routes := h.Routes()
	do := func(req *http.Request) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		routes.ServeHTTP(rr, req)
		return rr
	}

	for _, name := range []string{"alpha", "beta"} {
		req := httptest.NewRequest(http.MethodPut, "/api/v1/bot/"+name+"/", strings.NewReader(`{"docker_image":"registry/`+name+`"}`))
		req.Header.Set("Authorization", "Bearer secret")
		if rr := do(req); rr.Code != http.StatusOK {
			t.Fatalf("register %s: %d %s", name, rr.Code, rr.Body.String())
		}
	}
	unauth := httptest.NewRequest(http.MethodPut, "/api/v1/bot/gamma/", nil)
	if rr := do(unauth); rr.Code != http.StatusUnauthorized {
		t.Fatalf("register without token: %d", rr.Code)
	}

	ghost := uuid.NewString()
	rr := do(uploadRequest(t, "secret", "result", ghost+".tar.xz", resultBundle(t, ghost, "alpha", "gamma")))
	if rr.Code != http.StatusBadRequest || !strings.Contains(rr.Body.String(), `"unknown_bot"`) {
		t.Fatalf("unknown bot upload: %d %s", rr.Code, rr.Body.String())
	}

	id := uuid.NewString()
	if rr := do(uploadRequest(t, "secret", "result", id+".tar.xz", resultBundle(t, id, "beta", "alpha"))); rr.Code != http.StatusNoContent {
		t.Fatalf("upload: %d %s", rr.Code, rr.Body.String())
	}

	board := do(httptest.NewRequest(http.MethodGet, "/leaderboard/", nil)).Body.String()
	if b, a := strings.Index(board, "/bot/beta/"), strings.Index(board, "/bot/alpha/"); b < 0 || a < 0 || b > a {
		t.Fatalf("winner should lead the leaderboard:\n%s", board)
	}

	rr = do(httptest.NewRequest(http.MethodGet, "/bot/alpha/", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "/match/"+id+"/") {
		t.Fatalf("bot page: %d\n%s", rr.Code, rr.Body.String())
	}
	if rr := do(httptest.NewRequest(http.MethodGet, "/bot/nobody/", nil)); rr.Code != http.StatusNotFound {
		t.Fatalf("unknown bot page: %d", rr.Code)
	}

	rr = do(httptest.NewRequest(http.MethodGet, "/match/"+id+"/?raw=1", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `data-replay-url="/replays/`+id+`"`) {
		t.Fatalf("match page: %d\n%s", rr.Code, rr.Body.String())
	}

	rr = do(httptest.NewRequest(http.MethodGet, "/replays/"+id, nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("replay: %d", rr.Code)
	}
	text, err := replay.Inflate(rr.Body.Bytes())
	if err != nil || text != gametest.Default().JSON() {
		t.Fatalf("stored replay differs: %v", err)
	}
}
