package handlers

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/language"

	"tourney/internal/ingest"
	"tourney/internal/localtime"
	"tourney/internal/logging"
	"tourney/internal/page"
	"tourney/internal/storage"
	"tourney/internal/templates"
	"tourney/pkg/utils"
)

const (
	matchesPerPage = 20
	maxUploadBytes = 512 << 20
	maxRenderBytes = 8 << 20
)

// Handler contains dependencies for HTTP handlers
type Handler struct {
	Store       *storage.Store
	Pages       *page.Processor
	Lang        language.Tag
	Cache       *ReplayCache
	UploadToken string
}

// NewHandler creates a new handler instance
func NewHandler(store *storage.Store, pages *page.Processor, lang language.Tag, cache *ReplayCache, uploadToken string) *Handler {
	return &Handler{Store: store, Pages: pages, Lang: lang, Cache: cache, UploadToken: uploadToken}
}

// Routes registers every endpoint on a new mux.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", h.HandleIndex)
	mux.HandleFunc("GET /recent/", h.HandleMatchList)
	mux.HandleFunc("GET /match/{id}/", h.HandleMatch)
	mux.HandleFunc("GET /leaderboard/", h.HandleLeaderboard)
	mux.HandleFunc("GET /bot/{name}/", h.HandleBot)
	mux.HandleFunc("GET /replays/{id}", h.HandleReplay)
	mux.HandleFunc("POST /render", h.HandleRender)
	mux.HandleFunc("POST /api/v1/match-result/", h.HandleMatchResult)
	mux.HandleFunc("PUT /api/v1/bot/{name}/", h.HandleRegisterBot)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	return Recover(LogRequests(mux))
}

// processorFor returns the page processor localized for the request.
func (h *Handler) processorFor(r *http.Request) *page.Processor {
	if h.Pages == nil {
		return &page.Processor{}
	}
	p := *h.Pages
	if p.Localizer != nil {
		p.Localizer = p.Localizer.WithTag(localtime.ResolveTag(r, h.Lang))
	}
	return &p
}

// writePage renders a template and, unless raw, runs the page scan over it.
func (h *Handler) writePage(w http.ResponseWriter, r *http.Request, name string, data any, raw bool) {
	body, err := templates.Render(name, data)
	if err != nil {
		logging.Errorf("%v", err)
		http.Error(w, "template error", http.StatusInternalServerError)
		return
	}
	if !raw {
		var out bytes.Buffer
		if err := h.processorFor(r).Process(r.Context(), bytes.NewReader(body), &out); err != nil {
			logging.Errorf("process %s: %v", name, err)
		} else {
			body = out.Bytes()
		}
	}
	templates.WriteHTML(w, http.StatusOK, body)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	body, err := templates.Render("error", map[string]any{"Title": http.StatusText(status), "Message": msg})
	if err != nil {
		http.Error(w, msg, status)
		return
	}
	templates.WriteHTML(w, status, body)
}

func (h *Handler) storeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNoStore):
		h.writeError(w, http.StatusServiceUnavailable, "Match storage is not configured.")
	case errors.Is(err, storage.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "Not found.")
	default:
		logging.Errorf("storage: %v", err)
		h.writeError(w, http.StatusInternalServerError, "Something went wrong.")
	}
}

// HandleIndex serves the home page
func (h *Handler) HandleIndex(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Store.FetchStats(r.Context())
	if err != nil {
		logging.Errorf("fetch stats: %v", err)
	}
	h.writePage(w, r, "index", map[string]any{"Title": "Home", "Stats": stats}, true)
}

// HandleMatchList serves the recent matches page
func (h *Handler) HandleMatchList(w http.ResponseWriter, r *http.Request) {
	pageNum := pageParam(r)
	matches, err := h.Store.ListRecentMatches(r.Context(), matchesPerPage+1, (pageNum-1)*matchesPerPage)
	if err != nil {
		h.storeError(w, err)
		return
	}
	next := 0
	if len(matches) > matchesPerPage {
		matches = matches[:matchesPerPage]
		next = pageNum + 1
	}
	h.writePage(w, r, "matches", map[string]any{
		"Title":    "Recent matches",
		"Matches":  matches,
		"PrevPage": pageNum - 1,
		"NextPage": next,
	}, false)
}

func pageParam(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || n < 1 {
		return 1
	}
	return n
}

// HandleMatch serves a match page with its replay. With ?raw=1 the replay
// annotation is left for the browser.
func (h *Handler) HandleMatch(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.writeError(w, http.StatusNotFound, "Not found.")
		return
	}
	m, err := h.Store.LoadMatch(r.Context(), id)
	if err != nil {
		h.storeError(w, err)
		return
	}
	h.writePage(w, r, "match", map[string]any{
		"Title":     "Match " + m.ID.String(),
		"Match":     m,
		"ReplayURL": "/replays/" + m.ID.String(),
	}, r.URL.Query().Get("raw") == "1")
}

// HandleLeaderboard serves the bot ranking
func (h *Handler) HandleLeaderboard(w http.ResponseWriter, r *http.Request) {
	bots, err := h.Store.Leaderboard(r.Context())
	if err != nil {
		h.storeError(w, err)
		return
	}
	h.writePage(w, r, "leaderboard", map[string]any{"Title": "Leaderboard", "Bots": bots}, true)
}

// HandleBot serves a bot's page with its played matches
func (h *Handler) HandleBot(w http.ResponseWriter, r *http.Request) {
	bot, err := h.Store.BotByName(r.Context(), r.PathValue("name"))
	if err != nil {
		h.storeError(w, err)
		return
	}
	pageNum := pageParam(r)
	results, err := h.Store.BotResults(r.Context(), bot.ID, matchesPerPage+1, (pageNum-1)*matchesPerPage)
	if err != nil {
		h.storeError(w, err)
		return
	}
	next := 0
	if len(results) > matchesPerPage {
		results = results[:matchesPerPage]
		next = pageNum + 1
	}
	h.writePage(w, r, "bot", map[string]any{
		"Title":    bot.Name,
		"Bot":      bot,
		"Results":  results,
		"PrevPage": pageNum - 1,
		"NextPage": next,
	}, false)
}

// HandleReplay serves the stored gzip replay of a match
func (h *Handler) HandleReplay(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	var (
		data []byte
		name string
	)
	if h.Cache != nil {
		data, name, err = h.Cache.Get(r.Context(), id)
	} else {
		data, name, err = h.Store.Replay(r.Context(), id)
	}
	switch {
	case errors.Is(err, storage.ErrNotFound):
		http.NotFound(w, r)
		return
	case errors.Is(err, storage.ErrNoStore):
		http.Error(w, "storage not configured", http.StatusServiceUnavailable)
		return
	case err != nil:
		logging.Errorf("load replay %s: %v", id, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `inline; filename="`+utils.SafeFilename(name)+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "public, max-age=86400")
	_, _ = w.Write(data)
}

// HandleRender runs the page scan over a posted HTML document
func (h *Handler) HandleRender(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, maxRenderBytes)
	var out bytes.Buffer
	if err := h.processorFor(r).Process(r.Context(), body, &out); err != nil {
		WriteJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	templates.WriteHTML(w, http.StatusOK, out.Bytes())
}

// HandleMatchResult accepts a result bundle upload from a match run
func (h *Handler) HandleMatchResult(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(w, r) {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, hdr, err := r.FormFile("result")
	if err != nil {
		WriteJSON(w, http.StatusBadRequest, map[string]any{"detail": "Request missing 'result' file.", "code": "result_missing"})
		return
	}
	defer file.Close()

	bundle, err := ingest.ReadBundle(hdr.Filename, file)
	if errors.Is(err, ingest.ErrBadExtension) {
		WriteJSON(w, http.StatusBadRequest, map[string]any{"detail": "File has a bad extension.", "code": "bad_extension"})
		return
	}
	if err == nil {
		var (
			m       *storage.Match
			results []storage.ResultInput
		)
		if m, results, err = bundle.Records(); err == nil {
			err = h.Store.SaveMatch(r.Context(), m, results)
		}
	}
	if err != nil {
		logging.Errorf("Failed to process upload: %v", err)
		if errors.Is(err, storage.ErrNoStore) {
			WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"detail": "Storage is not configured.", "code": "unavailable"})
			return
		}
		if errors.Is(err, storage.ErrUnknownBot) {
			WriteJSON(w, http.StatusBadRequest, map[string]any{"detail": err.Error(), "code": "unknown_bot"})
			return
		}
		WriteJSON(w, http.StatusBadRequest, map[string]any{"detail": "Failed to process the file.", "code": "file_malformed"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleRegisterBot registers a bot by name, or updates its docker image
func (h *Handler) HandleRegisterBot(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(w, r) {
		return
	}
	var req struct {
		DockerImage string `json:"docker_image"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
			WriteJSON(w, http.StatusBadRequest, map[string]any{"detail": "Malformed request body.", "code": "parse_error"})
			return
		}
	}
	name := strings.TrimSpace(r.PathValue("name"))
	if name == "" {
		WriteJSON(w, http.StatusBadRequest, map[string]any{"detail": "Bot name is required.", "code": "invalid"})
		return
	}
	bot, err := h.Store.EnsureBot(r.Context(), name, req.DockerImage)
	if err != nil {
		if errors.Is(err, storage.ErrNoStore) {
			WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"detail": "Storage is not configured.", "code": "unavailable"})
			return
		}
		logging.Errorf("register bot %s: %v", name, err)
		WriteJSON(w, http.StatusInternalServerError, map[string]any{"detail": "Failed to register the bot.", "code": "error"})
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"name":         bot.Name,
		"docker_image": bot.DockerImage,
		"mu":           bot.Mu,
		"sigma":        bot.Sigma,
	})
}

// authorized checks the upload token, writing a 401 when it does not match.
// An empty configured token disables the API.
func (h *Handler) authorized(w http.ResponseWriter, r *http.Request) bool {
	if h.UploadToken != "" && validToken(r, h.UploadToken) {
		return true
	}
	WriteJSON(w, http.StatusUnauthorized, map[string]any{"detail": "Invalid token.", "code": "authentication_failed"})
	return false
}

func validToken(r *http.Request, want string) bool {
	auth := r.Header.Get("Authorization")
	for _, scheme := range []string{"Bearer ", "Token "} {
		if strings.HasPrefix(auth, scheme) {
			got := strings.TrimSpace(strings.TrimPrefix(auth, scheme))
			return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
		}
	}
	return false
}

// ClientIP extracts the client IP from the request
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
