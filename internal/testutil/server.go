// Package testutil provides an in-process opencode-compatible server for
// tests. It keeps sessions and messages in memory, records every request,
// streams emitted envelopes over SSE and can inject failures per operation.
package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/opencode-ai/custodian/internal/logging"
	"github.com/opencode-ai/custodian/pkg/types"
)

// Operation names used by Fail and Request.Op.
const (
	OpListSessions    = "session.list"
	OpCreateSession   = "session.create"
	OpDeleteSession   = "session.delete"
	OpMessages        = "session.messages"
	OpPrompt          = "session.prompt"
	OpPromptAsync     = "session.prompt_async"
	OpAbort           = "session.abort"
	OpSummarize       = "session.summarize"
	OpCommand         = "session.command"
	OpPermission      = "permission.reply"
	OpQuestionReply   = "question.reply"
	OpQuestionReject  = "question.reject"
	OpListProviders   = "config.providers"
	OpListCommands    = "command.list"
	OpEvents          = "event"
)

// Request is a recorded call.
type Request struct {
	Op            string
	Method        string
	Path          string
	SessionID     string
	Directory     string
	Authorization string
	Body          json.RawMessage
}

// StoredMessage is a message as the server returns it from history.
type StoredMessage struct {
	Info  map[string]any   `json:"info"`
	Parts []map[string]any `json:"parts"`
}

type subscriber struct {
	ch   chan []byte
	done chan struct{}
}

// Option configures a FakeServer.
type Option func(*FakeServer)

// WithAPIKey makes every route require "Authorization: Bearer <key>".
func WithAPIKey(key string) Option {
	return func(f *FakeServer) { f.apiKey = key }
}

// WithAutoReply makes prompts produce a scripted assistant reply with the
// given text over the event stream.
func WithAutoReply(text string) Option {
	return func(f *FakeServer) { f.autoReply = text }
}

// FakeServer is an httptest server speaking the opencode API.
type FakeServer struct {
	URL string

	srv    *httptest.Server
	router *chi.Mux
	log    zerolog.Logger

	apiKey    string
	autoReply string

	mu          sync.Mutex
	sessions    []types.Session
	messages    map[string][]StoredMessage
	providers   []types.ProviderInfo
	commands    []types.SlashCommand
	failures    map[string]int
	historyHold map[string]chan struct{}
	requests    []Request
	subs        map[*subscriber]struct{}
	nextCreated int64
}

// NewFakeServer starts a server. Call Close when done.
func NewFakeServer(opts ...Option) *FakeServer {
	f := &FakeServer{
		router:      chi.NewRouter(),
		log:         logging.Component("fakeserver"),
		messages:    make(map[string][]StoredMessage),
		failures:    make(map[string]int),
		historyHold: make(map[string]chan struct{}),
		subs:        make(map[*subscriber]struct{}),
		nextCreated: time.Now().UnixMilli(),
		providers: []types.ProviderInfo{
			{ID: "anthropic", Name: "Anthropic", Models: []types.ModelInfo{
				{ID: "claude-sonnet-4", Name: "Claude Sonnet 4"},
				{ID: "claude-haiku-4", Name: "Claude Haiku 4"},
			}},
			{ID: "openai", Name: "OpenAI", Models: []types.ModelInfo{
				{ID: "gpt-4o", Name: "GPT-4o"},
			}},
		},
		commands: []types.SlashCommand{
			{Name: "init", Description: "create AGENTS.md"},
			{Name: "review", Description: "review changes"},
		},
	}
	for _, opt := range opts {
		opt(f)
	}
	f.setupMiddleware()
	f.setupRoutes()
	f.srv = httptest.NewServer(f.router)
	f.URL = f.srv.URL
	return f
}

// Close ends open event streams and shuts the server down.
func (f *FakeServer) Close() {
	f.DropStreams()
	f.srv.Close()
}

func (f *FakeServer) setupMiddleware() {
	f.router.Use(middleware.RequestID)
	f.router.Use(middleware.Recoverer)
	f.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))
	f.router.Use(f.auth)
}

func (f *FakeServer) setupRoutes() {
	r := f.router

	r.Route("/session", func(r chi.Router) {
		r.Get("/", f.handle(OpListSessions, f.listSessions))
		r.Post("/", f.handle(OpCreateSession, f.createSession))

		r.Route("/{sessionID}", func(r chi.Router) {
			r.Delete("/", f.handle(OpDeleteSession, f.deleteSession))
			r.Get("/message", f.handle(OpMessages, f.getMessages))
			r.Post("/message", f.handle(OpPrompt, f.prompt))
			r.Post("/prompt_async", f.handle(OpPromptAsync, f.promptAsync))
			r.Post("/abort", f.handle(OpAbort, f.ok))
			r.Post("/summarize", f.handle(OpSummarize, f.ok))
			r.Post("/command", f.handle(OpCommand, f.ok))
			r.Post("/permissions/{permissionID}", f.handle(OpPermission, f.replyPermission))
		})
	})

	r.Route("/question/{requestID}", func(r chi.Router) {
		r.Post("/reply", f.handle(OpQuestionReply, f.replyQuestion))
		r.Post("/reject", f.handle(OpQuestionReject, f.rejectQuestion))
	})

	r.Get("/config/providers", f.handle(OpListProviders, f.listProviders))
	r.Get("/command", f.handle(OpListCommands, f.listCommands))
	r.Get("/event", f.handle(OpEvents, f.events))
}

func (f *FakeServer) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if f.apiKey != "" && r.Header.Get("Authorization") != "Bearer "+f.apiKey {
			writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid api key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handle records the request and applies an injected failure for op.
func (f *FakeServer) handle(op string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body []byte
		if r.Body != nil {
			body, _ = io.ReadAll(r.Body)
			r.Body = io.NopCloser(strings.NewReader(string(body)))
		}
		req := Request{
			Op:            op,
			Method:        r.Method,
			Path:          r.URL.Path,
			SessionID:     chi.URLParam(r, "sessionID"),
			Directory:     r.URL.Query().Get("directory"),
			Authorization: r.Header.Get("Authorization"),
		}
		if len(body) > 0 {
			req.Body = json.RawMessage(body)
		}

		f.mu.Lock()
		f.requests = append(f.requests, req)
		status, failing := f.failures[op]
		f.mu.Unlock()

		f.log.Debug().Str("op", op).Str("path", r.URL.Path).Msg("request")

		if failing {
			writeError(w, status, codeForStatus(status), op+" failed")
			return
		}
		h(w, r)
	}
}

// Fail makes op answer with status until Recover is called.
func (f *FakeServer) Fail(op string, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = status
}

// Recover removes an injected failure.
func (f *FakeServer) Recover(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.failures, op)
}

// HoldHistory delays GET /session/{id}/message for sessionID until the
// returned release func is called.
func (f *FakeServer) HoldHistory(sessionID string) (release func()) {
	ch := make(chan struct{})
	f.mu.Lock()
	f.historyHold[sessionID] = ch
	f.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.historyHold, sessionID)
			f.mu.Unlock()
			close(ch)
		})
	}
}

// Requests returns the recorded calls, optionally filtered by op.
func (f *FakeServer) Requests(ops ...string) []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(ops) == 0 {
		return slices.Clone(f.requests)
	}
	var out []Request
	for _, r := range f.requests {
		if slices.Contains(ops, r.Op) {
			out = append(out, r)
		}
	}
	return out
}

// AddSession creates a session directly in the store.
func (f *FakeServer) AddSession(title string) types.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addSessionLocked(title)
}

func (f *FakeServer) addSessionLocked(title string) types.Session {
	f.nextCreated++
	s := types.Session{ID: newID("ses"), Title: title, CreatedAt: f.nextCreated}
	f.sessions = append(f.sessions, s)
	return s
}

// Sessions returns the stored sessions.
func (f *FakeServer) Sessions() []types.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.sessions)
}

// AddMessage appends a message to a session's history.
func (f *FakeServer) AddMessage(sessionID string, msg StoredMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[sessionID] = append(f.messages[sessionID], msg)
}

// SetProviders replaces the provider list.
func (f *FakeServer) SetProviders(providers []types.ProviderInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.providers = providers
}

// SetCommands replaces the command list.
func (f *FakeServer) SetCommands(commands []types.SlashCommand) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = commands
}

// Emit broadcasts {type, properties} to every attached stream.
func (f *FakeServer) Emit(eventType string, properties any) {
	data, err := json.Marshal(Envelope{Type: eventType, Properties: properties})
	if err != nil {
		f.log.Error().Err(err).Str("eventType", eventType).Msg("failed to marshal event")
		return
	}
	f.EmitRaw(data)
}

// EmitRaw broadcasts data verbatim.
func (f *FakeServer) EmitRaw(data []byte) {
	f.mu.Lock()
	subs := make([]*subscriber, 0, len(f.subs))
	for s := range f.subs {
		subs = append(subs, s)
	}
	f.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- data:
		case <-s.done:
		}
	}
}

// Subscribers reports how many event streams are attached.
func (f *FakeServer) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// DropStreams ends every attached event stream cleanly.
func (f *FakeServer) DropStreams() {
	f.mu.Lock()
	subs := f.subs
	f.subs = make(map[*subscriber]struct{})
	f.mu.Unlock()
	for s := range subs {
		close(s.done)
	}
}

func (f *FakeServer) subscribe() *subscriber {
	s := &subscriber{ch: make(chan []byte, 256), done: make(chan struct{})}
	f.mu.Lock()
	f.subs[s] = struct{}{}
	f.mu.Unlock()
	return s
}

func (f *FakeServer) unsubscribe(s *subscriber) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subs[s]; ok {
		delete(f.subs, s)
		close(s.done)
	}
}

func (f *FakeServer) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions := f.Sessions()
	out := make([]map[string]any, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, sessionInfo(s))
	}
	writeJSON(w, http.StatusOK, out)
}

func (f *FakeServer) createSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title string `json:"title"`
	}
	json.NewDecoder(r.Body).Decode(&body)

	f.mu.Lock()
	s := f.addSessionLocked(body.Title)
	f.mu.Unlock()

	f.Emit("session.created", map[string]any{"info": sessionInfo(s)})
	writeJSON(w, http.StatusOK, sessionInfo(s))
}

func (f *FakeServer) deleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	f.mu.Lock()
	i := slices.IndexFunc(f.sessions, func(s types.Session) bool { return s.ID == id })
	if i < 0 {
		f.mu.Unlock()
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "session not found")
		return
	}
	s := f.sessions[i]
	f.sessions = slices.Delete(f.sessions, i, i+1)
	delete(f.messages, id)
	f.mu.Unlock()

	f.Emit("session.deleted", map[string]any{"info": sessionInfo(s)})
	writeSuccess(w)
}

func (f *FakeServer) getMessages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	f.mu.Lock()
	hold := f.historyHold[id]
	f.mu.Unlock()
	if hold != nil {
		select {
		case <-hold:
		case <-r.Context().Done():
			return
		}
	}

	f.mu.Lock()
	if !f.hasSessionLocked(id) {
		f.mu.Unlock()
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "session not found")
		return
	}
	msgs := slices.Clone(f.messages[id])
	f.mu.Unlock()
	if msgs == nil {
		msgs = []StoredMessage{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

type promptBody struct {
	Parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"parts"`
	Model *types.ModelRef `json:"model"`
}

func (p promptBody) text() string {
	var sb strings.Builder
	for _, part := range p.Parts {
		if part.Type == "text" {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}

func (f *FakeServer) decodePrompt(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	id := chi.URLParam(r, "sessionID")
	var body promptBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.Parts) == 0 {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "parts are required")
		return "", "", false
	}
	f.mu.Lock()
	ok := f.hasSessionLocked(id)
	f.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "session not found")
		return "", "", false
	}
	return id, body.text(), true
}

func (f *FakeServer) prompt(w http.ResponseWriter, r *http.Request) {
	id, text, ok := f.decodePrompt(w, r)
	if !ok {
		return
	}
	reply := f.runTurn(id, text)
	writeJSON(w, http.StatusOK, reply)
}

func (f *FakeServer) promptAsync(w http.ResponseWriter, r *http.Request) {
	id, text, ok := f.decodePrompt(w, r)
	if !ok {
		return
	}
	go f.runTurn(id, text)
	w.WriteHeader(http.StatusNoContent)
}

// runTurn stores the user message and, with auto reply enabled, streams
// an assistant reply. Parts are emitted before their message so clients
// see out-of-order delivery.
func (f *FakeServer) runTurn(sessionID, text string) StoredMessage {
	userID := newID("msg")
	user := StoredMessage{
		Info: map[string]any{"id": userID, "sessionID": sessionID, "role": "user"},
		Parts: []map[string]any{{
			"id": newID("prt"), "messageID": userID, "sessionID": sessionID, "type": "text", "text": text,
		}},
	}
	f.AddMessage(sessionID, user)
	f.Emit("message.part.updated", map[string]any{"part": user.Parts[0]})
	f.Emit("message.updated", map[string]any{"info": user.Info})

	if f.autoReply == "" {
		return user
	}

	f.Emit("session.status", map[string]any{"sessionID": sessionID, "status": map[string]any{"type": "busy"}})

	asstID := newID("msg")
	partID := newID("prt")
	f.Emit("message.part.updated", map[string]any{"part": map[string]any{
		"id": partID, "messageID": asstID, "sessionID": sessionID, "type": "text", "text": "",
	}})
	info := map[string]any{"id": asstID, "sessionID": sessionID, "role": "assistant"}
	f.Emit("message.updated", map[string]any{"info": info})

	words := strings.SplitAfter(f.autoReply, " ")
	for _, word := range words {
		f.Emit("message.part.delta", map[string]any{
			"sessionID": sessionID, "messageID": asstID, "partID": partID, "field": "text", "delta": word,
		})
	}

	reply := StoredMessage{
		Info: info,
		Parts: []map[string]any{{
			"id": partID, "messageID": asstID, "sessionID": sessionID, "type": "text", "text": f.autoReply,
		}},
	}
	f.AddMessage(sessionID, reply)
	f.Emit("message.part.updated", map[string]any{"part": reply.Parts[0]})
	f.Emit("session.idle", map[string]any{"sessionID": sessionID})
	return reply
}

func (f *FakeServer) replyPermission(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Response string `json:"response"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || !types.PermissionResponse(body.Response).Valid() {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid response")
		return
	}
	f.Emit("permission.replied", map[string]any{
		"sessionID":    chi.URLParam(r, "sessionID"),
		"permissionID": chi.URLParam(r, "permissionID"),
		"response":     body.Response,
	})
	writeSuccess(w)
}

func (f *FakeServer) replyQuestion(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Answers [][]string `json:"answers"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid answers")
		return
	}
	f.Emit("question.replied", map[string]any{"requestID": chi.URLParam(r, "requestID")})
	writeSuccess(w)
}

func (f *FakeServer) rejectQuestion(w http.ResponseWriter, r *http.Request) {
	f.Emit("question.rejected", map[string]any{"requestID": chi.URLParam(r, "requestID")})
	writeSuccess(w)
}

func (f *FakeServer) listProviders(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	providers := slices.Clone(f.providers)
	f.mu.Unlock()

	type model struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	type provider struct {
		ID     string           `json:"id"`
		Name   string           `json:"name"`
		Models map[string]model `json:"models"`
	}
	out := make([]provider, 0, len(providers))
	defaults := make(map[string]string)
	for _, p := range providers {
		models := make(map[string]model, len(p.Models))
		for _, m := range p.Models {
			models[m.ID] = model{ID: m.ID, Name: m.Name}
		}
		if len(p.Models) > 0 {
			defaults[p.ID] = p.Models[0].ID
		}
		out = append(out, provider{ID: p.ID, Name: p.Name, Models: models})
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": out, "default": defaults})
}

func (f *FakeServer) listCommands(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	writeJSON(w, http.StatusOK, f.commands)
}

func (f *FakeServer) ok(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w)
}

func (f *FakeServer) hasSessionLocked(id string) bool {
	return slices.ContainsFunc(f.sessions, func(s types.Session) bool { return s.ID == id })
}

func sessionInfo(s types.Session) map[string]any {
	return map[string]any{
		"id":    s.ID,
		"title": s.Title,
		"time":  map[string]any{"created": s.CreatedAt, "updated": s.CreatedAt},
	}
}

// newID returns prefix_<lowercase ulid>, the server's id shape.
func newID(prefix string) string {
	return prefix + "_" + strings.ToLower(ulid.Make().String())
}
