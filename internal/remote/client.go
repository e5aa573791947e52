// Package remote is the client for an opencode-compatible server. It
// implements the engine's Remote interface plus the catalog read paths on
// top of the opencode Go SDK.
package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	opencode "github.com/sst/opencode-sdk-go"
	"github.com/sst/opencode-sdk-go/option"
	"github.com/tidwall/gjson"

	"github.com/opencode-ai/custodian/internal/event"
	"github.com/opencode-ai/custodian/internal/logging"
	"github.com/opencode-ai/custodian/internal/metrics"
	"github.com/opencode-ai/custodian/pkg/types"
)

// DefaultBaseURL is where a local opencode server listens.
const DefaultBaseURL = "http://localhost:4096"

// Config configures a Client.
type Config struct {
	BaseURL   string
	APIKey    string
	Directory string

	// HTTPClient is used for request/response calls. The event stream
	// always uses a client without a timeout.
	HTTPClient *http.Client

	Metrics *metrics.Metrics
	Logger  *zerolog.Logger
}

// Client talks to the server API.
type Client struct {
	api     *opencode.Client
	baseURL string
	stream  *http.Client
	maxLine int

	metrics *metrics.Metrics
	log     zerolog.Logger
}

type routeKey struct{}

// New creates a client. An empty BaseURL means DefaultBaseURL.
func New(cfg Config) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 60 * time.Second}
	}
	log := logging.Component("remote")
	if cfg.Logger != nil {
		log = cfg.Logger.With().Str("component", "remote").Logger()
	}
	c := &Client{
		baseURL: base,
		stream:  &http.Client{Transport: hc.Transport},
		maxLine: maxLineSize,
		metrics: cfg.Metrics,
		log:     log,
	}

	opts := []option.RequestOption{
		option.WithBaseURL(base + "/"),
		option.WithHTTPClient(hc),
		option.WithMaxRetries(0),
		option.WithMiddleware(c.observe),
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithHeader("authorization", fmt.Sprintf("Bearer %s", cfg.APIKey)))
	}
	if cfg.Directory != "" {
		opts = append(opts, option.WithQuery("directory", cfg.Directory))
	}
	c.api = opencode.NewClient(opts...)
	return c
}

// BaseURL returns the server address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ListSessions handles GET /session.
func (c *Client) ListSessions(ctx context.Context) ([]types.Session, error) {
	list, err := c.api.Session.List(route(ctx, "/session"), opencode.SessionListParams{})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	sessions := []types.Session{}
	if list == nil {
		return sessions, nil
	}
	for _, s := range *list {
		if s.ID != "" {
			sessions = append(sessions, toSession(s))
		}
	}
	return sessions, nil
}

// CreateSession handles POST /session.
func (c *Client) CreateSession(ctx context.Context) (types.Session, error) {
	s, err := c.api.Session.New(route(ctx, "/session"), opencode.SessionNewParams{})
	if err != nil {
		return types.Session{}, fmt.Errorf("create session: %w", err)
	}
	if s == nil || s.ID == "" {
		return types.Session{}, fmt.Errorf("create session: response has no id")
	}
	return toSession(*s), nil
}

// DeleteSession handles DELETE /session/{id}.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := c.api.Session.Delete(route(ctx, "/session/{id}"), sessionID, opencode.SessionDeleteParams{}); err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	return nil
}

// Messages handles GET /session/{id}/message. The body is decoded
// leniently so parts newer than the SDK's schema survive.
func (c *Client) Messages(ctx context.Context, sessionID string) ([]types.Message, error) {
	var body []byte
	_, err := c.api.Session.Messages(route(ctx, "/session/{id}/message"), sessionID,
		opencode.SessionMessagesParams{}, option.WithResponseBodyInto(&body))
	if err != nil {
		return nil, fmt.Errorf("load messages for %s: %w", sessionID, err)
	}
	msgs := []types.Message{}
	gjson.ParseBytes(body).ForEach(func(_, v gjson.Result) bool {
		if m := event.DecodeMessage(v); m.ID != "" {
			msgs = append(msgs, m)
		}
		return true
	})
	return msgs, nil
}

// Prompt handles POST /session/{id}/message and returns the assistant
// reply. Servers that stream the reply as JSON lines are supported; the
// last complete line wins.
func (c *Client) Prompt(ctx context.Context, sessionID string, req types.PromptRequest) (types.Message, error) {
	var body []byte
	_, err := c.api.Session.Prompt(route(ctx, "/session/{id}/message"), sessionID,
		promptParams(req), option.WithResponseBodyInto(&body))
	if err != nil {
		return types.Message{}, fmt.Errorf("prompt %s: %w", sessionID, err)
	}
	var last gjson.Result
	for _, line := range bytes.Split(body, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) > 0 && gjson.ValidBytes(line) {
			last = gjson.ParseBytes(line)
		}
	}
	if !last.Exists() {
		return types.Message{}, fmt.Errorf("prompt %s: empty response", sessionID)
	}
	return event.DecodeMessage(last), nil
}

// PromptAsync handles POST /session/{id}/prompt_async. The reply arrives
// through the event stream.
func (c *Client) PromptAsync(ctx context.Context, sessionID string, req types.PromptRequest) error {
	err := c.api.Post(route(ctx, "/session/{id}/prompt_async"), sessionPath(sessionID, "/prompt_async"), promptParams(req), nil)
	if err != nil {
		return fmt.Errorf("prompt %s: %w", sessionID, err)
	}
	return nil
}

// Abort handles POST /session/{id}/abort.
func (c *Client) Abort(ctx context.Context, sessionID string) error {
	if _, err := c.api.Session.Abort(route(ctx, "/session/{id}/abort"), sessionID, opencode.SessionAbortParams{}); err != nil {
		return fmt.Errorf("abort %s: %w", sessionID, err)
	}
	return nil
}

// Summarize handles POST /session/{id}/summarize. The model is optional
// here, unlike the SDK's typed params.
func (c *Client) Summarize(ctx context.Context, sessionID string, model *types.ModelRef) error {
	body := map[string]any{}
	if model != nil {
		body["providerID"] = model.ProviderID
		body["modelID"] = model.ModelID
	}
	if err := c.api.Post(route(ctx, "/session/{id}/summarize"), sessionPath(sessionID, "/summarize"), body, nil); err != nil {
		return fmt.Errorf("summarize %s: %w", sessionID, err)
	}
	return nil
}

// Command handles POST /session/{id}/command.
func (c *Client) Command(ctx context.Context, sessionID, command, arguments string) error {
	body := map[string]any{"command": command, "arguments": arguments}
	if err := c.api.Post(route(ctx, "/session/{id}/command"), sessionPath(sessionID, "/command"), body, nil); err != nil {
		return fmt.Errorf("run command %s: %w", command, err)
	}
	return nil
}

// ReplyPermission handles POST /session/{id}/permissions/{permissionID}.
func (c *Client) ReplyPermission(ctx context.Context, sessionID, permissionID string, response types.PermissionResponse) error {
	path := sessionPath(sessionID, "/permissions/"+url.PathEscape(permissionID))
	body := map[string]any{"response": string(response)}
	if err := c.api.Post(route(ctx, "/session/{id}/permissions/{permissionID}"), path, body, nil); err != nil {
		return fmt.Errorf("reply to permission %s: %w", permissionID, err)
	}
	return nil
}

// ReplyQuestion handles POST /question/{id}/reply.
func (c *Client) ReplyQuestion(ctx context.Context, requestID string, answers [][]string) error {
	if answers == nil {
		answers = [][]string{}
	}
	path := "question/" + url.PathEscape(requestID) + "/reply"
	if err := c.api.Post(route(ctx, "/question/{id}/reply"), path, map[string]any{"answers": answers}, nil); err != nil {
		return fmt.Errorf("answer question %s: %w", requestID, err)
	}
	return nil
}

// RejectQuestion handles POST /question/{id}/reject.
func (c *Client) RejectQuestion(ctx context.Context, requestID string) error {
	path := "question/" + url.PathEscape(requestID) + "/reject"
	if err := c.api.Post(route(ctx, "/question/{id}/reject"), path, nil, nil); err != nil {
		return fmt.Errorf("reject question %s: %w", requestID, err)
	}
	return nil
}

// ListProviders handles GET /config/providers. Models may be keyed by id
// or listed as an array.
func (c *Client) ListProviders(ctx context.Context) ([]types.ProviderInfo, error) {
	var body []byte
	if err := c.api.Get(route(ctx, "/config/providers"), "config/providers", nil, &body); err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	parsed := gjson.ParseBytes(body)
	list := parsed.Get("providers")
	if !list.Exists() {
		list = parsed
	}
	providers := []types.ProviderInfo{}
	list.ForEach(func(_, p gjson.Result) bool {
		info := types.ProviderInfo{ID: p.Get("id").String(), Name: p.Get("name").String()}
		if info.ID == "" {
			return true
		}
		if info.Name == "" {
			info.Name = info.ID
		}
		p.Get("models").ForEach(func(key, m gjson.Result) bool {
			model := types.ModelInfo{ID: m.Get("id").String(), Name: m.Get("name").String()}
			if model.ID == "" {
				model.ID = key.String()
			}
			if model.ID == "" {
				return true
			}
			if model.Name == "" {
				model.Name = model.ID
			}
			info.Models = append(info.Models, model)
			return true
		})
		providers = append(providers, info)
		return true
	})
	return providers, nil
}

// ListCommands handles GET /command.
func (c *Client) ListCommands(ctx context.Context) ([]types.SlashCommand, error) {
	var body []byte
	if err := c.api.Get(route(ctx, "/command"), "command", nil, &body); err != nil {
		return nil, fmt.Errorf("list commands: %w", err)
	}
	cmds := []types.SlashCommand{}
	gjson.ParseBytes(body).ForEach(func(_, v gjson.Result) bool {
		name := v.Get("name").String()
		if name == "" {
			return true
		}
		cmds = append(cmds, types.SlashCommand{Name: name, Description: v.Get("description").String()})
		return true
	})
	return cmds, nil
}

func toSession(s opencode.Session) types.Session {
	return types.Session{
		ID:        s.ID,
		Title:     s.Title,
		CreatedAt: int64(s.Time.Created),
	}
}

func promptParams(req types.PromptRequest) opencode.SessionPromptParams {
	params := opencode.SessionPromptParams{
		Parts: opencode.F([]opencode.SessionPromptParamsPartUnion{
			opencode.SessionPromptParamsPart{
				Type: opencode.F(opencode.SessionPromptParamsPartsTypeText),
				Text: opencode.F(req.Text),
			},
		}),
	}
	if req.Model != nil {
		params.Model = opencode.F(opencode.SessionPromptParamsModel{
			ModelID:    opencode.F(req.Model.ModelID),
			ProviderID: opencode.F(req.Model.ProviderID),
		})
	}
	if req.Agent != "" {
		params.Agent = opencode.F(req.Agent)
	}
	return params
}

// sessionPath is relative to the base URL, as the SDK expects.
func sessionPath(sessionID, suffix string) string {
	return "session/" + url.PathEscape(sessionID) + suffix
}

// route tags ctx with the metrics label for the request made under it.
func route(ctx context.Context, r string) context.Context {
	return context.WithValue(ctx, routeKey{}, r)
}

// observe is the SDK middleware: it records metrics, logs each request
// and turns non-2xx responses into *APIError.
func (c *Client) observe(req *http.Request, next option.MiddlewareNext) (*http.Response, error) {
	r, _ := req.Context().Value(routeKey{}).(string)
	if r == "" {
		r = req.URL.Path
	}
	start := time.Now()
	resp, err := next(req)
	if err != nil {
		c.metrics.Request(req.Method, r, 0, time.Since(start))
		c.log.Debug().Err(err).Str("method", req.Method).Str("route", r).Msg("request failed")
		return nil, fmt.Errorf("request failed: %w", err)
	}
	c.metrics.Request(req.Method, r, resp.StatusCode, time.Since(start))
	c.log.Debug().
		Str("method", req.Method).
		Str("route", r).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("request")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		resp.Body.Close()
		return nil, newAPIError(resp.StatusCode, body)
	}
	return resp, nil
}
