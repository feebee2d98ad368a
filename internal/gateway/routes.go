package gateway

import (
	"net/http"
	"strings"

	"github.com/soyeahso/parley/internal/config"
	"github.com/soyeahso/parley/internal/domain"
)

// safeConfigPrefixes lists config path prefixes that can be read and
// written via RPC. All other paths are denied by default (allowlist).
var safeConfigPrefixes = []string{
	"gateway.port",
	"gateway.bind",
	"gateway.customBindHost",
	"logging",
	"timing",
	"prompt",
	"transcript",
}

func isAllowedConfigPath(key string) bool {
	for _, prefix := range safeConfigPrefixes {
		if key == prefix || strings.HasPrefix(key, prefix+".") {
			return true
		}
	}
	return false
}

// registerHTTPRoutes sets up all HTTP routes on the server mux.
func (s *Server) registerHTTPRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ws", s.handleWebSocket)

	// Catch-all for unknown routes
	mux.HandleFunc("/", handleNotFound)
}

// registerRPCHandlers sets up all RPC method handlers.
func (s *Server) registerRPCHandlers() {
	s.Handle("health", s.rpcHealth)
	s.Handle("config.get", s.rpcConfigGet)
	s.Handle("config.set", s.rpcConfigSet)
	s.Handle("conversation.status", s.rpcConversationStatus)
	s.Handle("conversation.send", s.rpcConversationSend)
	s.Handle("conversation.history", s.rpcConversationHistory)
	s.Handle("conversation.stop", s.rpcConversationStop)
	s.Handle("conversation.reset", s.rpcConversationReset)
	s.Handle("session.list", s.rpcSessionList)
	s.Handle("session.search", s.rpcSessionSearch)
}

// Built-in RPC handlers

func (s *Server) rpcHealth(rc *RequestContext) {
	rc.Respond(HealthResponse{
		Status:  "ok",
		Version: s.version,
		Clients: s.clients.Count(),
	})
}

type configGetParams struct {
	Key string `json:"key"`
}

func (s *Server) rpcConfigGet(rc *RequestContext) {
	var p configGetParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}
	if p.Key == "" {
		rc.RespondError("invalid_params", "key is required")
		return
	}
	if !isAllowedConfigPath(p.Key) {
		rc.RespondError("forbidden", "access denied for config path: "+p.Key)
		return
	}

	path, err := config.ParseConfigPath(p.Key)
	if err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}

	s.mu.RLock()
	val, ok := config.GetValueAtPath(s.configRaw, path)
	s.mu.RUnlock()
	if !ok {
		rc.RespondError("not_found", "key not found: "+p.Key)
		return
	}
	rc.Respond(map[string]any{"key": p.Key, "value": val})
}

type configSetParams struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

func (s *Server) rpcConfigSet(rc *RequestContext) {
	var p configSetParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}
	if p.Key == "" {
		rc.RespondError("invalid_params", "key is required")
		return
	}
	if !isAllowedConfigPath(p.Key) {
		rc.RespondError("forbidden", "cannot modify config path: "+p.Key)
		return
	}

	path, err := config.ParseConfigPath(p.Key)
	if err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}

	s.mu.Lock()
	config.SetValueAtPath(s.configRaw, path, p.Value)
	s.mu.Unlock()

	rc.Respond(map[string]any{"key": p.Key, "value": p.Value})
}

func (s *Server) rpcConversationStatus(rc *RequestContext) {
	if s.coord == nil {
		rc.RespondError("unavailable", "no conversation attached")
		return
	}
	rc.Respond(s.coord.Status())
}

type conversationSendParams struct {
	Text string `json:"text"`
}

func (s *Server) rpcConversationSend(rc *RequestContext) {
	if s.coord == nil {
		rc.RespondError("unavailable", "no conversation attached")
		return
	}

	var p conversationSendParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}
	if strings.TrimSpace(p.Text) == "" {
		rc.RespondError("invalid_params", "text is required")
		return
	}

	seq := s.coord.SendUserMessage(p.Text)
	rc.Respond(map[string]any{"sequence": seq})
}

type conversationHistoryParams struct {
	After int64 `json:"after"`
	Limit int   `json:"limit,omitempty"`
}

func (s *Server) rpcConversationHistory(rc *RequestContext) {
	if s.coord == nil {
		rc.RespondError("unavailable", "no conversation attached")
		return
	}

	var p conversationHistoryParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}

	msgs := s.coord.History(p.After)
	if p.Limit > 0 && len(msgs) > p.Limit {
		msgs = msgs[len(msgs)-p.Limit:]
	}
	rc.Respond(map[string]any{
		"messages": msgs,
		"sequence": s.coord.Session().Sequence(),
	})
}

func (s *Server) rpcConversationStop(rc *RequestContext) {
	if s.coord == nil {
		rc.RespondError("unavailable", "no conversation attached")
		return
	}
	s.coord.StopAll()
	rc.Respond(map[string]any{"stopped": true})
}

func (s *Server) rpcConversationReset(rc *RequestContext) {
	if s.coord == nil {
		rc.RespondError("unavailable", "no conversation attached")
		return
	}
	s.coord.ResetAll()
	rc.Respond(map[string]any{"reset": true})
}

func (s *Server) rpcSessionList(rc *RequestContext) {
	if s.store == nil {
		rc.RespondError("unavailable", "no store attached")
		return
	}
	sums, err := s.store.List()
	if err != nil {
		rc.RespondError("store_error", err.Error())
		return
	}
	if sums == nil {
		sums = []domain.SessionSummary{}
	}
	rc.Respond(map[string]any{"sessions": sums})
}

type sessionSearchParams struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

func (s *Server) rpcSessionSearch(rc *RequestContext) {
	if s.store == nil {
		rc.RespondError("unavailable", "no store attached")
		return
	}

	var p sessionSearchParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}
	if strings.TrimSpace(p.Query) == "" {
		rc.RespondError("invalid_params", "query is required")
		return
	}

	results, err := s.store.SearchMessages(p.Query, p.Limit)
	if err != nil {
		rc.RespondError("store_error", err.Error())
		return
	}
	rc.Respond(map[string]any{"results": results})
}
