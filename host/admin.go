package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/partyhost/command"
	"github.com/hazyhaar/partyhost/kit"
	"github.com/hazyhaar/partyhost/observability"
	"github.com/hazyhaar/partyhost/shield"
)

// Endpoints are the operator operations, shared by the HTTP and MCP
// surfaces.
type Endpoints struct {
	Status  kit.Endpoint
	Recover kit.Endpoint
	Inject  kit.Endpoint
}

// RecoverResponse acknowledges a forced recovery request.
type RecoverResponse struct {
	Forced bool `json:"forced"`
}

// NewEndpoints wraps the host operations with panic recovery and logging.
func NewEndpoints(h *Host, logger *slog.Logger) Endpoints {
	wrap := func(name string, ep kit.Endpoint) kit.Endpoint {
		return kit.Chain(kit.Logging(logger, name), kit.Recovery(logger))(ep)
	}
	return Endpoints{
		Status: wrap("status", func(context.Context, any) (any, error) {
			return h.Status(), nil
		}),
		Recover: wrap("recover", func(ctx context.Context, _ any) (any, error) {
			h.ForceRecovery()
			h.adminEvent(ctx, "force_recover", nil, nil)
			return RecoverResponse{Forced: true}, nil
		}),
		Inject: wrap("inject", func(ctx context.Context, req any) (any, error) {
			in, ok := req.(InjectRequest)
			if !ok {
				return nil, fmt.Errorf("%w: unexpected request %T", ErrBadRequest, req)
			}
			resp, err := h.Inject(in)
			h.adminEvent(ctx, "inject", map[string]any{"line": in.Line}, err)
			return resp, err
		}),
	}
}

func (h *Host) adminEvent(ctx context.Context, action string, details map[string]any, err error) {
	if h.deps.Events == nil {
		return
	}
	if err != nil {
		if details == nil {
			details = map[string]any{}
		}
		details["error"] = err.Error()
	}
	h.deps.Events.Log(ctx, observability.Event{
		Type: observability.EventAdmin, Component: "admin", Actor: "operator",
		Subject: kit.GetTransport(ctx), Action: action, Details: details, Success: err == nil,
	})
}

// NewAdminHandler builds the operator router: GET /health, GET /status,
// POST /recover, POST /inject and, when withMCP is set, the MCP streamable
// HTTP endpoint at /mcp.
func NewAdminHandler(h *Host, withMCP bool, logger *slog.Logger) http.Handler {
	eps := NewEndpoints(h, logger)
	r := chi.NewRouter()
	for _, mw := range shield.AdminStack(logger) {
		r.Use(mw)
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		st := h.budget.State()
		code, status := http.StatusOK, "ok"
		if st.Failures > 0 {
			status = "degraded"
		}
		if st.Failures >= st.Threshold {
			code, status = http.StatusServiceUnavailable, "restart_required"
		}
		writeJSON(w, code, map[string]any{"status": status, "cycle": h.Cycle(), "failures": st.Failures})
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		resp, err := eps.Status(kit.WithTransport(r.Context(), "http"), nil)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	})

	r.Post("/recover", func(w http.ResponseWriter, r *http.Request) {
		resp, err := eps.Recover(kit.WithTransport(r.Context(), "http"), nil)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusAccepted, resp)
	})

	r.Post("/inject", func(w http.ResponseWriter, r *http.Request) {
		var req InjectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
			return
		}
		resp, err := eps.Inject(kit.WithTransport(r.Context(), "http"), req)
		switch {
		case err == nil:
			writeJSON(w, http.StatusAccepted, resp)
		case errors.Is(err, ErrBadRequest):
			writeError(w, http.StatusBadRequest, err)
		case errors.Is(err, command.ErrQueueFull):
			writeError(w, http.StatusServiceUnavailable, err)
		default:
			writeError(w, http.StatusInternalServerError, err)
		}
	})

	if withMCP {
		srv := NewMCPServer(eps)
		mcpHandler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return srv }, nil)
		r.Handle("/mcp", mcpHandler)
	}
	return r
}

// NewMCPServer exposes the operator endpoints as MCP tools.
func NewMCPServer(eps Endpoints) *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{Name: "partyhost", Version: "v1.0.0"}, nil)
	kit.RegisterMCPTool[struct{}](srv, &mcp.Tool{
		Name:        "host_status",
		Description: "Report the host loop state: cycle count, stream counters, open UI session, last recovery outcome and error budget.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}, eps.Status)
	kit.RegisterMCPTool[struct{}](srv, &mcp.Tool{
		Name:        "host_force_recover",
		Description: "Run a recovery step on the next cycle, ignoring the action cooldown.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}, eps.Recover)
	kit.RegisterMCPTool[InjectRequest](srv, &mcp.Tool{
		Name:        "host_inject",
		Description: "Queue a chat command (e.g. \":say hello\") for the next cycle.",
		InputSchema: inputSchema(map[string]any{
			"line":       map[string]any{"type": "string", "description": "Command line including the sigil"},
			"originator": map[string]any{"type": "string", "description": "User the reply is addressed to"},
		}, []string{"line"}),
	}, eps.Inject)
	return srv
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
