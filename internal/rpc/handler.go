// internal/rpc/handler.go
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/markb/pgcall/internal/log"
	"github.com/markb/pgcall/internal/observability"
	"github.com/markb/pgcall/internal/pgfunc"
)

// Conn is satisfied by *sql.DB. The pool hands each request its own connection.
type Conn interface {
	pgfunc.Queryer
	pgfunc.Preparer
}

// Handler serves function descriptors and calls over HTTP.
type Handler struct {
	conn       Conn
	aggregates map[string]bool
	tel        *observability.Telemetry
}

// NewHandler creates a new RPC handler. Running aggregates are accepted only
// when their expression is listed in allowedAggregates.
func NewHandler(conn Conn, allowedAggregates []string) *Handler {
	allowed := make(map[string]bool, len(allowedAggregates))
	for _, agg := range allowedAggregates {
		if agg = strings.TrimSpace(agg); agg != "" {
			allowed[agg] = true
		}
	}
	return &Handler{conn: conn, aggregates: allowed}
}

// SetTelemetry enables spans and call metrics for catalog lookups and
// invocations. A nil tel disables them.
func (h *Handler) SetTelemetry(tel *observability.Telemetry) {
	h.tel = tel
}

// Routes registers the handler on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/rpc/{name}", h.HandleDescribe)
	r.Post("/rpc/{name}", h.HandleCall)
	r.Get("/rpc/{schema}/{name}", h.HandleDescribe)
	r.Post("/rpc/{schema}/{name}", h.HandleCall)
}

// CallRequest is the JSON body accepted by HandleCall.
type CallRequest struct {
	Args    []any              `json:"args"`
	OrderBy []string           `json:"order_by"`
	Running []RunningAggregate `json:"running"`
}

// RunningAggregate is the JSON form of pgfunc.RunningAggregate.
type RunningAggregate struct {
	Agg   string `json:"agg"`
	Alias string `json:"alias"`
}

// HandleDescribe handles GET /rpc/{schema}/{name}.
func (h *Handler) HandleDescribe(w http.ResponseWriter, r *http.Request) {
	opts := pgfunc.DiscoverOptions{
		Schema:         chi.URLParam(r, "schema"),
		Name:           chi.URLParam(r, "name"),
		FirstArgType:   r.URL.Query().Get("first_arg_type"),
		FirstArgSchema: r.URL.Query().Get("first_arg_schema"),
	}

	ctx, done := h.tel.StartCall(r.Context(), "discover", opts.Schema, opts.Name)
	desc, err := pgfunc.Discover(ctx, h.conn, opts)
	done(err)
	if err != nil {
		h.writeFuncError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(desc)
}

// HandleCall handles POST /rpc/{schema}/{name}.
func (h *Handler) HandleCall(w http.ResponseWriter, r *http.Request) {
	var req CallRequest
	if r.Body != nil && r.ContentLength != 0 {
		dec := json.NewDecoder(r.Body)
		dec.UseNumber()
		if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			h.writeError(w, http.StatusBadRequest, "PGRST000", "Invalid JSON body")
			return
		}
	}

	call := pgfunc.Call{
		Schema:  chi.URLParam(r, "schema"),
		Name:    chi.URLParam(r, "name"),
		Args:    make([]any, len(req.Args)),
		OrderBy: req.OrderBy,
	}
	for i, arg := range req.Args {
		call.Args[i] = toArgument(arg)
	}
	for _, ra := range req.Running {
		if !h.aggregates[ra.Agg] {
			h.writeError(w, http.StatusBadRequest, "PGRST100", fmt.Sprintf("Running aggregate not allowed: %q", ra.Agg))
			return
		}
		call.RunningAggregates = append(call.RunningAggregates, pgfunc.RunningAggregate{Agg: ra.Agg, Alias: ra.Alias})
	}

	result, err := h.invoke(r.Context(), call)
	if err != nil {
		h.writeFuncError(w, r, err)
		return
	}

	if strings.Contains(r.Header.Get("Prefer"), "return=minimal") {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	data := make([]map[string]any, len(result))
	for i, row := range result {
		data[i] = row.JSONMap()
	}

	if strings.Contains(r.Header.Get("Accept"), "application/vnd.pgrst.object+json") {
		if len(data) != 1 {
			h.writeError(w, http.StatusNotAcceptable, "PGRST116", "JSON object requested, multiple (or no) rows returned")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(data[0])
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (h *Handler) invoke(ctx context.Context, call pgfunc.Call) (result []pgfunc.Row, err error) {
	ctx, done := h.tel.StartCall(ctx, "invoke", call.Schema, call.Name)
	defer func() { done(err) }()

	rows, err := pgfunc.Invoke(ctx, h.conn, call)
	if err != nil {
		return nil, err
	}
	return rows.Collect()
}

// toArgument maps a decoded JSON value onto the pgfunc argument protocol.
// Numbers keep their exact text, objects and arrays are sent as jsonb, and
// {"cast": ..., "value": ...} records become casts.
func toArgument(v any) any {
	switch t := v.(type) {
	case json.Number:
		return t.String()
	case map[string]any:
		if typ, ok := t["cast"].(string); ok && len(t) == 2 {
			if value, ok := t["value"]; ok {
				return pgfunc.Cast{Type: typ, Value: toArgument(value)}
			}
		}
		return pgfunc.Typed{Value: t, OID: pgtype.JSONBOID}
	case []any:
		return pgfunc.Typed{Value: t, OID: pgtype.JSONBOID}
	}
	return v
}

// writeFuncError maps pgfunc error kinds onto PostgREST-style responses.
func (h *Handler) writeFuncError(w http.ResponseWriter, r *http.Request, err error) {
	var fe *pgfunc.Error
	if !errors.As(err, &fe) {
		h.writeError(w, http.StatusInternalServerError, "PGRST500", err.Error())
		return
	}

	log.Warn("rpc failed",
		"request_id", log.GetRequestID(r.Context()),
		"subject", log.GetSubject(r.Context()),
		"kind", fe.Kind.String(),
		"error", err,
	)
	switch fe.Kind {
	case pgfunc.KindNotFound:
		h.writeError(w, http.StatusNotFound, "PGRST202", err.Error())
	case pgfunc.KindAmbiguous:
		h.writeError(w, http.StatusMultipleChoices, "PGRST203", err.Error())
	case pgfunc.KindPreparation:
		h.writeError(w, http.StatusBadRequest, "PGRST100", err.Error())
	default:
		h.writeError(w, http.StatusInternalServerError, "PGRST500", err.Error())
	}
}

// writeError writes a PostgREST-compatible error response.
func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"code":    code,
		"message": message,
		"details": nil,
		"hint":    nil,
	})
}
