package http

import (
	"bytes"
	"errors"
	"html/template"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"ledger/internal/core"
	"ledger/internal/gateway"
	"ledger/internal/log"
	"ledger/internal/reconcile"
)

var templateFuncs = template.FuncMap{
	"money": core.FormatAmount,
	"plain": func(d decimal.Decimal) string { return d.StringFixed(2) },
	"derefID": func(id *int64) int64 {
		if id == nil {
			return 0
		}
		return *id
	},
}

// sanitizeInput removes control characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

func isHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}

// userMessage turns any handler error into text safe to show.
func userMessage(err error) string {
	var verr *core.ValidationError
	switch {
	case errors.As(err, &verr):
		return reconcile.Message(verr.Err)
	case reconcile.IsValidation(err), errors.Is(err, reconcile.ErrSettlementPending):
		return reconcile.Message(err)
	default:
		return gateway.Message(err)
	}
}

// failureResponse maps an error to a status: validation problems are 422,
// API rejections keep 4xx semantics as 422, everything else is a bad gateway.
func failureResponse(err error) *HTMXResponseBuilder {
	var verr *core.ValidationError
	if errors.As(err, &verr) || reconcile.IsValidation(err) {
		return UnprocessableEntityError(userMessage(err))
	}
	if s := gateway.StatusOf(err); s >= 400 && s < 500 {
		return UnprocessableEntityError(userMessage(err))
	}
	return BadGatewayError(userMessage(err))
}

// render executes a template into a buffer first so a failing template never
// leaves a half-written page.
func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Template execution failed",
			log.FieldError, err,
			"template", name,
			log.FieldOperation, log.OpRender,
			"error_type", log.ErrorTypeInternal)
		http.Error(w, "template error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// respond writes the builder with a rendered template as body.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, b *HTMXResponseBuilder, name string, data any) {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Template execution failed",
			log.FieldError, err, "template", name)
		InternalServerError("Rendering failed").Write(w)
		return
	}
	b.BodyHTML(buf.String()).Write(w)
}

// mutated answers a successful mutation: the principal's cache is dropped,
// listeners refresh, and the form and modal close.
func (s *Server) mutated(w http.ResponseWriter, r *http.Request, message string, events ...string) {
	s.invalidate(principal(r))
	NewHTMXResponse().
		TriggerChanged(events...).
		TriggerFormReset().
		TriggerModalClose().
		TriggerSuccessNotification(message).
		BodyHTML(`<div class="success">` + template.HTMLEscapeString(message) + `</div>`).
		Write(w)
}

// logMutation records a successful write against the ledger API.
func logMutation(r *http.Request, op, collection string, id int64) {
	ctx := r.Context()
	fields := log.NewFields().WithOperation(op).WithUser(principal(r).Email)
	fields[log.FieldCollection] = collection
	if id > 0 {
		fields["id"] = id
	}
	log.FromContext(ctx).InfoContext(ctx, "Ledger record changed", fields.ToSlice()...)
}
