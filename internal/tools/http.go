package tools

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/felipepmaragno/tokenmeter/internal/domain"
)

// HTTPHandler serves the tool catalog: POST /tools/{name} invokes a
// tool with a JSON argument object, GET /tools lists the catalog.
type HTTPHandler struct {
	mux        *http.ServeMux
	dispatcher *Dispatcher
}

func NewHTTPHandler(dispatcher *Dispatcher) *HTTPHandler {
	h := &HTTPHandler{
		mux:        http.NewServeMux(),
		dispatcher: dispatcher,
	}
	h.mux.HandleFunc("GET /tools", h.handleList)
	h.mux.HandleFunc("POST /tools/{name}", h.handleCall)
	return h
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *HTTPHandler) handleList(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, map[string]any{"tools": h.dispatcher.Names()})
}

func (h *HTTPHandler) handleCall(w http.ResponseWriter, r *http.Request) {
	args := Args{}
	// An empty body means a no-argument call.
	if err := json.NewDecoder(r.Body).Decode(&args); err != nil && !errors.Is(err, io.EOF) {
		respond(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	result, err := h.dispatcher.Dispatch(r.Context(), r.PathValue("name"), args)
	if err != nil {
		respond(w, statusFor(err), map[string]string{"error": err.Error()})
		return
	}
	respond(w, http.StatusOK, map[string]any{"result": result})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnknownTool):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrMissingArgument),
		errors.Is(err, domain.ErrInvalidArgument),
		errors.Is(err, domain.ErrNegativeTokens):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
