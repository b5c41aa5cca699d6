// server.go: HTTP transport for a platform bridge
//
// The server exposes any themis.Bridge under a small versioned API so the
// store can run in a different process from the one that owns the
// platform settings:
//
//	GET /v1/health        -> 200 {"status":"healthy"} or 503
//	GET /v1/fields/{key}  -> 200 {"value": ...}
//	PUT /v1/fields/{key}  <- {"value": ...}  -> 200 SetResult
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package httpbridge

import (
	"encoding/json"
	"io"
	"net/http"
	"regexp"

	"github.com/gorilla/mux"

	"github.com/agilira/themis"
)

// MaxBodySize caps PUT request bodies.
const MaxBodySize = 1 << 20

var keyPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*(\.[A-Za-z][A-Za-z0-9_-]*)*$`)

// fieldValue is the body of GET responses and PUT requests.
type fieldValue struct {
	Value any `json:"value"`
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Server serves a bridge over HTTP.
type Server struct {
	bridge themis.Bridge
	router *mux.Router
}

// NewServer wraps bridge.
func NewServer(bridge themis.Bridge) *Server {
	s := &Server{bridge: bridge, router: mux.NewRouter()}
	s.router.HandleFunc("/v1/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/fields/{key}", s.handleGet).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/fields/{key}", s.handleSet).Methods(http.MethodPut)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if prober, ok := s.bridge.(themis.Prober); ok {
		if err := prober.Probe(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "unavailable",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "healthy"})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	key, ok := routeKey(w, r)
	if !ok {
		return
	}
	value, err := s.bridge.Get(r.Context(), key)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, fieldValue{Value: value})
}

func (s *Server) handleSet(w http.ResponseWriter, r *http.Request) {
	key, ok := routeKey(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodySize+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid body"})
		return
	}
	if len(body) > MaxBodySize {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: "body too large"})
		return
	}

	var req map[string]json.RawMessage
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON: " + err.Error()})
		return
	}
	raw, present := req["value"]
	if !present {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: `missing "value"`})
		return
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid value: " + err.Error()})
		return
	}

	result, err := s.bridge.Set(r.Context(), key, value)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func routeKey(w http.ResponseWriter, r *http.Request) (string, bool) {
	key := mux.Vars(r)["key"]
	if !keyPattern.MatchString(key) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid key", Code: themis.ErrCodeKeyNotFound})
		return "", false
	}
	return key, true
}

func statusFor(err error) int {
	switch themis.ErrorCodeOf(err) {
	case themis.ErrCodeKeyNotFound:
		return http.StatusNotFound
	case themis.ErrCodeBridgeUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusBadGateway
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{Error: err.Error(), Code: themis.ErrorCodeOf(err)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
