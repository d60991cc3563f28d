// Package inspect serves a read-only JSON view of the shared chat state.
package inspect

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"

	"kchat/chat"
	"kchat/store"
)

const (
	defaultHistory = 50
	maxHistory     = 1000
)

type server struct {
	store store.Store
	self  chat.ParticipantID
	log   *slog.Logger
}

// NewHandler returns the router for the inspection API.
func NewHandler(st store.Store, self chat.ParticipantID, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &server{store: st, self: self, log: logger}

	r := mux.NewRouter()
	r.Use(func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			m := httpsnoop.CaptureMetrics(handler, writer, request)
			s.log.Info("handled", "method", request.Method, "url", request.URL, "duration", m.Duration, "status", m.Code)
		})
	})

	r.Methods(http.MethodGet).Path("/healthz").HandlerFunc(s.health)
	r.Methods(http.MethodGet).Path("/members").HandlerFunc(s.members)
	r.Methods(http.MethodGet).Path("/members/{id}/history").HandlerFunc(s.history)
	r.Methods(http.MethodGet).Path("/messages/{id}").HandlerFunc(s.message)
	return r
}

func (s *server) health(writer http.ResponseWriter, request *http.Request) {
	s.writeJSON(writer, http.StatusOK, map[string]string{"id": string(s.self)})
}

func (s *server) members(writer http.ResponseWriter, request *http.Request) {
	table, err := chat.FetchTable(request.Context(), s.store)
	if errors.Is(err, store.ErrNotFound) {
		table = chat.SyncTable{}
	} else if err != nil {
		s.fail(writer, err)
		return
	}
	s.writeJSON(writer, http.StatusOK, table)
}

func (s *server) message(writer http.ResponseWriter, request *http.Request) {
	id := chat.MessageID(mux.Vars(request)["id"])
	msg, err := chat.FetchMessage(request.Context(), s.store, id)
	if errors.Is(err, store.ErrNotFound) {
		writer.WriteHeader(http.StatusNotFound)
		return
	}
	if err != nil {
		s.fail(writer, err)
		return
	}
	s.writeJSON(writer, http.StatusOK, chat.StoredMessage{ID: id, Message: msg})
}

func (s *server) history(writer http.ResponseWriter, request *http.Request) {
	limit := defaultHistory
	if raw := request.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			http.Error(writer, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxHistory)
	}

	table, err := chat.FetchTable(request.Context(), s.store)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.fail(writer, err)
		return
	}
	member, ok := table[chat.ParticipantID(mux.Vars(request)["id"])]
	if !ok {
		writer.WriteHeader(http.StatusNotFound)
		return
	}

	msgs, err := chat.History(request.Context(), s.store, member.LastMessage, limit)
	if err != nil {
		s.fail(writer, err)
		return
	}
	if msgs == nil {
		msgs = []chat.StoredMessage{}
	}
	s.writeJSON(writer, http.StatusOK, msgs)
}

func (s *server) fail(writer http.ResponseWriter, err error) {
	s.log.Error("inspect request failed", "err", err)
	writer.WriteHeader(http.StatusInternalServerError)
}

func (s *server) writeJSON(writer http.ResponseWriter, status int, v any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	if err := json.NewEncoder(writer).Encode(v); err != nil {
		s.log.Error("failed to write out", "err", err)
	}
}
