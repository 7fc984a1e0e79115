package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"news/internal/forum"
)

func (s *Server) handleListTags(w http.ResponseWriter, r *http.Request) {
	list, err := s.forum.ListTags(r.Context(), r.URL.Query().Get("kind"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetTag(w http.ResponseWriter, r *http.Request) {
	tag, err := s.forum.GetTag(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, tag)
}

func (s *Server) handleCreateTag(w http.ResponseWriter, r *http.Request, cur *currentSession) {
	var in forum.TagInput
	if err := decodeJSON(w, r, &in); err != nil {
		s.respondError(w, r, err)
		return
	}
	tag, err := s.forum.CreateOptionalTag(r.Context(), in)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.log.Info().Str("tag", tag.Slug).Str("user_id", cur.Session.UserID).Msg("tag created")
	respondJSON(w, http.StatusCreated, tag)
}

func (s *Server) handleUpdateTag(w http.ResponseWriter, r *http.Request, cur *currentSession) {
	var in forum.TagInput
	if err := decodeJSON(w, r, &in); err != nil {
		s.respondError(w, r, err)
		return
	}
	tag, err := s.forum.UpdateOptionalTag(r.Context(), chi.URLParam(r, "slug"), in)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.log.Info().Str("tag", tag.Slug).Str("user_id", cur.Session.UserID).Msg("tag updated")
	respondJSON(w, http.StatusOK, tag)
}

func (s *Server) handleDeleteTag(w http.ResponseWriter, r *http.Request, cur *currentSession) {
	slug := chi.URLParam(r, "slug")
	if err := s.forum.DeleteOptionalTag(r.Context(), slug); err != nil {
		s.respondError(w, r, err)
		return
	}
	s.log.Info().Str("tag", slug).Str("user_id", cur.Session.UserID).Msg("tag deleted")
	w.WriteHeader(http.StatusNoContent)
}
