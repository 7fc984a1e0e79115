package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"news/internal/comments"
	"news/internal/forum"
	"news/internal/markdown"
	"news/internal/models"
	"news/internal/pagination"
	"news/internal/tags"
)

type postView struct {
	models.Post
	BodyHTML string `json:"bodyHtml"`
}

func newPostView(p models.Post) postView {
	v := postView{Post: p}
	if p.Body != nil {
		v.BodyHTML = markdown.Render(*p.Body)
	}
	return v
}

type commentView struct {
	models.Comment
	BodyHTML string        `json:"bodyHtml"`
	Replies  []commentView `json:"replies"`
}

func newCommentViews(nodes []*comments.Node) []commentView {
	out := make([]commentView, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, commentView{
			Comment:  n.Comment,
			BodyHTML: markdown.Render(n.Body),
			Replies:  newCommentViews(n.Replies),
		})
	}
	return out
}

func (s *Server) handleListPosts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	size := q.Get("pageSize")
	if size == "" {
		size = q.Get("limit")
	}
	opts := forum.ListOptions{
		Feed:     q.Get("feed"),
		Tags:     tags.ParseSlugList(q.Get("tags")),
		Page:     pagination.ParsePage(q.Get("page")),
		PageSize: pagination.ParsePageSize(size, pagination.DefaultPageSize),
	}
	if q.Get("mine") == "1" {
		cur := s.currentUser(r)
		if cur == nil {
			s.respondError(w, r, errSignInRequired)
			return
		}
		opts.AuthorID = cur.Session.UserID
	}

	page, err := s.forum.ListPosts(r.Context(), opts)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	views := make([]postView, len(page.Items))
	for i, p := range page.Items {
		views[i] = newPostView(p)
	}
	respondJSON(w, http.StatusOK, pagination.Page[postView]{
		Items:      views,
		Page:       page.Page,
		PageSize:   page.PageSize,
		TotalCount: page.TotalCount,
		TotalPages: page.TotalPages,
		HasMore:    page.HasMore,
		Pages:      page.Pages,
	})
}

func (s *Server) handleCreatePost(w http.ResponseWriter, r *http.Request, cur *currentSession) {
	var in forum.NewPost
	if err := decodeJSON(w, r, &in); err != nil {
		s.respondError(w, r, err)
		return
	}
	post, err := s.forum.CreatePost(r.Context(), cur.author(), in)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.log.Info().Str("post_id", post.ID).Str("user_id", cur.Session.UserID).Msg("post created")
	respondJSON(w, http.StatusCreated, newPostView(*post))
}

func (s *Server) handleGetPost(w http.ResponseWriter, r *http.Request) {
	post, err := s.forum.GetPost(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, newPostView(*post))
}

func (s *Server) handleListComments(w http.ResponseWriter, r *http.Request) {
	forest, err := s.forum.ListComments(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"items": newCommentViews(forest),
		"count": comments.Count(forest),
	})
}

func (s *Server) handleCreateComment(w http.ResponseWriter, r *http.Request, cur *currentSession) {
	var in forum.NewComment
	if err := decodeJSON(w, r, &in); err != nil {
		s.respondError(w, r, err)
		return
	}
	c, err := s.forum.CreateComment(r.Context(), cur.author(), chi.URLParam(r, "id"), in)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, commentView{
		Comment:  *c,
		BodyHTML: markdown.Render(c.Body),
		Replies:  []commentView{},
	})
}
