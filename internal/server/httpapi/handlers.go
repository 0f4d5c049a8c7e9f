package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/dmitrijs2005/levelstore/internal/common"
	"github.com/dmitrijs2005/levelstore/internal/server/models"
	"github.com/go-chi/chi/v5"
)

type registerRequest struct {
	UserName string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type titleRequest struct {
	Title string `json:"title"`
}

type userResponse struct {
	User *models.User `json:"user"`
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decode(w, r, &req) {
		return
	}
	u, err := s.auth.Register(r.Context(), req.UserName, req.Email, req.Password)
	if err != nil {
		s.writeServiceErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, userResponse{User: u})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeServiceErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	if err := s.auth.Logout(r.Context(), tokenFromContext(r.Context())); err != nil {
		s.writeServiceErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, userResponse{User: UserFromContext(r.Context())})
}

func (s *Server) listProjects(w http.ResponseWriter, r *http.Request) {
	u := UserFromContext(r.Context())
	list, err := s.projects.ListByOwner(r.Context(), u.ID)
	if err != nil {
		s.writeServiceErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) createProject(w http.ResponseWriter, r *http.Request) {
	var req titleRequest
	if !decode(w, r, &req) {
		return
	}
	u := UserFromContext(r.Context())
	p, err := s.projects.Create(r.Context(), u.ID, req.Title)
	if err != nil {
		s.writeServiceErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// requireOwner loads the routed project and hides it from everyone but its
// owner: a foreign project is reported exactly like a missing one.
func (s *Server) requireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid := chi.URLParam(r, "uid")
		p, err := s.projects.Get(r.Context(), uid)
		if err != nil {
			s.writeServiceErr(w, r, err)
			return
		}
		if u := UserFromContext(r.Context()); u == nil || p.OwnerID != u.ID {
			writeErr(w, http.StatusNotFound, "not found")
			return
		}
		next.ServeHTTP(w, r.WithContext(withProject(r.Context(), p)))
	})
}

func (s *Server) getProject(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, projectFromContext(r.Context()))
}

func (s *Server) renameProject(w http.ResponseWriter, r *http.Request) {
	var req titleRequest
	if !decode(w, r, &req) {
		return
	}
	p, err := s.projects.Rename(r.Context(), projectFromContext(r.Context()).ID, req.Title)
	if err != nil {
		s.writeServiceErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) removeProject(w http.ResponseWriter, r *http.Request) {
	if err := s.projects.Remove(r.Context(), projectFromContext(r.Context()).ID); err != nil {
		s.writeServiceErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getScene(w http.ResponseWriter, r *http.Request) {
	scene, err := s.projects.GetScene(r.Context(), projectFromContext(r.Context()).ID)
	if err != nil {
		s.writeServiceErr(w, r, err)
		return
	}
	writeRaw(w, http.StatusOK, scene)
}

func (s *Server) saveScene(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxSceneBytes))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeErr(w, http.StatusRequestEntityTooLarge, "scene too large")
			return
		}
		writeErr(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.projects.SaveScene(r.Context(), projectFromContext(r.Context()).ID, body); err != nil {
		s.writeServiceErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getBackups(w http.ResponseWriter, r *http.Request) {
	backups, err := s.projects.GetBackups(r.Context(), projectFromContext(r.Context()).ID)
	if err != nil {
		s.writeServiceErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, backups)
}

func (s *Server) revert(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		s.writeServiceErr(w, r, common.ErrorNotFound)
		return
	}
	scene, err := s.projects.RevertToBackup(r.Context(), projectFromContext(r.Context()).ID, index)
	if err != nil {
		s.writeServiceErr(w, r, err)
		return
	}
	writeRaw(w, http.StatusOK, scene)
}
