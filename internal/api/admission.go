package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/geoservice/internal/model"
	"github.com/seantiz/geoservice/internal/scheduler"
	"github.com/seantiz/geoservice/internal/session"
)

const idempotencyHeader = "X-Idempotency-Key"

// promptResponse reports a synchronous result by its path relative to the
// output root. /jobs/status carries the public link.
type promptResponse struct {
	Type string `json:"type"`
	Path string `json:"path"`
}

// deferredResponse acknowledges a queued job.
type deferredResponse struct {
	Type      string `json:"type"`
	Ticket    string `json:"ticket"`
	StatusURI string `json:"statusUri"`
}

// handleAdmit serves POST /{family}/{kind}.
func (s *Server) handleAdmit(family string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
		if err := parseForm(r); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid form body")
			return
		}
		if r.MultipartForm != nil {
			defer r.MultipartForm.RemoveAll()
		}

		a, err := s.parseAdmission(r, family, chi.URLParam(r, "kind"))
		if err != nil {
			s.writeError(w, http.StatusBadRequest, strings.TrimPrefix(err.Error(), errBadRequest.Error()+": "))
			return
		}

		ctx := r.Context()
		t, created, err := s.resolver.Resolve(ctx, r.Header.Get(idempotencyHeader), a.op.RequestType())
		if err != nil {
			s.logger.Error("resolve ticket", "request_type", a.op.RequestType(), "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to issue ticket")
			return
		}
		if !created {
			s.logger.Info("duplicate admission", "ticket", t.ID, "request_type", t.RequestType)
			recordAdmission(a.op.RequestType(), admittedDuplicate)
			s.renderTicket(w, t)
			return
		}

		job := scheduler.Job{TicketID: t.ID, Operation: a.op}
		job.Session, err = s.sessions.Create(t.ID)
		if err != nil {
			s.logger.Error("create session", "ticket", t.ID, "error", err)
			s.scheduler.Reject(ctx, job, err)
			s.writeError(w, http.StatusInternalServerError, "failed to allocate session")
			return
		}

		paths, err := s.stage(job.Session, a.inputs)
		if err != nil {
			s.logger.Error("stage input", "ticket", t.ID, "error", err)
			s.scheduler.Reject(ctx, job, err)
			s.writeError(w, http.StatusInternalServerError, "failed to stage input")
			return
		}
		job.Operation = withSources(a.op, paths)

		if a.response == responsePrompt {
			defer s.sessions.Destroy(job.Session)
			recordAdmission(a.op.RequestType(), admittedPrompt)
			res := s.scheduler.RunSync(ctx, job)
			s.renderResult(w, r, res, a.download)
			return
		}

		if _, err := s.scheduler.Submit(job); err != nil {
			recordAdmission(a.op.RequestType(), admittedRefused)
			s.writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		recordAdmission(a.op.RequestType(), admittedDeferred)
		s.writeDeferred(w, t.ID)
	}
}

// stage copies uploads into the session and returns the path of every input.
func (s *Server) stage(sess session.Session, inputs []input) ([]string, error) {
	paths := make([]string, 0, len(inputs))
	used := make(map[string]bool)
	for _, in := range inputs {
		if in.upload == nil {
			paths = append(paths, in.path)
			continue
		}

		name := filepath.Base(in.upload.Filename)
		if used[name] {
			name = in.field + "_" + name
		}
		used[name] = true

		dst := sess.Stage(name)
		if err := saveUpload(in.upload, dst); err != nil {
			return nil, fmt.Errorf("stage %s: %w", in.field, err)
		}
		paths = append(paths, dst)
	}
	return paths, nil
}

func saveUpload(fh *multipart.FileHeader, dst string) error {
	src, err := fh.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// renderResult writes the response of a synchronous run.
func (s *Server) renderResult(w http.ResponseWriter, r *http.Request, res scheduler.Result, download bool) {
	switch {
	case !res.Outcome.Succeeded():
		s.writeError(w, http.StatusInternalServerError, res.Outcome.Message)
	case res.OutputPath == "":
		w.WriteHeader(http.StatusNoContent)
	case download:
		s.serveArtifact(w, r, res.OutputPath)
	default:
		s.writeJSON(w, http.StatusOK, promptResponse{Type: responsePrompt, Path: res.OutputPath})
	}
}

// renderTicket answers a duplicate admission from the stored ticket.
func (s *Server) renderTicket(w http.ResponseWriter, t *model.Ticket) {
	switch t.State() {
	case model.StatePending:
		s.writeDeferred(w, t.ID)
	case model.StateCompletedFailure:
		msg := "request failed"
		if t.ErrorMessage != nil {
			msg = *t.ErrorMessage
		}
		s.writeError(w, http.StatusInternalServerError, msg)
	case model.StateCompletedSuccessEmpty:
		w.WriteHeader(http.StatusNoContent)
	default:
		s.writeJSON(w, http.StatusOK, promptResponse{Type: responsePrompt, Path: t.Result.OutputPath})
	}
}

func (s *Server) writeDeferred(w http.ResponseWriter, ticketID string) {
	s.writeJSON(w, http.StatusAccepted, deferredResponse{
		Type:      responseDeferred,
		Ticket:    ticketID,
		StatusURI: "/jobs/status?ticket=" + ticketID,
	})
}

// serveArtifact streams a materialized result as an attachment.
func (s *Server) serveArtifact(w http.ResponseWriter, r *http.Request, rel string) {
	path, err := s.output.Resolve(rel)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "result not found")
		return
	}
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) || (err == nil && info.IsDir()) {
		s.writeError(w, http.StatusNotFound, "result not found")
		return
	}
	if err != nil {
		s.logger.Error("stat result", "path", path, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read result")
		return
	}

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(path)))
	http.ServeFile(w, r, path)
}
