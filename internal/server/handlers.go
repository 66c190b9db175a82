package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/slide-narrator/internal/jobs"
	"github.com/jonathan/slide-narrator/internal/pipeline"
)

// TranscribeRequest is the request body for POST /jobs/transcribe
type TranscribeRequest struct {
	SubjectID  int64 `json:"subject_id" validate:"required,gt=0"`
	DocumentID int64 `json:"document_id" validate:"required,gt=0"`
}

// SynthRequest is the request body for POST /jobs/synth. Speeches may be
// omitted to narrate the subject's stored transcript.
type SynthRequest struct {
	SubjectID  int64    `json:"subject_id" validate:"required,gt=0"`
	DocumentID int64    `json:"document_id,omitempty" validate:"omitempty,gt=0"`
	Speeches   []string `json:"speeches,omitempty" validate:"omitempty,dive,required"`
}

// ResumeRequest is the optional request body for POST /jobs/{id}/resume
type ResumeRequest struct {
	Force bool `json:"force"`
}

// ResetRequest is the optional request body for POST /jobs/{id}/reset
type ResetRequest struct {
	Stage string `json:"stage"`
}

// SubmitResponse is returned for accepted submissions
type SubmitResponse struct {
	JobID uuid.UUID `json:"job_id"`
}

func (s *Server) handleSubmitTranscribe(w http.ResponseWriter, r *http.Request) {
	var req TranscribeRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	s.submit(w, r, jobs.KindTranscribe, req.SubjectID, pipeline.Payload{DocumentID: req.DocumentID})
}

func (s *Server) handleSubmitSynth(w http.ResponseWriter, r *http.Request) {
	var req SynthRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	s.submit(w, r, jobs.KindAudioVideoSynth, req.SubjectID, pipeline.Payload{
		DocumentID: req.DocumentID,
		Speeches:   req.Speeches,
	})
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request, kind jobs.Kind, subjectID int64, payload pipeline.Payload) {
	id, err := s.orch.Submit(r.Context(), kind, subjectID, payload)
	if err != nil {
		var running *jobs.AlreadyRunningError
		if errors.As(err, &running) {
			s.jsonResponse(w, http.StatusConflict, map[string]string{
				"error":           err.Error(),
				"existing_job_id": running.ExistingID.String(),
			})
			return
		}
		s.errorFromErr(w, err)
		return
	}
	s.jsonResponse(w, http.StatusAccepted, SubmitResponse{JobID: id})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	id, ok := s.jobID(w, r)
	if !ok {
		return
	}
	var req ResumeRequest
	if !s.decodeOptional(w, r, &req) {
		return
	}
	if err := s.orch.Resume(r.Context(), id, req.Force); err != nil {
		s.errorFromErr(w, err)
		return
	}
	s.jsonResponse(w, http.StatusAccepted, SubmitResponse{JobID: id})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	id, ok := s.jobID(w, r)
	if !ok {
		return
	}
	var req ResetRequest
	if !s.decodeOptional(w, r, &req) {
		return
	}
	rec, err := s.orch.Reset(r.Context(), id, req.Stage)
	if err != nil {
		s.errorFromErr(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, rec)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := s.jobID(w, r)
	if !ok {
		return
	}
	status, err := s.orch.Status(r.Context(), id)
	if err != nil {
		s.errorFromErr(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, status)
}

// handleListJobs lists jobs, optionally filtered by subject_id and kind
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter jobs.ListFilter

	if v := q.Get("subject_id"); v != "" {
		subjectID, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			s.errorResponse(w, http.StatusBadRequest, "invalid subject_id")
			return
		}
		filter.SubjectID = &subjectID
	}
	if v := q.Get("kind"); v != "" {
		kind, err := jobs.ParseKind(v)
		if err != nil {
			s.errorResponse(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Kind = kind
	}
	filter.Limit = 50
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			s.errorResponse(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = limit
	}

	recs, err := s.jobs.List(r.Context(), filter)
	if err != nil {
		s.errorFromErr(w, err)
		return
	}
	if recs == nil {
		recs = []jobs.Record{}
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"jobs": recs, "count": len(recs)})
}

// handleEvents streams status snapshots until the job is terminal or the
// client goes away. A snapshot is sent whenever the version or progress moves.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := s.jobID(w, r)
	if !ok {
		return
	}
	status, err := s.orch.Status(r.Context(), id)
	if err != nil {
		s.errorFromErr(w, err)
		return
	}

	stream, err := newEventStream(w)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	var last *pipeline.Status
	for {
		if last == nil || changed(last, status) {
			if status.Terminal && !status.Running {
				_ = stream.complete(status)
				return
			}
			if err := stream.status(status); err != nil {
				return
			}
			last = status
		}

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}

		if status, err = s.orch.Status(r.Context(), id); err != nil {
			stream.fail(err.Error())
			return
		}
	}
}

func changed(prev, next *pipeline.Status) bool {
	return prev.Version != next.Version ||
		prev.Progress != next.Progress ||
		prev.Running != next.Running
}

// jobID parses the {id} path value
func (s *Server) jobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid job id")
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		s.errorResponse(w, http.StatusBadRequest, extractValidationErrors(err))
		return false
	}
	return true
}

// decodeOptional decodes a body that may be empty
func (s *Server) decodeOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		s.errorResponse(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}
