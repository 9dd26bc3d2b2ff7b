package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hochfrequenz/levelup/internal/domain"
	"github.com/hochfrequenz/levelup/internal/statestore"
)

// RunResponse is the API shape of a run record.
type RunResponse struct {
	ID           string  `json:"id"`
	TaskTitle    string  `json:"task_title"`
	Source       string  `json:"source"`
	SourceID     string  `json:"source_id,omitempty"`
	TicketNumber *int    `json:"ticket_number,omitempty"`
	ProjectPath  string  `json:"project_path"`
	Language     string  `json:"language,omitempty"`
	Framework    string  `json:"framework,omitempty"`
	TestCommand  string  `json:"test_command,omitempty"`
	Status       string  `json:"status"`
	CurrentStep  string  `json:"current_step,omitempty"`
	Error        string  `json:"error,omitempty"`
	CostUSD      float64 `json:"cost_usd"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	StartedAt    string  `json:"started_at"`
	UpdatedAt    string  `json:"updated_at"`
}

// CheckpointResponse is the API shape of a checkpoint request. Payload
// carries the step-keyed display payload verbatim for the UI to render.
type CheckpointResponse struct {
	ID        int64           `json:"id"`
	RunID     string          `json:"run_id"`
	Step      string          `json:"step"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Status    string          `json:"status"`
	CreatedAt string          `json:"created_at"`
}

// DecisionRequest is the body of a decision POST.
type DecisionRequest struct {
	Decision string `json:"decision"`
	Feedback string `json:"feedback"`
}

func runToResponse(run *domain.Run) RunResponse {
	return RunResponse{
		ID:           run.ID,
		TaskTitle:    run.TaskTitle,
		Source:       run.Source,
		SourceID:     run.SourceID,
		TicketNumber: run.TicketNumber,
		ProjectPath:  run.ProjectPath,
		Language:     run.Language,
		Framework:    run.Framework,
		TestCommand:  run.TestCommand,
		Status:       string(run.Status),
		CurrentStep:  run.CurrentStep,
		Error:        run.ErrorMessage,
		CostUSD:      run.TotalCostUSD,
		InputTokens:  run.InputTokens,
		OutputTokens: run.OutputTokens,
		StartedAt:    run.StartedAt.UTC().Format(time.RFC3339),
		UpdatedAt:    run.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func checkpointToResponse(req *domain.CheckpointRequest) CheckpointResponse {
	resp := CheckpointResponse{
		ID:        req.ID,
		RunID:     req.RunID,
		Step:      req.StepName,
		Status:    string(req.Status),
		CreatedAt: req.CreatedAt.UTC().Format(time.RFC3339),
	}
	if req.PayloadJSON != "" {
		resp.Payload = json.RawMessage(req.PayloadJSON)
	}
	return resp
}

func (s *Server) listRunsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		opts := statestore.ListOptions{
			Status: domain.RunStatus(strings.ToLower(r.URL.Query().Get("status"))),
		}
		if limit := r.URL.Query().Get("limit"); limit != "" {
			n, err := strconv.Atoi(limit)
			if err != nil {
				writeError(w, http.StatusBadRequest, "limit must be an integer")
				return
			}
			opts.Limit = n
		}

		runs, err := s.store.ListRuns(opts)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		responses := make([]RunResponse, len(runs))
		for i, run := range runs {
			responses[i] = runToResponse(run)
		}
		writeJSON(w, responses)
	}
}

// runHandler dispatches /api/runs/{id}, /api/runs/{id}/pause and
// /api/runs/{id}/output.
func (s *Server) runHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/api/runs/")
		if rest == "" {
			writeError(w, http.StatusBadRequest, "run id required")
			return
		}
		parts := strings.Split(rest, "/")

		switch {
		case len(parts) == 1:
			s.getRun(w, r, parts[0])
		case len(parts) == 2 && parts[1] == "pause":
			s.pauseRun(w, r, parts[0])
		case len(parts) == 2 && parts[1] == "output":
			s.streamOutput(w, r, parts[0])
		default:
			writeError(w, http.StatusNotFound, "not found")
		}
	}
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	run, err := s.store.GetRun(id)
	if errors.Is(err, statestore.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, runToResponse(run))
}

func (s *Server) pauseRun(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	err := s.store.RequestPause(id)
	if errors.Is(err, statestore.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.log.Info().Str("run_id", id).Msg("pause requested via api")
	writeJSON(w, map[string]string{"status": "pause requested"})
}

func (s *Server) listCheckpointsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		pending, err := s.store.PendingCheckpoints(r.URL.Query().Get("run_id"))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		responses := make([]CheckpointResponse, len(pending))
		for i, req := range pending {
			responses[i] = checkpointToResponse(req)
		}
		writeJSON(w, responses)
	}
}

// decisionHandler accepts POST /api/checkpoints/{id}/decision.
func (s *Server) decisionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/api/checkpoints/")
		parts := strings.Split(rest, "/")
		if len(parts) != 2 || parts[1] != "decision" {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		id, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "checkpoint id must be an integer")
			return
		}

		var body DecisionRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		decision, err := domain.ParseDecision(body.Decision)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		err = s.store.SubmitDecision(id, decision, strings.TrimSpace(body.Feedback))
		switch {
		case errors.Is(err, statestore.ErrFeedbackRequired):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, statestore.ErrNotFound):
			writeError(w, http.StatusNotFound, "checkpoint not found")
		case errors.Is(err, statestore.ErrAlreadyDecided):
			writeError(w, http.StatusConflict, err.Error())
		case err != nil:
			writeError(w, http.StatusInternalServerError, err.Error())
		default:
			s.log.Info().
				Int64("checkpoint_id", id).
				Str("decision", string(decision)).
				Msg("decision submitted via api")
			writeJSON(w, map[string]string{"status": "decided"})
		}
	}
}

func (s *Server) sweepHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		marked, err := s.store.MarkDeadRuns()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if marked == nil {
			marked = []string{}
		}
		writeJSON(w, map[string]interface{}{"marked": marked})
	}
}

func (s *Server) healthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	}
}
