package server

import (
	"net/http"
	"strings"

	"github.com/teranos/missionctl/agent"
	"github.com/teranos/missionctl/errors"
	"github.com/teranos/missionctl/logger"
	"github.com/teranos/missionctl/pulse/async"
)

// RunOnceResponse is the run-once body. Status is "idle" when nothing was queued.
type RunOnceResponse struct {
	Claimed bool           `json:"claimed"`
	Status  string         `json:"status,omitempty"`
	Job     *async.Job     `json:"job,omitempty"`
	Outcome *async.Outcome `json:"outcome,omitempty"`
}

// RunBatchResponse lists the results of the claims that won
type RunBatchResponse struct {
	Requested int                `json:"requested"`
	Results   []*RunOnceResponse `json:"results"`
	Error     string             `json:"error,omitempty"`
}

// ReviewRequest scores a completed job
type ReviewRequest struct {
	ReviewerID string `json:"reviewer_id"`
	agent.Dimensions
	Feedback string `json:"feedback,omitempty"`
}

// RouteResponse is the router's pick; Agent is nil when no agent fits
type RouteResponse struct {
	Agent *agent.Route `json:"agent"`
	Job   *async.Job   `json:"job,omitempty"`
}

func toRunOnceResponse(res *async.RunResult) *RunOnceResponse {
	if res == nil || !res.Claimed {
		return &RunOnceResponse{Claimed: false, Status: "idle"}
	}
	resp := &RunOnceResponse{Claimed: true, Job: res.Job, Outcome: res.Outcome}
	if res.Job != nil {
		resp.Status = string(res.Job.Status)
	}
	return resp
}

// HandleRunOnce claims the next queued job and runs it to a terminal status (POST /api/jobs/run-once)
func (s *Server) HandleRunOnce(w http.ResponseWriter, r *http.Request) {
	res, err := s.runner.RunOnce(r.Context())
	if err != nil {
		handleError(w, s.logger, err, "Failed to run job")
		return
	}
	writeJSON(w, http.StatusOK, toRunOnceResponse(res))
}

// HandleRunBatch fires up to five concurrent claims (POST /api/jobs/run-batch?n=N)
func (s *Server) HandleRunBatch(w http.ResponseWriter, r *http.Request) {
	n := parseIntQueryParam(r, "n", async.MaxBatchSize, 1, async.MaxBatchSize)

	results, err := s.runner.RunBatch(r.Context(), n)
	resp := RunBatchResponse{Requested: n, Results: make([]*RunOnceResponse, 0, len(results))}
	for _, res := range results {
		resp.Results = append(resp.Results, toRunOnceResponse(res))
	}
	if err != nil {
		// The claims that won still report; the failure rides along
		s.logger.Errorw("Run batch partially failed", logger.FieldCount, len(results), logger.FieldError, err)
		resp.Error = "one or more claims failed"
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleListJobs lists jobs in claim order (GET /api/jobs)
func (s *Server) HandleListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := async.JobFilter{
		ProjectID: q.Get("project_id"),
		Engine:    async.EngineName(q.Get("engine")),
		AgentID:   q.Get("agent_id"),
		Limit:     parseIntQueryParam(r, "limit", defaultJobLimit, 1, maxJobLimit),
	}
	if raw := q.Get("status"); raw != "" {
		for _, st := range strings.Split(raw, ",") {
			st = strings.TrimSpace(st)
			if !async.IsValidStatus(st) {
				writeError(w, http.StatusBadRequest, "Unknown status: "+st)
				return
			}
			filter.Statuses = append(filter.Statuses, async.JobStatus(st))
		}
	}
	if filter.Engine != "" && !async.IsValidEngine(string(filter.Engine)) {
		writeError(w, http.StatusBadRequest, "Unknown engine: "+string(filter.Engine))
		return
	}

	jobs, err := s.queue.ListJobs(r.Context(), filter)
	if err != nil {
		handleError(w, s.logger, err, "Failed to list jobs")
		return
	}
	if jobs == nil {
		jobs = []*async.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs, "count": len(jobs)})
}

// HandleCreateJob enqueues a job (POST /api/jobs)
func (s *Server) HandleCreateJob(w http.ResponseWriter, r *http.Request) {
	var spec async.JobSpec
	if !readJSON(w, r, &spec) {
		return
	}
	if spec.Source == "" {
		spec.Source = "api"
	}
	job, err := s.queue.Enqueue(r.Context(), spec)
	if err != nil {
		handleError(w, s.logger, err, "Failed to create job")
		return
	}
	s.logger.Infow("Job created", logger.FieldJobID, job.ID, logger.FieldEngine, job.Engine, logger.FieldPriority, job.Priority)
	writeJSON(w, http.StatusCreated, job)
}

// HandleGetJob returns one job (GET /api/jobs/{id})
func (s *Server) HandleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.queue.GetJob(r.Context(), r.PathValue("id"))
	if err != nil {
		handleError(w, s.logger, err, "Failed to get job")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// HandlePatchJob applies an administrative edit (PATCH /api/jobs/{id})
func (s *Server) HandlePatchJob(w http.ResponseWriter, r *http.Request) {
	var patch async.JobPatch
	if !readJSON(w, r, &patch) {
		return
	}
	job, err := s.queue.Patch(r.Context(), r.PathValue("id"), patch)
	if err != nil {
		handleError(w, s.logger, err, "Failed to patch job")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// HandleRouteJob picks an agent for a job (POST /api/jobs/{id}/route[?assign=true]).
// With assign=true the job moves queued → assigned to the chosen agent.
func (s *Server) HandleRouteJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	route, err := s.router.Route(r.Context(), id)
	if err != nil {
		handleError(w, s.logger, err, "Failed to route job")
		return
	}
	if route == nil {
		writeJSON(w, http.StatusNotFound, RouteResponse{Agent: nil})
		return
	}

	resp := RouteResponse{Agent: route}
	if r.URL.Query().Get("assign") == "true" {
		job, err := s.queue.Assign(r.Context(), id, route.AgentID)
		if err != nil {
			handleError(w, s.logger, err, "Failed to assign job")
			return
		}
		resp.Job = job
		s.logger.Infow("Job assigned", logger.FieldJobID, id, logger.FieldAgentID, route.AgentID)
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleReviewJob scores a finished job (POST /api/jobs/{id}/review)
func (s *Server) HandleReviewJob(w http.ResponseWriter, r *http.Request) {
	var req ReviewRequest
	if !readJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.ReviewerID) == "" {
		handleError(w, s.logger, errors.NewInvalidRequestError("reviewer_id is required"), "Invalid review")
		return
	}

	result, err := s.scorer.Score(r.Context(), r.PathValue("id"), req.ReviewerID, req.Dimensions, req.Feedback, s.reviewPolicy())
	if err != nil {
		handleError(w, s.logger, err, "Failed to record review")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleListReviews returns a job's reviews, newest first (GET /api/jobs/{id}/reviews)
func (s *Server) HandleListReviews(w http.ResponseWriter, r *http.Request) {
	reviews, err := s.reviews.ListForJob(r.Context(), r.PathValue("id"))
	if err != nil {
		handleError(w, s.logger, err, "Failed to list reviews")
		return
	}
	if reviews == nil {
		reviews = []*agent.Review{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"reviews": reviews})
}

// HandleRequeueJob is the operator requeue: any terminal status back to
// queued with retry_count reset (POST /api/jobs/{id}/requeue)
func (s *Server) HandleRequeueJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	won, err := s.queue.Requeue(r.Context(), id, async.RequeueOptions{ResetRetries: true})
	if err != nil {
		handleError(w, s.logger, err, "Failed to requeue job")
		return
	}
	job, err := s.queue.GetJob(r.Context(), id)
	if err != nil {
		handleError(w, s.logger, err, "Failed to get job")
		return
	}
	if !won {
		writeError(w, http.StatusConflict, "job "+id+" cannot be requeued from status "+string(job.Status))
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// HandleJobChildren lists jobs spawned by a parent (GET /api/jobs/{id}/children)
func (s *Server) HandleJobChildren(w http.ResponseWriter, r *http.Request) {
	children, err := s.queue.Store().ListChildren(r.Context(), r.PathValue("id"))
	if err != nil {
		handleError(w, s.logger, err, "Failed to list child jobs")
		return
	}
	if children == nil {
		children = []*async.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": children})
}
