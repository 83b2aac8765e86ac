package server

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/place-resolver/internal/gpidqueue"
	"github.com/sells-group/place-resolver/internal/model"
	"github.com/sells-group/place-resolver/internal/resilience"
	"github.com/sells-group/place-resolver/internal/review"
)

type gpidDecisionBody struct {
	GPID     string `json:"gpid"`
	Reviewer string `json:"reviewer"`
	Note     string `json:"note"`
}

func (s *Server) listGpid(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := gpidqueue.Filter{ReasonCode: q.Get("reason_code")}

	var err error
	if v := q.Get("status"); v != "" {
		if f.HumanStatus, err = model.ParseHumanStatus(strings.ToUpper(v)); err != nil {
			fail(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
			return
		}
	}
	if v := q.Get("resolver_status"); v != "" {
		if f.ResolverStatus, err = model.ParseResolverStatus(strings.ToUpper(v)); err != nil {
			fail(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
			return
		}
	}
	if f.Sort, err = model.ParseGpidQueueSort(q.Get("sort")); err != nil {
		fail(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	if f.Limit, err = intParam(r, "limit"); err != nil {
		fail(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	if f.Offset, err = intParam(r, "offset"); err != nil {
		fail(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}

	page, err := s.deps.Gpid.List(r.Context(), f)
	if err != nil {
		failErr(w, r, err)
		return
	}
	ok(w, http.StatusOK, page)
}

func (s *Server) getGpid(w http.ResponseWriter, r *http.Request) {
	it, err := s.deps.Gpid.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		failErr(w, r, err)
		return
	}
	ok(w, http.StatusOK, it)
}

func (s *Server) approveGpid(w http.ResponseWriter, r *http.Request) {
	s.decideGpid(w, r, model.HumanApproved)
}

func (s *Server) rejectGpid(w http.ResponseWriter, r *http.Request) {
	s.decideGpid(w, r, model.HumanRejected)
}

func (s *Server) ambiguousGpid(w http.ResponseWriter, r *http.Request) {
	s.decideGpid(w, r, model.HumanAmbiguous)
}

func (s *Server) decideGpid(w http.ResponseWriter, r *http.Request, status model.HumanStatus) {
	var body gpidDecisionBody
	if err := decodeBody(r, &body); err != nil {
		fail(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		return
	}
	id := chi.URLParam(r, "id")
	who := reviewer(r, body.Reviewer)

	var err error
	switch status {
	case model.HumanApproved:
		err = s.deps.Gpid.Approve(r.Context(), id, body.GPID, who, body.Note)
	case model.HumanRejected:
		err = s.deps.Gpid.Reject(r.Context(), id, who, body.Note)
	default:
		err = s.deps.Gpid.MarkAmbiguous(r.Context(), id, who, body.Note)
	}
	if err != nil {
		failErr(w, r, err)
		return
	}
	ok(w, http.StatusOK, map[string]string{"id": id, "human_status": string(status)})
}

func (s *Server) skipGpid(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.deps.Gpid.Skip(r.Context(), id); err != nil {
		failErr(w, r, err)
		return
	}
	ok(w, http.StatusOK, map[string]string{"id": id, "human_status": string(model.HumanPending)})
}

type reviewDecisionBody struct {
	Decision string `json:"decision"`
	Notes    string `json:"notes"`
	Reviewer string `json:"reviewer"`
}

type queuedDecision struct {
	QueueID  string         `json:"queue_id"`
	Decision model.Decision `json:"decision"`
	Status   string         `json:"status"`
}

func (s *Server) listReview(w http.ResponseWriter, r *http.Request) {
	var f model.ReviewFilter
	if v := r.URL.Query().Get("status"); v != "" {
		for _, part := range strings.Split(v, ",") {
			st := model.ReviewStatus(strings.ToLower(strings.TrimSpace(part)))
			switch st {
			case model.ReviewPending, model.ReviewDeferred, model.ReviewResolved:
				f.Statuses = append(f.Statuses, st)
			default:
				fail(w, http.StatusBadRequest, "BAD_REQUEST", "unknown review status "+part)
				return
			}
		}
	}
	var err error
	if f.Limit, err = intParam(r, "limit"); err != nil {
		fail(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	if f.Offset, err = intParam(r, "offset"); err != nil {
		fail(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}

	page, err := s.deps.Review.List(r.Context(), f)
	if err != nil {
		failErr(w, r, err)
		return
	}
	ok(w, http.StatusOK, page)
}

func (s *Server) getReview(w http.ResponseWriter, r *http.Request) {
	it, err := s.deps.Review.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		failErr(w, r, err)
		return
	}
	ok(w, http.StatusOK, it)
}

// decideReview queues a decision; the worker applies it.
func (s *Server) decideReview(w http.ResponseWriter, r *http.Request) {
	var body reviewDecisionBody
	if err := decodeBody(r, &body); err != nil {
		fail(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		return
	}
	d, err := model.ParseDecision(strings.ToLower(body.Decision))
	if err != nil {
		fail(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	s.queueDecision(w, r, d, body.Notes, reviewer(r, body.Reviewer))
}

func (s *Server) skipReview(w http.ResponseWriter, r *http.Request) {
	var body reviewDecisionBody
	if err := decodeBody(r, &body); err != nil {
		fail(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		return
	}
	s.queueDecision(w, r, model.DecisionSkip, body.Notes, reviewer(r, body.Reviewer))
}

func (s *Server) queueDecision(w http.ResponseWriter, r *http.Request, d model.Decision, notes, who string) {
	id := chi.URLParam(r, "id")
	it, err := s.deps.Review.Get(r.Context(), id)
	if err != nil {
		failErr(w, r, err)
		return
	}
	if !it.Status.Open() {
		fail(w, http.StatusConflict, "CONFLICT", "review item "+id+" is "+string(it.Status))
		return
	}

	err = review.Submit(r.Context(), s.deps.Outbox, review.Decision{
		QueueID:  id,
		Decision: d,
		Notes:    notes,
		Reviewer: who,
	}, s.deps.MaxAttempts)
	if err != nil {
		failErr(w, r, err)
		return
	}
	zap.L().Info("server: review decision queued",
		zap.String("queue_id", id),
		zap.String("decision", string(d)),
		zap.String("reviewer", who),
	)
	ok(w, http.StatusAccepted, queuedDecision{QueueID: id, Decision: d, Status: string(resilience.OutboxPending)})
}

func (s *Server) deadDecisions(w http.ResponseWriter, r *http.Request) {
	entries, err := s.deps.Worker.Dead(r.Context())
	if err != nil {
		failErr(w, r, err)
		return
	}
	if entries == nil {
		entries = []resilience.OutboxEntry{}
	}
	ok(w, http.StatusOK, entries)
}

func (s *Server) requeueDecision(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.deps.Worker.Requeue(r.Context(), id); err != nil {
		failErr(w, r, err)
		return
	}
	ok(w, http.StatusOK, map[string]string{"id": id, "status": string(resilience.OutboxPending)})
}
