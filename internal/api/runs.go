package api

import (
	"errors"
	"sync"
	"time"

	"walktour/pkg/apisession"
	"walktour/pkg/pipeline"
)

// Run states reported by the session endpoint.
const (
	RunRunning   = "running"
	RunComplete  = "complete"
	RunPartial   = "partial"
	RunFailed    = "failed"
	RunCancelled = "cancelled"
)

// DefaultRunRetention is how long a finished run stays queryable.
const DefaultRunRetention = time.Hour

// RunStatus is the in-process view of one generation session.
type RunStatus struct {
	SessionID   string     `json:"session_id"`
	TourID      string     `json:"tour_id"`
	State       string     `json:"state"`
	Phase       string     `json:"phase,omitempty"`
	Error       string     `json:"error,omitempty"`
	FailedUnits int        `json:"failed_units"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// ErrTourBusy is returned when a tour already has a run in flight.
var ErrTourBusy = errors.New("tour is already generating")

// Runs tracks background sessions so a tour never runs twice at once.
// Finished runs are forgotten after the retention period.
type Runs struct {
	mu        sync.Mutex
	bySession *apisession.Store[RunStatus]
	byTour    map[string]string
	wg        sync.WaitGroup
	now       func() time.Time
}

// NewRuns creates an empty registry. retention <= 0 keeps finished runs
// forever.
func NewRuns(retention time.Duration) *Runs {
	return &Runs{
		bySession: apisession.New(retention,
			apisession.WithKeep(func(st RunStatus) bool { return st.State == RunRunning })),
		byTour: make(map[string]string),
		now:    time.Now,
	}
}

func (r *Runs) start(sessionID, tourID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.byTour[tourID]; busy {
		return ErrTourBusy
	}
	r.byTour[tourID] = sessionID
	r.bySession.Put(sessionID, RunStatus{
		SessionID: sessionID,
		TourID:    tourID,
		State:     RunRunning,
		StartedAt: r.now(),
	})
	r.wg.Add(1)
	return nil
}

func (r *Runs) finish(sessionID string, res *pipeline.Result, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	defer r.wg.Done()

	now := r.now()
	r.bySession.Update(sessionID, func(st *RunStatus) {
		delete(r.byTour, st.TourID)
		st.FinishedAt = &now
		if res != nil && res.State != nil {
			st.Phase = string(res.State.Phase)
		}

		switch {
		case pipeline.IsCancelled(err):
			st.State = RunCancelled
			st.Error = err.Error()
		case err != nil:
			st.State = RunFailed
			st.Error = err.Error()
		case res != nil && len(res.Failures) > 0:
			st.State = RunPartial
			st.FailedUnits = len(res.Failures)
			st.Error = res.Partial().Error()
		default:
			st.State = RunComplete
		}
	})
}

// Get returns a copy of a session's status.
func (r *Runs) Get(sessionID string) (RunStatus, bool) {
	return r.bySession.Get(sessionID)
}

// Prune drops finished runs past their retention and reports how many.
func (r *Runs) Prune() int {
	return r.bySession.Cleanup()
}

// Wait blocks until every started run has finished.
func (r *Runs) Wait() {
	r.wg.Wait()
}
