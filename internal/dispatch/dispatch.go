// Package dispatch drives the delivery job lifecycle:
//
//	PENDENTE_ENTREGA -> EM_ROTA -> CONCLUIDA
//	                      |
//	                      +-> DEVOLVIDA -> EM_ROTA (re-dispatch)
//
// and any non-terminal state -> CANCELADA. Every write is a compare-and-swap
// on the job version, so two operators racing on the same job cannot both
// win.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"zonedispatch/internal/logger"
	"zonedispatch/internal/metrics"
	"zonedispatch/internal/model"
	"zonedispatch/internal/presence"
	"zonedispatch/internal/store"
	"zonedispatch/internal/zones"
)

var (
	ErrInvalidTransition = errors.New("invalid transition")
	ErrReasonRequired    = errors.New("return reason is required")
	ErrDriverUnavailable = errors.New("driver is not available")
	ErrStale             = errors.New("stale state, refresh")
	ErrInvalidJob        = errors.New("invalid job")
)

// EventJobStatusChanged is the event type emitted on every transition.
const EventJobStatusChanged = "job.status.changed"

var transitions = map[model.JobStatus][]model.JobStatus{
	model.JobPending:  {model.JobInRoute, model.JobCancelled},
	model.JobInRoute:  {model.JobDone, model.JobReturned, model.JobCancelled},
	model.JobReturned: {model.JobInRoute, model.JobCancelled},
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to model.JobStatus) bool {
	return slices.Contains(transitions[from], to)
}

// Notifier receives every successful transition. Delivery is best effort.
type Notifier interface {
	JobChanged(ctx context.Context, evt model.JobEvent, job model.DeliveryJob)
}

type Service struct {
	Store    store.Store
	Presence *presence.Tracker
	// Pricing is optional; when set, new jobs with a deposit get a quoted fee.
	Pricing *zones.Pricing
	Notify  Notifier
}

func NewService(s store.Store, p *presence.Tracker, pricing *zones.Pricing, n Notifier) *Service {
	return &Service{Store: s, Presence: p, Pricing: pricing, Notify: n}
}

// JobInput is what a service order supplies when it needs a delivery.
type JobInput struct {
	OSID          string        `json:"osId"`
	CustomerName  string        `json:"customerName"`
	CustomerPhone string        `json:"customerPhone"`
	Address       model.Address `json:"address"`
	TotalValue    float64       `json:"totalValue"`
	ItemsSummary  string        `json:"itemsSummary"`
	Observation   string        `json:"observation"`
	ZoneID        string        `json:"zoneId"`
	DepositID     string        `json:"depositId"`
}

func (s *Service) CreateJob(ctx context.Context, in JobInput) (model.DeliveryJob, error) {
	in.OSID = strings.TrimSpace(in.OSID)
	if in.OSID == "" {
		return model.DeliveryJob{}, fmt.Errorf("%w: osId is required", ErrInvalidJob)
	}
	if math.IsNaN(in.TotalValue) || math.IsInf(in.TotalValue, 0) || in.TotalValue < 0 {
		return model.DeliveryJob{}, fmt.Errorf("%w: totalValue must be a non-negative number", ErrInvalidJob)
	}
	j := model.DeliveryJob{
		OSID:          in.OSID,
		CustomerName:  in.CustomerName,
		CustomerPhone: in.CustomerPhone,
		Address:       in.Address,
		TotalValue:    in.TotalValue,
		ItemsSummary:  in.ItemsSummary,
		Status:        model.JobPending,
		ZoneID:        in.ZoneID,
		DepositID:     in.DepositID,
	}
	if obs := strings.TrimSpace(in.Observation); obs != "" {
		j.Observation = &obs
	}
	s.quote(ctx, &j)

	out, err := s.Store.CreateJob(ctx, j)
	if err != nil {
		return model.DeliveryJob{}, fmt.Errorf("create job: %w", err)
	}
	logger.L().Info("job_created", "job_id", out.ID, "os_id", out.OSID, "zone_id", out.ZoneID)
	s.emit(ctx, "", out, "")
	return out, nil
}

// quote fills ZoneID and DeliveryFee when pricing is wired and the job names
// a deposit. A missing zone or price leaves the fee unset.
func (s *Service) quote(ctx context.Context, j *model.DeliveryJob) {
	if s.Pricing == nil || j.DepositID == "" {
		return
	}
	var q zones.Quote
	var err error
	switch pt, ok := j.Address.Point(); {
	case j.ZoneID != "":
		q, err = s.Pricing.DeliveryFee(ctx, j.ZoneID, j.DepositID, j.TotalValue)
	case ok:
		q, err = s.Pricing.QuoteAt(ctx, pt, j.DepositID, j.TotalValue)
	default:
		return
	}
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			logger.L().Warn("job_quote_failed", "os_id", j.OSID, "err", err)
		}
		return
	}
	j.ZoneID = q.ZoneID
	if q.Configured || q.FreeShipping {
		fee := q.Fee
		j.DeliveryFee = &fee
	}
}

// StartRoute assigns the job to a driver who is DISPONIVEL and online. It
// serves both first dispatch and re-dispatch of a returned job; AssignedAt
// is kept so returned jobs keep their place in the queue.
func (s *Service) StartRoute(ctx context.Context, jobID, driverID string) (model.DeliveryJob, error) {
	driverID = strings.TrimSpace(driverID)
	if driverID == "" {
		return model.DeliveryJob{}, fmt.Errorf("%w: driver id is required", ErrDriverUnavailable)
	}
	return s.transition(ctx, jobID, model.JobInRoute, func(j *model.DeliveryJob) error {
		p, err := s.Presence.Get(ctx, driverID)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s has never checked in", ErrDriverUnavailable, driverID)
		}
		if err != nil {
			return err
		}
		if !p.Online || p.Status != model.DriverAvailable {
			return fmt.Errorf("%w: %s is %s (online=%v)", ErrDriverUnavailable, driverID, p.Status, p.Online)
		}
		id := driverID
		j.AssignedDriverID = &id
		j.DriverName = p.DriverName
		return nil
	})
}

func (s *Service) CompleteJob(ctx context.Context, jobID string) (model.DeliveryJob, error) {
	return s.transition(ctx, jobID, model.JobDone, nil)
}

// ReturnJob marks a failed delivery. A blank reason is rejected before the
// store is touched.
func (s *Service) ReturnJob(ctx context.Context, jobID, reason string) (model.DeliveryJob, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return model.DeliveryJob{}, ErrReasonRequired
	}
	return s.transition(ctx, jobID, model.JobReturned, func(j *model.DeliveryJob) error {
		j.RefusalReason = &reason
		return nil
	})
}

func (s *Service) CancelJob(ctx context.Context, jobID string) (model.DeliveryJob, error) {
	return s.transition(ctx, jobID, model.JobCancelled, nil)
}

func (s *Service) transition(ctx context.Context, jobID string, to model.JobStatus, mutate func(*model.DeliveryJob) error) (model.DeliveryJob, error) {
	cur, err := s.Store.GetJob(ctx, jobID)
	if err != nil {
		return model.DeliveryJob{}, err
	}
	if !CanTransition(cur.Status, to) {
		return model.DeliveryJob{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur.Status, to)
	}
	next := cur
	next.Status = to
	if mutate != nil {
		if err := mutate(&next); err != nil {
			return model.DeliveryJob{}, err
		}
	}
	out, err := s.Store.UpdateJob(ctx, next, cur.Version)
	if errors.Is(err, store.ErrVersionConflict) {
		metrics.JobConflicts.Inc()
		logger.L().Warn("job_transition_conflict", "job_id", jobID, "to", to, "version", cur.Version)
		return model.DeliveryJob{}, ErrStale
	}
	if err != nil {
		return model.DeliveryJob{}, fmt.Errorf("update job: %w", err)
	}
	metrics.JobTransitions.WithLabelValues(string(cur.Status), string(to)).Inc()
	driver := ""
	if out.AssignedDriverID != nil {
		driver = *out.AssignedDriverID
	}
	logger.L().Info("job_transition", "job_id", out.ID, "from", cur.Status, "to", to, "driver_id", driver, "version", out.Version)
	reason := ""
	if to == model.JobReturned && out.RefusalReason != nil {
		reason = *out.RefusalReason
	}
	s.emit(ctx, cur.Status, out, reason)
	return out, nil
}

func (s *Service) emit(ctx context.Context, from model.JobStatus, j model.DeliveryJob, reason string) {
	if s.Notify == nil {
		return
	}
	evt := model.JobEvent{
		ID:     uuid.New().String(),
		Type:   EventJobStatusChanged,
		JobID:  j.ID,
		OSID:   j.OSID,
		From:   from,
		To:     j.Status,
		Reason: reason,
		TS:     time.Now().UTC(),
	}
	if j.AssignedDriverID != nil {
		evt.DriverID = *j.AssignedDriverID
	}
	s.Notify.JobChanged(ctx, evt, j)
}

// Reads

func (s *Service) GetJob(ctx context.Context, id string) (model.DeliveryJob, error) {
	return s.Store.GetJob(ctx, id)
}

func (s *Service) ListJobs(ctx context.Context, statuses ...model.JobStatus) ([]model.DeliveryJob, error) {
	return s.Store.ListJobs(ctx, model.JobFilter{Statuses: statuses})
}

func (s *Service) ListJobsByDriver(ctx context.Context, driverID string, statuses ...model.JobStatus) ([]model.DeliveryJob, error) {
	if driverID == "" {
		return []model.DeliveryJob{}, nil
	}
	return s.Store.ListJobs(ctx, model.JobFilter{DriverID: driverID, Statuses: statuses})
}

// PendingQueue lists jobs waiting for a driver, oldest AssignedAt first.
func (s *Service) PendingQueue(ctx context.Context) ([]model.DeliveryJob, error) {
	jobs, err := s.Store.ListJobs(ctx, model.JobFilter{Statuses: []model.JobStatus{model.JobPending, model.JobReturned}})
	if err != nil {
		return nil, err
	}
	sortByAssignedAt(jobs)
	return jobs, nil
}

// ActiveJobFor returns the driver's in-route job, if any. Drivers use it to
// resume after a restart.
func (s *Service) ActiveJobFor(ctx context.Context, driverID string) (model.DeliveryJob, bool, error) {
	jobs, err := s.ListJobsByDriver(ctx, driverID, model.JobInRoute)
	if err != nil {
		return model.DeliveryJob{}, false, err
	}
	if len(jobs) == 0 {
		return model.DeliveryJob{}, false, nil
	}
	sortByAssignedAt(jobs)
	return jobs[0], true, nil
}

// Board is the dispatcher's snapshot.
type Board struct {
	Queue       []model.DeliveryJob    `json:"queue"`
	InRoute     []model.DeliveryJob    `json:"inRoute"`
	Online      []model.DriverPresence `json:"online"`
	GeneratedAt time.Time              `json:"generatedAt"`
}

func (s *Service) Board(ctx context.Context) (Board, error) {
	queue, err := s.PendingQueue(ctx)
	if err != nil {
		return Board{}, err
	}
	inRoute, err := s.ListJobs(ctx, model.JobInRoute)
	if err != nil {
		return Board{}, err
	}
	sortByAssignedAt(inRoute)
	drivers, err := s.Presence.All(ctx)
	if err != nil {
		return Board{}, err
	}
	online := []model.DriverPresence{}
	for _, d := range drivers {
		if d.Online && d.Status != model.DriverOffline {
			online = append(online, d)
		}
	}
	return Board{Queue: queue, InRoute: inRoute, Online: online, GeneratedAt: time.Now().UTC()}, nil
}

func sortByAssignedAt(jobs []model.DeliveryJob) {
	slices.SortStableFunc(jobs, func(a, b model.DeliveryJob) int {
		return a.AssignedAt.Compare(b.AssignedAt)
	})
}
