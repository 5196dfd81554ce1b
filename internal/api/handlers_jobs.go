package api

import (
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"zonedispatch/internal/dispatch"
	"zonedispatch/internal/geo"
	"zonedispatch/internal/integrations"
	"zonedispatch/internal/integrations/csvorders"
	"zonedispatch/internal/model"
)

// statusParams reads ?status= as repeated or comma separated values.
func statusParams(r *http.Request) ([]model.JobStatus, bool) {
	var out []model.JobStatus
	for _, v := range r.URL.Query()["status"] {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			st := model.JobStatus(strings.ToUpper(part))
			if !st.Valid() {
				return nil, false
			}
			out = append(out, st)
		}
	}
	return out, true
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	statuses, ok := statusParams(r)
	if !ok {
		writeProblem(w, http.StatusBadRequest, "Invalid status", "", r.URL.Path)
		return
	}
	items, err := s.Dispatch.ListJobs(r.Context(), statuses...)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	var in dispatch.JobInput
	if !decodeJSON(w, r, &in) {
		return
	}
	j, err := s.Dispatch.CreateJob(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, j)
}

// importJobs takes a CSV export of service orders and creates a job per row.
// Bad rows are reported back; the rest still go through.
func (s *Server) importJobs(w http.ResponseWriter, r *http.Request) {
	src, err := csvorders.New(r.URL.Query().Get("source"), io.LimitReader(r.Body, 8<<20))
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Unreadable body", err.Error(), r.URL.Path)
		return
	}
	res, err := integrations.Import(r.Context(), src, s.Dispatch, "")
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusCreated
	if len(res.Created) == 0 {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	j, ok := s.jobForCaller(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (s *Server) jobQueue(w http.ResponseWriter, r *http.Request) {
	items, err := s.Dispatch.PendingQueue(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) board(w http.ResponseWriter, r *http.Request) {
	b, err := s.Dispatch.Board(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) jobSuggestions(w http.ResponseWriter, r *http.Request) {
	list, err := s.Dispatch.SuggestDrivers(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": list})
}

func (s *Server) startJob(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DriverID string `json:"driverId"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	j, err := s.Dispatch.StartRoute(r.Context(), chi.URLParam(r, "id"), req.DriverID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (s *Server) completeJob(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.jobForCaller(w, r); !ok {
		return
	}
	j, err := s.Dispatch.CompleteJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (s *Server) returnJob(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	// Checked before the job lookup so a blank reason never reaches the store.
	if strings.TrimSpace(req.Reason) == "" {
		writeError(w, r, dispatch.ErrReasonRequired)
		return
	}
	if _, ok := s.jobForCaller(w, r); !ok {
		return
	}
	j, err := s.Dispatch.ReturnJob(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	j, err := s.Dispatch.CancelJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

// jobForCaller loads the job in the URL. Drivers only see jobs assigned to
// them.
func (s *Server) jobForCaller(w http.ResponseWriter, r *http.Request) (model.DeliveryJob, bool) {
	j, err := s.Dispatch.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return model.DeliveryJob{}, false
	}
	pr := principalFrom(r.Context())
	if pr.IsOperator() {
		return j, true
	}
	if j.AssignedDriverID == nil || *j.AssignedDriverID != pr.DriverID || pr.DriverID == "" {
		writeProblem(w, http.StatusForbidden, "Forbidden", "job is not assigned to this driver", r.URL.Path)
		return model.DeliveryJob{}, false
	}
	return j, true
}

// Drivers

func (s *Server) driverJobs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !selfOrOperator(w, r, id) {
		return
	}
	statuses, ok := statusParams(r)
	if !ok {
		writeProblem(w, http.StatusBadRequest, "Invalid status", "", r.URL.Path)
		return
	}
	items, err := s.Dispatch.ListJobsByDriver(r.Context(), id, statuses...)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// driverActiveJob is the recovery check a driver app runs when it starts.
func (s *Server) driverActiveJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !selfOrOperator(w, r, id) {
		return
	}
	j, ok, err := s.Dispatch.ActiveJobFor(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"active": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"active": true, "job": j})
}

type heartbeatRequest struct {
	Status model.DriverStatus `json:"status"`
	Name   string             `json:"name"`
	Lat    *float64           `json:"lat"`
	Lng    *float64           `json:"lng"`
}

func (s *Server) heartbeat(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !selfOrOperator(w, r, id) {
		return
	}
	var req heartbeatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	name := req.Name
	if name == "" {
		name = principalFrom(r.Context()).Name
	}
	var at *geo.Point
	if pt, ok := (model.Address{Lat: req.Lat, Lng: req.Lng}).Point(); ok {
		at = &pt
	}
	p, err := s.Presence.Heartbeat(r.Context(), id, name, req.Status, at)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) driverStatus(w http.ResponseWriter, r *http.Request) {
	var (
		items []model.DriverPresence
		err   error
	)
	if r.URL.Query().Get("available") == "true" {
		items, err = s.Presence.Available(r.Context())
	} else {
		items, err = s.Presence.All(r.Context())
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "windowSeconds": int(s.Presence.Window.Seconds())})
}
