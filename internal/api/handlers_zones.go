package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"zonedispatch/internal/geo"
	"zonedispatch/internal/logger"
	"zonedispatch/internal/model"
	"zonedispatch/internal/zones"
)

// zoneRequest is the body of zone create and update. Polygon accepts any
// shape geo.Normalize understands. Price is operator text ("8,50") or a
// number and is saved for DepositID together with the zone.
type zoneRequest struct {
	Name      *string         `json:"name"`
	Color     *string         `json:"color"`
	Polygon   any             `json:"polygon"`
	DepositID string          `json:"depositId"`
	Price     json.RawMessage `json:"price"`
}

type zoneResponse struct {
	model.Zone
	Overlaps []zoneRef `json:"overlaps,omitempty"`
	// PriceError is set when the zone was saved but its price was not.
	PriceError string `json:"priceError,omitempty"`
}

type zoneRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func refs(zs []model.Zone) []zoneRef {
	out := make([]zoneRef, 0, len(zs))
	for _, z := range zs {
		out = append(out, zoneRef{ID: z.ID, Name: z.Name})
	}
	return out
}

// priceText turns the raw price field into the text ParsePrice reads.
func priceText(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return "", fmt.Errorf("%w: price must be text or a number", zones.ErrValidation)
	}
	return strconv.FormatFloat(f, 'f', -1, 64), nil
}

func (s *Server) listZones(w http.ResponseWriter, r *http.Request) {
	zs, err := s.Zones.ListZones(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": zs})
}

func (s *Server) getZone(w http.ResponseWriter, r *http.Request) {
	z, err := s.Zones.GetZone(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, z)
}

func (s *Server) createZone(w http.ResponseWriter, r *http.Request) {
	var req zoneRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	name, color := "", ""
	if req.Name != nil {
		name = *req.Name
	}
	if req.Color != nil {
		color = *req.Color
	}
	ed := zones.NewEditor(s.Zones, s.Pricing)
	ed.NewZone(name, color)
	s.saveDraft(w, r, ed, req, http.StatusCreated)
}

func (s *Server) updateZone(w http.ResponseWriter, r *http.Request) {
	var req zoneRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	cur, err := s.Zones.GetZone(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	ed := zones.NewEditor(s.Zones, s.Pricing)
	ed.Select(cur)
	name, color := cur.Name, cur.Color
	if req.Name != nil {
		name = *req.Name
	}
	if req.Color != nil {
		color = *req.Color
	}
	ed.Rename(name, color)
	s.saveDraft(w, r, ed, req, http.StatusOK)
}

// saveDraft finishes a create or update through the editor so geometry is
// normalized at a single point. Zones without a drawing skip the editor,
// which refuses to save an empty polygon.
func (s *Server) saveDraft(w http.ResponseWriter, r *http.Request, ed *zones.Editor, req zoneRequest, status int) {
	ctx := r.Context()
	if req.Polygon != nil && !ed.SetPolygon(req.Polygon) {
		writeProblem(w, http.StatusUnprocessableEntity, "Validation failed", "polygon has no usable ring", r.URL.Path)
		return
	}
	text, err := priceText(req.Price)
	if err != nil {
		writeError(w, r, err)
		return
	}
	d, _ := ed.Draft()

	var (
		z    model.Zone
		warn []model.Zone
	)
	if d.Polygon.Empty() {
		withPrice := req.DepositID != "" && strings.TrimSpace(text) != ""
		var price float64
		if withPrice {
			if price, err = zones.ParsePrice(text); err != nil {
				writeError(w, r, err)
				return
			}
		}
		z, err = s.Zones.UpsertZone(ctx, model.Zone{ID: d.ZoneID, Name: d.Name, Color: d.Color})
		if err == nil && withPrice {
			_, err = s.Pricing.SetPrice(ctx, z.ID, req.DepositID, price)
		}
	} else {
		if warn, err = ed.OverlapWarnings(ctx); err != nil {
			writeError(w, r, err)
			return
		}
		z, err = ed.Save(ctx, req.DepositID, text)
	}
	if err != nil && z.ID == "" {
		writeError(w, r, err)
		return
	}
	resp := zoneResponse{Zone: z, Overlaps: refs(warn)}
	if err != nil {
		// The zone write went through; only the price failed. Report both
		// so the client does not retry a create and duplicate the zone.
		logger.L().Warn("zone_price_failed", "zone_id", z.ID, "deposit_id", req.DepositID, "err", err)
		resp.PriceError = err.Error()
	}
	writeJSON(w, status, resp)
}

func (s *Server) deleteZone(w http.ResponseWriter, r *http.Request) {
	policy := zones.SectorPolicy{MoveTo: r.URL.Query().Get("moveSectorsTo")}
	if err := s.Zones.DeleteZone(r.Context(), chi.URLParam(r, "id"), policy); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) zoneOverlaps(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Polygon   any    `json:"polygon"`
		ExcludeID string `json:"excludeId"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	poly, ok := geo.Normalize(req.Polygon)
	if !ok {
		writeProblem(w, http.StatusUnprocessableEntity, "Validation failed", "polygon has no usable ring", r.URL.Path)
		return
	}
	zs, err := s.Zones.Overlaps(r.Context(), poly, req.ExcludeID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": refs(zs)})
}

func (s *Server) zoneLookup(w http.ResponseWriter, r *http.Request) {
	pt, ok := pointParam(r)
	if !ok {
		writeProblem(w, http.StatusBadRequest, "Invalid coordinates", "lat and lng are required numbers", r.URL.Path)
		return
	}
	z, err := s.Zones.ZoneAt(r.Context(), pt)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, z)
}

func pointParam(r *http.Request) (geo.Point, bool) {
	q := r.URL.Query()
	lat, err1 := strconv.ParseFloat(q.Get("lat"), 64)
	lng, err2 := strconv.ParseFloat(q.Get("lng"), 64)
	if err1 != nil || err2 != nil {
		return geo.Point{}, false
	}
	return geo.Point{Lat: lat, Lng: lng}, true
}

// Sectors

type sectorRequest struct {
	ZoneID string `json:"zoneId"`
	Name   string `json:"name"`
}

func (s *Server) listSectors(w http.ResponseWriter, r *http.Request) {
	items, err := s.Zones.ListSectors(r.Context(), r.URL.Query().Get("zoneId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) createSector(w http.ResponseWriter, r *http.Request) {
	var req sectorRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sec, err := s.Zones.AddSector(r.Context(), req.ZoneID, req.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sec)
}

func (s *Server) updateSector(w http.ResponseWriter, r *http.Request) {
	var req sectorRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")
	if _, err := s.Store.GetSector(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	sec, err := s.Zones.UpsertSector(r.Context(), model.Sector{ID: id, ZoneID: req.ZoneID, Name: req.Name})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sec)
}

func (s *Server) deleteSector(w http.ResponseWriter, r *http.Request) {
	if err := s.Zones.DeleteSector(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) moveSector(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ZoneID string `json:"zoneId"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	sec, err := s.Zones.MoveSector(r.Context(), chi.URLParam(r, "id"), req.ZoneID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sec)
}

// Prices and deposits

// getPrices lists a deposit's price rows, or returns the single price for a
// zone/deposit pair when zoneId is also given.
func (s *Server) getPrices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	depositID, zoneID := q.Get("depositId"), q.Get("zoneId")
	if zoneID != "" {
		if depositID == "" {
			writeProblem(w, http.StatusBadRequest, "Missing depositId", "", r.URL.Path)
			return
		}
		price, ok, err := s.Pricing.GetPrice(r.Context(), zoneID, depositID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"zoneId": zoneID, "depositId": depositID, "price": price, "configured": ok})
		return
	}
	items, err := s.Pricing.ListPrices(r.Context(), depositID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) putPrice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ZoneID    string          `json:"zoneId"`
		DepositID string          `json:"depositId"`
		Price     json.RawMessage `json:"price"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	text, err := priceText(req.Price)
	if err != nil {
		writeError(w, r, err)
		return
	}
	price, err := zones.ParsePrice(text)
	if err != nil {
		writeError(w, r, err)
		return
	}
	row, err := s.Pricing.SetPrice(r.Context(), req.ZoneID, req.DepositID, price)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

func (s *Server) deletePrice(w http.ResponseWriter, r *http.Request) {
	if err := s.Pricing.DeletePrice(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// quote prices an order either by zoneId or by lat/lng.
func (s *Server) quote(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	depositID := q.Get("depositId")
	if depositID == "" {
		writeProblem(w, http.StatusBadRequest, "Missing depositId", "", r.URL.Path)
		return
	}
	subtotal := 0.0
	if v := q.Get("subtotal"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid subtotal", err.Error(), r.URL.Path)
			return
		}
		subtotal = f
	}
	var (
		res zones.Quote
		err error
	)
	if zoneID := q.Get("zoneId"); zoneID != "" {
		res, err = s.Pricing.DeliveryFee(r.Context(), zoneID, depositID, subtotal)
	} else if pt, ok := pointParam(r); ok {
		res, err = s.Pricing.QuoteAt(r.Context(), pt, depositID, subtotal)
	} else {
		writeProblem(w, http.StatusBadRequest, "Missing zone", "zoneId or lat/lng is required", r.URL.Path)
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) putDeposit(w http.ResponseWriter, r *http.Request) {
	var d model.Deposit
	if !decodeJSON(w, r, &d) {
		return
	}
	d.ID = chi.URLParam(r, "id")
	out, err := s.Pricing.PutDeposit(r.Context(), d)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) putFreeShipping(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Value float64 `json:"value"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	out, err := s.Pricing.SetFreeShippingThreshold(r.Context(), chi.URLParam(r, "id"), req.Value)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// Geocoding

// resolveAddress never fails on "nothing found": that comes back as a
// not_found resolution with a notice for the operator.
func (s *Server) resolveAddress(w http.ResponseWriter, r *http.Request) {
	if s.Geocoder == nil {
		writeProblem(w, http.StatusServiceUnavailable, "Geocoder disabled", "", r.URL.Path)
		return
	}
	res, err := s.Geocoder.Resolve(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
