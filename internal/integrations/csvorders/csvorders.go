// Package csvorders reads service orders from a spreadsheet export. Headers
// are matched case and accent insensitively, and both "," and ";" separated
// files are accepted.
package csvorders

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"zonedispatch/internal/dispatch"
	"zonedispatch/internal/geocode"
	"zonedispatch/internal/integrations"
	"zonedispatch/internal/zones"
)

var ErrNoOSColumn = errors.New("csv has no service order column")

type field int

const (
	fOS field = iota
	fCustomer
	fPhone
	fFull
	fStreet
	fNumber
	fDistrict
	fCity
	fLat
	fLng
	fTotal
	fItems
	fObservation
	fDeposit
	fZone
)

var aliases = map[string]field{
	"os": fOS, "os_id": fOS, "osid": fOS, "ordem de servico": fOS, "numero os": fOS, "pedido": fOS,
	"cliente": fCustomer, "customer": fCustomer, "customer_name": fCustomer, "nome": fCustomer,
	"telefone": fPhone, "fone": fPhone, "phone": fPhone, "celular": fPhone,
	"endereco": fFull, "address": fFull, "endereco completo": fFull,
	"rua": fStreet, "logradouro": fStreet, "street": fStreet,
	"numero": fNumber, "number": fNumber, "n": fNumber,
	"bairro": fDistrict, "district": fDistrict,
	"cidade": fCity, "city": fCity,
	"lat": fLat, "latitude": fLat,
	"lng": fLng, "lon": fLng, "longitude": fLng,
	"valor": fTotal, "total": fTotal, "valor total": fTotal, "total_value": fTotal,
	"itens": fItems, "items": fItems, "produtos": fItems,
	"observacao": fObservation, "obs": fObservation, "observation": fObservation,
	"deposito": fDeposit, "deposit": fDeposit, "deposit_id": fDeposit,
	"zona": fZone, "zone": fZone, "zone_id": fZone,
}

// Source serves one uploaded file as a single batch.
type Source struct {
	name string
	data []byte

	mu    sync.Mutex
	acked []string
}

func New(name string, r io.Reader) (*Source, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = "csv"
	}
	return &Source{name: name, data: data}, nil
}

func (s *Source) Name() string { return s.name }

// FetchOrders parses the whole file. The cursor is the number of data rows
// already consumed, so a second fetch with the returned cursor is empty.
func (s *Source) FetchOrders(ctx context.Context, cursor string) (integrations.OrderBatch, error) {
	skip := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 {
			return integrations.OrderBatch{}, fmt.Errorf("bad cursor %q", cursor)
		}
		skip = n
	}
	batch, rows, err := Parse(bytes.NewReader(s.data), skip)
	if err != nil {
		return integrations.OrderBatch{}, err
	}
	batch.Cursor = strconv.Itoa(rows)
	return batch, nil
}

func (s *Source) AckOrders(ctx context.Context, refs []string) error {
	s.mu.Lock()
	s.acked = append(s.acked, refs...)
	s.mu.Unlock()
	return nil
}

// Acked lists the refs confirmed so far.
func (s *Source) Acked() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.acked...)
}

// Parse reads every data row after the first skip ones and returns the
// orders, the per-row rejections and the total number of data rows seen.
// Line numbers are 1-based file lines, the header being line 1.
func Parse(r io.Reader, skip int) (integrations.OrderBatch, int, error) {
	br := bufio.NewReader(r)
	cr := csv.NewReader(br)
	cr.Comma = sniffComma(br)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return integrations.OrderBatch{}, 0, ErrNoOSColumn
	}
	if err != nil {
		return integrations.OrderBatch{}, 0, fmt.Errorf("csv header: %w", err)
	}
	cols := map[field]int{}
	for i, h := range header {
		key := geocode.Fold(strings.TrimPrefix(h, "\ufeff"))
		if f, ok := aliases[key]; ok {
			if _, dup := cols[f]; !dup {
				cols[f] = i
			}
		}
	}
	if _, ok := cols[fOS]; !ok {
		return integrations.OrderBatch{}, 0, ErrNoOSColumn
	}

	batch := integrations.OrderBatch{Orders: []integrations.Order{}, Rejected: []integrations.RowError{}}
	rows := 0
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				rows++
				if rows > skip {
					batch.Rejected = append(batch.Rejected, integrations.RowError{Line: perr.StartLine, Error: perr.Err.Error()})
				}
				continue
			}
			return batch, rows, fmt.Errorf("csv: %w", err)
		}
		if blank(rec) {
			continue
		}
		line, _ := cr.FieldPos(0)
		rows++
		if rows <= skip {
			continue
		}
		get := func(f field) string {
			if i, ok := cols[f]; ok && i < len(rec) {
				return strings.TrimSpace(rec[i])
			}
			return ""
		}
		in, err := rowInput(get)
		if err != nil {
			batch.Rejected = append(batch.Rejected, integrations.RowError{Line: line, ExternalRef: get(fOS), Error: err.Error()})
			continue
		}
		batch.Orders = append(batch.Orders, integrations.Order{ExternalRef: in.OSID, Line: line, Input: in})
	}
	return batch, rows, nil
}

func rowInput(get func(field) string) (dispatch.JobInput, error) {
	in := dispatch.JobInput{
		OSID:          get(fOS),
		CustomerName:  get(fCustomer),
		CustomerPhone: get(fPhone),
		ItemsSummary:  get(fItems),
		Observation:   get(fObservation),
		DepositID:     get(fDeposit),
		ZoneID:        get(fZone),
	}
	in.Address.Full = get(fFull)
	in.Address.Street = get(fStreet)
	in.Address.Number = get(fNumber)
	in.Address.District = get(fDistrict)
	in.Address.City = get(fCity)

	if v := get(fTotal); v != "" {
		total, err := zones.ParsePrice(v)
		if err != nil {
			return in, err
		}
		in.TotalValue = total
	}
	lat, lng := get(fLat), get(fLng)
	if lat != "" || lng != "" {
		la, err1 := coord(lat, 90)
		ln, err2 := coord(lng, 180)
		if err := errors.Join(err1, err2); err != nil {
			return in, err
		}
		in.Address.Lat, in.Address.Lng = &la, &ln
	}
	return in, nil
}

func coord(s string, limit float64) (float64, error) {
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
	if err != nil {
		return 0, fmt.Errorf("coordinate %q is not a number", s)
	}
	if v < -limit || v > limit {
		return 0, fmt.Errorf("coordinate %v out of range", v)
	}
	return v, nil
}

// sniffComma picks ";" when the header line has more of them than commas.
func sniffComma(br *bufio.Reader) rune {
	peek, _ := br.Peek(4096)
	if i := bytes.IndexByte(peek, '\n'); i >= 0 {
		peek = peek[:i]
	}
	if bytes.Count(peek, []byte(";")) > bytes.Count(peek, []byte(",")) {
		return ';'
	}
	return ','
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
