// Package integrations pulls service orders from external systems and turns
// them into delivery jobs.
package integrations

import (
	"context"
	"errors"
	"fmt"

	"zonedispatch/internal/dispatch"
	"zonedispatch/internal/logger"
	"zonedispatch/internal/metrics"
	"zonedispatch/internal/model"
)

// Source is an order feed: a spreadsheet export, an ERP endpoint, a drop folder.
type Source interface {
	Name() string
	// FetchOrders returns orders after cursor. Rows the source could not
	// parse come back in OrderBatch.Rejected rather than as an error.
	FetchOrders(ctx context.Context, cursor string) (OrderBatch, error)
	// AckOrders tells the source which external refs became jobs.
	AckOrders(ctx context.Context, refs []string) error
}

type Order struct {
	ExternalRef string
	Line        int
	Input       dispatch.JobInput
}

type OrderBatch struct {
	Orders   []Order
	Rejected []RowError
	Cursor   string
}

type RowError struct {
	Line        int    `json:"line"`
	ExternalRef string `json:"externalRef,omitempty"`
	Error       string `json:"error"`
}

// JobCreator is the slice of dispatch.Service an import needs.
type JobCreator interface {
	CreateJob(ctx context.Context, in dispatch.JobInput) (model.DeliveryJob, error)
}

type Result struct {
	Source  string              `json:"source"`
	Created []model.DeliveryJob `json:"created"`
	Failed  []RowError          `json:"failed"`
	Cursor  string              `json:"cursor,omitempty"`
}

// Import fetches one batch and creates a job per order. Orders the
// dispatcher rejects as invalid are reported per row; any other failure
// stops the import and returns what was created so far.
func Import(ctx context.Context, src Source, jobs JobCreator, cursor string) (Result, error) {
	res := Result{Source: src.Name(), Created: []model.DeliveryJob{}, Failed: []RowError{}}
	batch, err := src.FetchOrders(ctx, cursor)
	if err != nil {
		return res, fmt.Errorf("fetch %s: %w", src.Name(), err)
	}
	res.Cursor = batch.Cursor
	res.Failed = append(res.Failed, batch.Rejected...)
	metrics.ImportedOrders.WithLabelValues(src.Name(), "rejected").Add(float64(len(batch.Rejected)))

	var refs []string
	for _, o := range batch.Orders {
		j, err := jobs.CreateJob(ctx, o.Input)
		if errors.Is(err, dispatch.ErrInvalidJob) {
			res.Failed = append(res.Failed, RowError{Line: o.Line, ExternalRef: o.ExternalRef, Error: err.Error()})
			metrics.ImportedOrders.WithLabelValues(src.Name(), "rejected").Inc()
			continue
		}
		if err != nil {
			return res, fmt.Errorf("create job for %s line %d: %w", o.ExternalRef, o.Line, err)
		}
		res.Created = append(res.Created, j)
		refs = append(refs, o.ExternalRef)
		metrics.ImportedOrders.WithLabelValues(src.Name(), "created").Inc()
	}
	if len(refs) > 0 {
		if err := src.AckOrders(ctx, refs); err != nil {
			logger.L().Warn("integration_ack_failed", "source", src.Name(), "count", len(refs), "err", err)
		}
	}
	logger.L().Info("integration_import", "source", src.Name(), "created", len(res.Created), "failed", len(res.Failed))
	return res, nil
}
