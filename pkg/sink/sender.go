package sink

import (
	"context"

	"github.com/appfacterp/log-shipper/internal/metrics"
	"github.com/appfacterp/log-shipper/pkg/model"
	"github.com/appfacterp/log-shipper/pkg/storage"
)

func (s *Sink) sendBatch(events []model.LogEvent) {
	metrics.BatchSize.Observe(float64(len(events)))

	docs, err := s.mapAll(events)
	if err != nil {
		metrics.Batches.WithLabelValues("mapping_failed").Inc()
		metrics.EventsDropped.WithLabelValues(metrics.ReasonMapping).Add(float64(len(events)))
		s.log.Error("failed to map events, dropping batch", "events", len(events), "error", err)
		return
	}

	index := s.indexName()
	res, err := s.send(index, docs)
	switch {
	case err != nil:
		s.log.Warn("failed to index events into opensearch", "index", index, "documents", len(docs), "error", err)
		s.recoverBatch(index, docs)
	case res != nil && res.Errors:
		failed := selectFailed(docs, res)
		s.log.Warn("opensearch rejected documents", "index", index, "documents", len(failed), "details", res.Debug)
		s.recoverBatch(index, failed)
	default:
		metrics.Batches.WithLabelValues("success").Inc()
	}
}

func (s *Sink) mapAll(events []model.LogEvent) ([]any, error) {
	docs := make([]any, len(events))
	for i, e := range events {
		doc, err := s.opts.Mapper(e)
		if err != nil {
			return nil, &MappingError{Position: i, Err: err}
		}
		docs[i] = doc
	}
	return docs, nil
}

func (s *Sink) indexName() string {
	if s.opts.IndexNameFactory != nil {
		if name := s.opts.IndexNameFactory(); name != "" {
			return name
		}
	}
	return s.opts.Index
}

func (s *Sink) send(index string, docs []any) (*storage.BulkResult, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.SendTimeout)
	defer cancel()
	return s.indexer.SendMany(ctx, index, docs)
}

// selectFailed returns the documents at the positions OpenSearch rejected.
// A response that flags errors without naming items fails every document.
func selectFailed(docs []any, res *storage.BulkResult) []any {
	positions := res.Failed()
	if len(positions) == 0 {
		return docs
	}
	failed := make([]any, 0, len(positions))
	for _, p := range positions {
		if p >= 0 && p < len(docs) {
			failed = append(failed, docs[p])
		}
	}
	return failed
}
