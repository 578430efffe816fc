package sink

import (
	"fmt"

	"github.com/appfacterp/log-shipper/internal/metrics"
)

// recoverBatch probes every document with the serializer, repairs or drops the
// ones it rejects and sends the survivors once. A second failure abandons
// them.
func (s *Sink) recoverBatch(index string, docs []any) {
	survivors := make([]any, 0, len(docs))
	for i, doc := range docs {
		if s.serializer.CanEncode(doc) {
			metrics.DocumentsRecovered.WithLabelValues("kept").Inc()
			survivors = append(survivors, doc)
			continue
		}
		repaired, reason := s.repair(doc)
		if reason != "" {
			metrics.DocumentsRecovered.WithLabelValues("dropped").Inc()
			metrics.EventsDropped.WithLabelValues(metrics.ReasonEncoding).Inc()
			s.log.Warn("dropping document that cannot be encoded",
				"position", i, "type", fmt.Sprintf("%T", doc), "reason", reason)
			continue
		}
		metrics.DocumentsRecovered.WithLabelValues("repaired").Inc()
		survivors = append(survivors, repaired)
	}

	if len(survivors) == 0 {
		metrics.Batches.WithLabelValues("dropped").Inc()
		s.log.Warn("no documents left to send after recovery", "index", index, "documents", len(docs))
		return
	}

	res, err := s.send(index, survivors)
	switch {
	case err != nil:
		metrics.Batches.WithLabelValues("abandoned").Inc()
		metrics.EventsDropped.WithLabelValues(metrics.ReasonBackend).Add(float64(len(survivors)))
		s.log.Error("failed to index recovered documents, abandoning batch",
			"index", index, "documents", len(survivors), "error", err)
	case res != nil && res.Errors:
		lost := len(selectFailed(survivors, res))
		metrics.Batches.WithLabelValues("abandoned").Inc()
		metrics.EventsDropped.WithLabelValues(metrics.ReasonBackend).Add(float64(lost))
		s.log.Error("opensearch rejected recovered documents, abandoning them",
			"index", index, "documents", lost, "details", res.Debug)
	default:
		metrics.Batches.WithLabelValues("recovered").Inc()
		s.log.Info("recovered batch indexed", "index", index, "documents", len(survivors))
	}
}

// repair returns a non-empty reason when doc cannot be made encodable.
func (s *Sink) repair(doc any) (repaired any, reason string) {
	r, ok := doc.(Recoverable)
	if !ok {
		return nil, "document does not support recovery"
	}
	repaired, ok = s.tryRecover(r)
	if !ok {
		return nil, "recovery failed"
	}
	if !s.serializer.CanEncode(repaired) {
		return nil, "recovered document still cannot be encoded"
	}
	return repaired, ""
}

func (s *Sink) tryRecover(r Recoverable) (repaired any, ok bool) {
	defer func() {
		if p := recover(); p != nil {
			repaired, ok = nil, false
		}
	}()
	return r.Recover(s.serializer)
}
