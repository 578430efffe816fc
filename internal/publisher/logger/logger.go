// Package logger publishes generated events through a *slog.Logger. Backed
// by sink.NewHandler it ships them in-process without the HTTP API.
package logger

import (
	"context"
	"log/slog"

	"github.com/appfacterp/log-shipper/pkg/model"
)

type LoggerPublisher struct {
	log   *slog.Logger
	close func() error
}

// NewLoggerPublisher logs through l. onClose, when set, runs on Close; the
// generator passes the sink's Close so queued events are flushed.
func NewLoggerPublisher(l *slog.Logger, onClose func() error) *LoggerPublisher {
	return &LoggerPublisher{log: l, close: onClose}
}

func (lp *LoggerPublisher) Publish(ctx context.Context, events []model.LogEvent) error {
	for _, e := range events {
		attrs := make([]slog.Attr, 0, len(e.Properties))
		for k, v := range e.Properties {
			attrs = append(attrs, slog.Any(k, v))
		}
		lp.log.LogAttrs(ctx, e.Level.SlogLevel(), e.RenderMessage(), attrs...)
	}
	return nil
}

func (lp *LoggerPublisher) Close() error {
	if lp.close == nil {
		return nil
	}
	return lp.close()
}
