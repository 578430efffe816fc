// Package publisher holds the outputs the load generator can write to.
package publisher

import (
	"context"

	"github.com/appfacterp/log-shipper/pkg/model"
)

type Publisher interface {
	Publish(ctx context.Context, events []model.LogEvent) error
	Close() error
}
