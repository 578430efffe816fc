package console

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/appfacterp/log-shipper/pkg/model"
)

// ConsolePublisher writes one JSON line per event.
type ConsolePublisher struct {
	mu  sync.Mutex
	out io.Writer
}

func NewConsolePublisher(out io.Writer) *ConsolePublisher {
	if out == nil {
		out = os.Stdout
	}
	return &ConsolePublisher{out: out}
}

func (cp *ConsolePublisher) Publish(_ context.Context, events []model.LogEvent) error {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	for _, event := range events {
		data, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("failed to marshal log event: %w", err)
		}
		if _, err := fmt.Fprintln(cp.out, string(data)); err != nil {
			return err
		}
	}
	return nil
}

func (cp *ConsolePublisher) Close() error {
	return nil
}
