package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"runtime"
	"slices"
	"time"

	"github.com/appfacterp/log-shipper/pkg/model"
)

type HandlerOptions struct {
	// Level is the minimum level forwarded to the sink. Defaults to Info.
	Level slog.Leveler
	// AddSource records the caller as a "source" property.
	AddSource bool
}

// Handler is a slog.Handler that forwards records to a Sink. An attribute
// named "error" or "err" holding an error becomes the event's error.
type Handler struct {
	sink   *Sink
	opts   HandlerOptions
	props  map[string]any
	groups []string
}

func NewHandler(s *Sink, opts *HandlerOptions) *Handler {
	h := &Handler{sink: s, props: map[string]any{}}
	if opts != nil {
		h.opts = *opts
	}
	if h.opts.Level == nil {
		h.opts.Level = slog.LevelInfo
	}
	return h
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.opts.Level.Level()
}

func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	props := cloneProps(h.props)
	target := groupMap(props, h.groups)

	var errValue error
	r.Attrs(func(a slog.Attr) bool {
		if errValue == nil && (a.Key == "error" || a.Key == "err") {
			if err, ok := a.Value.Resolve().Any().(error); ok {
				errValue = err
				return true
			}
		}
		addAttr(target, a)
		return true
	})

	if h.opts.AddSource && r.PC != 0 {
		frame, _ := runtime.CallersFrames([]uintptr{r.PC}).Next()
		props["source"] = fmt.Sprintf("%s:%d", frame.File, frame.Line)
	}

	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	h.sink.Emit(model.LogEvent{
		Timestamp:  ts,
		Level:      model.LevelFromSlog(r.Level),
		Message:    r.Message,
		Template:   r.Message,
		Properties: props,
		Err:        errValue,
	})
	return nil
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	h2 := h.clone()
	target := groupMap(h2.props, h2.groups)
	for _, a := range attrs {
		addAttr(target, a)
	}
	return h2
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := h.clone()
	h2.groups = append(h2.groups, name)
	return h2
}

func (h *Handler) clone() *Handler {
	return &Handler{
		sink:   h.sink,
		opts:   h.opts,
		props:  cloneProps(h.props),
		groups: slices.Clip(h.groups),
	}
}

func addAttr(m map[string]any, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() != slog.KindGroup {
		v := a.Value.Any()
		if err, ok := v.(error); ok && !isJSONMarshaler(err) {
			v = err.Error()
		}
		m[a.Key] = v
		return
	}

	attrs := a.Value.Group()
	if len(attrs) == 0 {
		return
	}
	target := m
	if a.Key != "" {
		target = groupMap(m, []string{a.Key})
	}
	for _, ga := range attrs {
		addAttr(target, ga)
	}
}

// groupMap walks (and creates) the nested maps for path.
func groupMap(m map[string]any, path []string) map[string]any {
	for _, g := range path {
		next, ok := m[g].(map[string]any)
		if !ok {
			next = map[string]any{}
			m[g] = next
		}
		m = next
	}
	return m
}

// cloneProps copies the nested group maps so handlers derived with
// WithAttrs never share them.
func cloneProps(m map[string]any) map[string]any {
	out := maps.Clone(m)
	if out == nil {
		out = map[string]any{}
	}
	for k, v := range out {
		if sub, ok := v.(map[string]any); ok {
			out[k] = cloneProps(sub)
		}
	}
	return out
}

func isJSONMarshaler(err error) bool {
	var m interface{ MarshalJSON() ([]byte, error) }
	return errors.As(err, &m)
}
