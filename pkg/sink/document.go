package sink

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/appfacterp/log-shipper/pkg/codec"
	"github.com/appfacterp/log-shipper/pkg/model"
)

// Mapper turns an event into the document stored in OpenSearch. A mapping
// error drops the whole batch.
type Mapper func(model.LogEvent) (any, error)

// Recoverable is implemented by documents that can produce a degraded but
// encodable copy of themselves after a failed send.
type Recoverable interface {
	Recover(s codec.Serializer) (any, bool)
}

const (
	// ExceptionKey is the property that carries the rendered error when the
	// structured form cannot be encoded.
	ExceptionKey = "Exception"

	failedToSerialize = "[[[failed to serialize]]]"
	nullValue         = "[[[null]]]"

	maxCauseDepth  = 16
	maxRenderDepth = 8
)

// Document is what DefaultMapper produces.
type Document struct {
	Timestamp time.Time
	Level     string
	Message   string
	Template  string
	Props     map[string]any
	Exception error

	// set by Recover when Timestamp cannot be encoded
	timestampText string
}

type documentJSON struct {
	Timestamp any            `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Template  string         `json:"template,omitempty"`
	Props     map[string]any `json:"props,omitempty"`
	Exception json.Marshaler `json:"exception,omitempty"`
}

func (d Document) MarshalJSON() ([]byte, error) {
	out := documentJSON{
		Timestamp: d.Timestamp,
		Level:     d.Level,
		Message:   d.Message,
		Template:  d.Template,
		Props:     d.Props,
	}
	if d.timestampText != "" {
		out.Timestamp = d.timestampText
	}
	if d.Exception != nil {
		out.Exception = errorJSON{d.Exception}
	}
	return json.Marshal(out)
}

// DefaultMapper copies the event into a Document. The event id property and
// null values (nil or a nil pointer) are left out.
func DefaultMapper(e model.LogEvent) (any, error) {
	props := make(map[string]any, len(e.Properties))
	for k, v := range e.Properties {
		if k == model.EventIDKey || isNil(v) {
			continue
		}
		props[k] = v
	}
	return Document{
		Timestamp: e.Timestamp,
		Level:     string(e.Level),
		Message:   e.RenderMessage(),
		Template:  e.Template,
		Props:     props,
		Exception: e.Err,
	}, nil
}

// Recover replaces every property the serializer rejects with its text
// rendering. A timestamp outside the RFC 3339 range is written as text. If
// the error itself cannot be encoded it is rendered into the Exception
// property instead.
func (d Document) Recover(s codec.Serializer) (any, bool) {
	out := d
	if !s.CanEncode(d.Timestamp) {
		out.timestampText = d.Timestamp.Format(time.RFC3339Nano)
	}
	out.Props = make(map[string]any, len(d.Props)+1)
	for k, v := range d.Props {
		if s.CanEncode(v) {
			out.Props[k] = v
			continue
		}
		out.Props[k] = renderValue(v)
	}

	if d.Exception != nil && !s.CanEncode(errorJSON{d.Exception}) {
		out.Exception = nil
		key := ExceptionKey
		if _, taken := out.Props[key]; taken {
			key += uuid.NewString()
		}
		out.Props[key] = renderValue(d.Exception)
	}

	return out, s.CanEncode(out)
}

type errorJSON struct {
	err error
}

type exceptionJSON struct {
	Type    string         `json:"type"`
	Message string         `json:"message"`
	Detail  any            `json:"detail,omitempty"`
	Inner   *exceptionJSON `json:"inner,omitempty"`
}

func (e errorJSON) MarshalJSON() ([]byte, error) {
	return json.Marshal(describeError(e.err, 0))
}

func describeError(err error, depth int) *exceptionJSON {
	if err == nil || depth >= maxCauseDepth {
		return nil
	}
	e := &exceptionJSON{
		Type:    fmt.Sprintf("%T", err),
		Message: err.Error(),
		Inner:   describeError(errors.Unwrap(err), depth+1),
	}
	if m, ok := err.(json.Marshaler); ok {
		e.Detail = m
	}
	return e
}

// renderValue produces a best effort text form of v. It never panics and
// never recurses without bound.
func renderValue(v any) (s string) {
	defer func() {
		if r := recover(); r != nil {
			s = failedToSerialize
		}
	}()

	switch t := v.(type) {
	case nil:
		return nullValue
	case error:
		if _, ok := t.(fmt.Formatter); ok {
			return fmt.Sprintf("%+v", t)
		}
		return t.Error()
	case fmt.Stringer:
		return t.String()
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct, reflect.Pointer, reflect.Interface:
		var b strings.Builder
		writeBounded(&b, rv, 0)
		return b.String()
	}
	return fmt.Sprintf("%+v", v)
}

func writeBounded(b *strings.Builder, v reflect.Value, depth int) {
	if depth > maxRenderDepth {
		b.WriteString("...")
		return
	}
	switch v.Kind() {
	case reflect.Invalid:
		b.WriteString("<nil>")
	case reflect.Interface, reflect.Pointer:
		if v.IsNil() {
			b.WriteString("<nil>")
			return
		}
		writeBounded(b, v.Elem(), depth+1)
	case reflect.Map:
		b.WriteString("map[")
		iter := v.MapRange()
		for i := 0; iter.Next(); i++ {
			if i > 0 {
				b.WriteByte(' ')
			}
			writeBounded(b, iter.Key(), depth+1)
			b.WriteByte(':')
			writeBounded(b, iter.Value(), depth+1)
		}
		b.WriteByte(']')
	case reflect.Slice, reflect.Array:
		b.WriteByte('[')
		for i := 0; i < v.Len(); i++ {
			if i > 0 {
				b.WriteByte(' ')
			}
			writeBounded(b, v.Index(i), depth+1)
		}
		b.WriteByte(']')
	case reflect.Struct:
		b.WriteByte('{')
		t := v.Type()
		for i := 0; i < v.NumField(); i++ {
			if i > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(t.Field(i).Name)
			b.WriteByte(':')
			writeBounded(b, v.Field(i), depth+1)
		}
		b.WriteByte('}')
	default:
		fmt.Fprintf(b, "%v", v)
	}
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Pointer && rv.IsNil()
}
