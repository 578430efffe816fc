package storage

import (
	"fmt"
	"strings"

	"github.com/valyala/fastjson"
)

var responseParsers fastjson.ParserPool

// BulkResult is the outcome of an acknowledged bulk request.
type BulkResult struct {
	// Errors mirrors the "errors" flag of the bulk response.
	Errors bool
	// Items holds the rejected documents only.
	Items []ItemError
	Debug string
}

type ItemError struct {
	Position int
	Status   int
	Type     string
	Reason   string
}

// Failed returns the batch positions OpenSearch rejected.
func (r *BulkResult) Failed() []int {
	positions := make([]int, 0, len(r.Items))
	for _, item := range r.Items {
		positions = append(positions, item.Position)
	}
	return positions
}

func parseBulkResponse(raw []byte) (*BulkResult, error) {
	p := responseParsers.Get()
	defer responseParsers.Put(p)

	v, err := p.ParseBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse bulk response: %w", err)
	}

	result := &BulkResult{Errors: v.GetBool("errors")}
	if !result.Errors {
		return result, nil
	}

	for i, item := range v.GetArray("items") {
		obj, err := item.Object()
		if err != nil {
			continue
		}
		// Each item has a single key naming the action (index, create, ...).
		obj.Visit(func(_ []byte, action *fastjson.Value) {
			errValue := action.Get("error")
			if errValue == nil {
				return
			}
			ie := ItemError{Position: i, Status: action.GetInt("status")}
			if errValue.Type() == fastjson.TypeString {
				ie.Reason = string(errValue.GetStringBytes())
			} else {
				ie.Type = string(errValue.GetStringBytes("type"))
				ie.Reason = string(errValue.GetStringBytes("reason"))
			}
			result.Items = append(result.Items, ie)
		})
	}

	result.Debug = describeItems(result.Items)
	return result, nil
}

func describeItems(items []ItemError) string {
	if len(items) == 0 {
		return "bulk response reported errors without failed items"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d document(s) rejected", len(items))
	for i, item := range items {
		if i == 3 {
			fmt.Fprintf(&b, "; and %d more", len(items)-i)
			break
		}
		fmt.Fprintf(&b, "; #%d [%d] %s: %s", item.Position, item.Status, item.Type, item.Reason)
	}
	return b.String()
}
