// Package testutil provides an in-process stand-in for the parts of the
// OpenSearch HTTP API the shipper talks to.
package testutil

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// IndexedDoc is a document the fake cluster accepted.
type IndexedDoc struct {
	Index  string
	Source map[string]any
}

// BulkCall records one request received on the _bulk endpoint.
type BulkCall struct {
	At   time.Time
	Size int
}

// FakeOpenSearch accepts pings and bulk requests and keeps every accepted
// document in memory.
type FakeOpenSearch struct {
	*httptest.Server

	mu        sync.Mutex
	docs      []IndexedDoc
	calls     []BulkCall
	failNext  int
	down      bool
	rejectDoc func(map[string]any) bool
	delay     time.Duration
}

func NewFakeOpenSearch() *FakeOpenSearch {
	f := &FakeOpenSearch{}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	return f
}

// FailNext makes the next n bulk requests fail with HTTP 500.
func (f *FakeOpenSearch) FailNext(n int) {
	f.mu.Lock()
	f.failNext = n
	f.mu.Unlock()
}

// SetDown makes every request fail with HTTP 500 until called with false.
func (f *FakeOpenSearch) SetDown(down bool) {
	f.mu.Lock()
	f.down = down
	f.mu.Unlock()
}

// RejectWhen makes the cluster report an item error for documents matching fn.
func (f *FakeOpenSearch) RejectWhen(fn func(doc map[string]any) bool) {
	f.mu.Lock()
	f.rejectDoc = fn
	f.mu.Unlock()
}

// SetDelay delays every bulk response.
func (f *FakeOpenSearch) SetDelay(d time.Duration) {
	f.mu.Lock()
	f.delay = d
	f.mu.Unlock()
}

func (f *FakeOpenSearch) Docs() []IndexedDoc {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]IndexedDoc(nil), f.docs...)
}

func (f *FakeOpenSearch) Calls() []BulkCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]BulkCall(nil), f.calls...)
}

// WaitForDocs polls until at least n documents were accepted or the timeout
// passes, and returns what was accepted.
func (f *FakeOpenSearch) WaitForDocs(n int, timeout time.Duration) []IndexedDoc {
	deadline := time.Now().Add(timeout)
	for {
		docs := f.Docs()
		if len(docs) >= n || time.Now().After(deadline) {
			return docs
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (f *FakeOpenSearch) serve(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	f.mu.Lock()
	down := f.down
	f.mu.Unlock()
	if down {
		http.Error(w, `{"error":"cluster unavailable"}`, http.StatusInternalServerError)
		return
	}

	switch {
	case r.URL.Path == "/" && (r.Method == http.MethodHead || r.Method == http.MethodGet):
		_, _ = io.WriteString(w, `{"version":{"number":"2.11.0","distribution":"opensearch"}}`)
	case r.URL.Path == "/_bulk" && (r.Method == http.MethodPost || r.Method == http.MethodPut):
		f.serveBulk(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (f *FakeOpenSearch) serveBulk(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	delay := f.delay
	if f.failNext > 0 {
		f.failNext--
		f.mu.Unlock()
		http.Error(w, `{"error":"injected failure"}`, http.StatusInternalServerError)
		return
	}
	reject := f.rejectDoc
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	var (
		accepted []IndexedDoc
		items    []map[string]any
		errored  bool
	)

	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var action map[string]map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &action); err != nil {
			http.Error(w, fmt.Sprintf("bad action line: %v", err), http.StatusBadRequest)
			return
		}
		if !scanner.Scan() {
			http.Error(w, "missing source line", http.StatusBadRequest)
			return
		}
		var source map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &source); err != nil {
			http.Error(w, fmt.Sprintf("bad source line: %v", err), http.StatusBadRequest)
			return
		}

		index, _ := action["index"]["_index"].(string)
		if reject != nil && reject(source) {
			errored = true
			items = append(items, map[string]any{"index": map[string]any{
				"_index": index,
				"status": 400,
				"error":  map[string]any{"type": "mapper_parsing_exception", "reason": "rejected by test"},
			}})
			continue
		}
		accepted = append(accepted, IndexedDoc{Index: index, Source: source})
		items = append(items, map[string]any{"index": map[string]any{"_index": index, "status": 201}})
	}

	f.mu.Lock()
	f.docs = append(f.docs, accepted...)
	f.calls = append(f.calls, BulkCall{At: time.Now(), Size: len(items)})
	f.mu.Unlock()

	_ = json.NewEncoder(w).Encode(map[string]any{"took": 1, "errors": errored, "items": items})
}
