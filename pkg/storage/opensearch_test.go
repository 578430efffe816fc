package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"regexp"
	"testing"

	"github.com/appfacterp/log-shipper/internal/testutil"
)

func newTestClient(t *testing.T, fake *testutil.FakeOpenSearch) *OpenSearchClient {
	t.Helper()
	c, err := NewOpenSearchClient(Config{Addresses: []string{fake.URL}})
	if err != nil {
		t.Fatalf("NewOpenSearchClient: %v", err)
	}
	return c
}

func TestNewOpenSearchClient_RequiresAddress(t *testing.T) {
	if _, err := NewOpenSearchClient(Config{}); err == nil {
		t.Fatal("expected error without addresses")
	}
}

func TestPing(t *testing.T) {
	fake := testutil.NewFakeOpenSearch()
	defer fake.Close()
	c := newTestClient(t, fake)

	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("expected ping to succeed, got %v", err)
	}

	fake.SetDown(true)
	if err := c.Ping(context.Background()); err == nil {
		t.Fatal("expected ping to fail while cluster is down")
	}
}

func TestSendMany_Success(t *testing.T) {
	fake := testutil.NewFakeOpenSearch()
	defer fake.Close()
	c := newTestClient(t, fake)

	docs := []any{
		map[string]any{"message": "one"},
		map[string]any{"message": "two"},
	}
	res, err := c.SendMany(context.Background(), "logs", docs)
	if err != nil {
		t.Fatalf("SendMany: %v", err)
	}
	if res.Errors {
		t.Fatalf("unexpected item errors: %s", res.Debug)
	}

	got := fake.Docs()
	if len(got) != 2 {
		t.Fatalf("expected 2 indexed docs, got %d", len(got))
	}
	for i, want := range []string{"one", "two"} {
		if got[i].Index != "logs" {
			t.Errorf("doc %d: expected index logs, got %q", i, got[i].Index)
		}
		if got[i].Source["message"] != want {
			t.Errorf("doc %d: expected message %q, got %v", i, want, got[i].Source["message"])
		}
	}
}

func TestSendMany_ItemErrors(t *testing.T) {
	fake := testutil.NewFakeOpenSearch()
	defer fake.Close()
	fake.RejectWhen(func(doc map[string]any) bool { return doc["bad"] == true })
	c := newTestClient(t, fake)

	docs := []any{
		map[string]any{"n": 0},
		map[string]any{"n": 1, "bad": true},
		map[string]any{"n": 2},
	}
	res, err := c.SendMany(context.Background(), "logs", docs)
	if err != nil {
		t.Fatalf("SendMany: %v", err)
	}
	if !res.Errors {
		t.Fatal("expected Errors to be set")
	}
	failed := res.Failed()
	if len(failed) != 1 || failed[0] != 1 {
		t.Fatalf("expected failed positions [1], got %v", failed)
	}
	if res.Items[0].Type != "mapper_parsing_exception" || res.Items[0].Status != 400 {
		t.Errorf("unexpected item error: %+v", res.Items[0])
	}
	if len(fake.Docs()) != 2 {
		t.Errorf("expected the two valid docs to be indexed, got %d", len(fake.Docs()))
	}
}

func TestSendMany_HTTPError(t *testing.T) {
	fake := testutil.NewFakeOpenSearch()
	defer fake.Close()
	fake.FailNext(1)
	c := newTestClient(t, fake)

	if _, err := c.SendMany(context.Background(), "logs", []any{map[string]any{"a": 1}}); err == nil {
		t.Fatal("expected error for HTTP 500")
	}
}

func TestSendMany_EncodingErrorSendsNothing(t *testing.T) {
	fake := testutil.NewFakeOpenSearch()
	defer fake.Close()
	c := newTestClient(t, fake)

	docs := []any{map[string]any{"ok": true}, map[string]any{"ch": make(chan int)}}
	if _, err := c.SendMany(context.Background(), "logs", docs); err == nil {
		t.Fatal("expected encoding error")
	}
	if n := len(fake.Calls()); n != 0 {
		t.Errorf("expected no bulk request, got %d", n)
	}
}

func TestEncodeBulk_EscapesIndexName(t *testing.T) {
	fake := testutil.NewFakeOpenSearch()
	defer fake.Close()
	c := newTestClient(t, fake)

	index := "logs\x01\"<x>"
	body, err := c.encodeBulk(index, []any{map[string]any{"n": 1}})
	if err != nil {
		t.Fatalf("encodeBulk: %v", err)
	}
	lines := bytes.Split(bytes.TrimSuffix(body, []byte("\n")), []byte("\n"))
	if len(lines) != 2 {
		t.Fatalf("expected action and source lines, got %q", body)
	}
	var action map[string]map[string]string
	if err := json.Unmarshal(lines[0], &action); err != nil {
		t.Fatalf("action line is not valid JSON: %v (%q)", err, lines[0])
	}
	if got := action["index"]["_index"]; got != index {
		t.Errorf("expected index %q, got %q", index, got)
	}
}

func TestParseBulkResponse(t *testing.T) {
	raw := []byte(`{"took":3,"errors":true,"items":[
		{"index":{"status":201}},
		{"create":{"status":409,"error":{"type":"version_conflict_engine_exception","reason":"exists"}}},
		{"index":{"status":400,"error":"plain reason"}}
	]}`)

	res, err := parseBulkResponse(raw)
	if err != nil {
		t.Fatalf("parseBulkResponse: %v", err)
	}
	if len(res.Items) != 2 {
		t.Fatalf("expected 2 item errors, got %d", len(res.Items))
	}
	if res.Items[0].Position != 1 || res.Items[0].Type != "version_conflict_engine_exception" {
		t.Errorf("unexpected first item: %+v", res.Items[0])
	}
	if res.Items[1].Position != 2 || res.Items[1].Reason != "plain reason" {
		t.Errorf("unexpected second item: %+v", res.Items[1])
	}
	if res.Debug == "" {
		t.Error("expected debug information")
	}

	if _, err := parseBulkResponse([]byte("not json")); err == nil {
		t.Error("expected parse error")
	}
}

func TestDailyIndex(t *testing.T) {
	name := DailyIndex("app-logs")()
	if !regexp.MustCompile(`^app-logs-\d{4}\.\d{2}\.\d{2}$`).MatchString(name) {
		t.Errorf("unexpected daily index name %q", name)
	}
}
