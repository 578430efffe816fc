package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/appfacterp/log-shipper/pkg/model"
)

func TestPublish(t *testing.T) {
	var got []model.LogEvent
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	hp := NewHTTPPublisher(HTTPConfig{URL: srv.URL})
	defer hp.Close()

	events := []model.LogEvent{{Level: model.ERROR, Message: "boom"}}
	if err := hp.Publish(context.Background(), events); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(got) != 1 || got[0].Message != "boom" {
		t.Errorf("unexpected request body %+v", got)
	}
}

func TestPublish_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer srv.Close()

	hp := NewHTTPPublisher(HTTPConfig{URL: srv.URL})
	if err := hp.Publish(context.Background(), []model.LogEvent{{Message: "x"}}); err == nil {
		t.Fatal("expected error for 400 response")
	}
}
