package directory

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"sage/pkg/protocol"
)

func TestHTTPDirectory_GetSessionNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	d := NewHTTP(srv.URL, "default")
	_, err := d.GetSession(context.Background(), "missing")
	var nf *protocol.SessionNotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected SessionNotFoundError, got %T: %v", err, err)
	}
	if nf.SessionID != "missing" {
		t.Errorf("SessionID = %q", nf.SessionID)
	}
}

func TestHTTPDirectory_SpawnAndMessages(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/sessions", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req SpawnRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.MachineID != "m1" || req.Options.Role != protocol.RoleAdvisor {
			http.Error(w, "bad request fields", http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(SpawnResult{Success: true, SessionID: "assigned-id"})
	})
	mux.HandleFunc("/sessions/s1/messages", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if r.URL.Query().Get("after") != "5" {
			http.Error(w, "bad cursor", http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode([]protocol.Message{{Seq: 6, SessionID: "s1", Text: "hi"}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	d := NewHTTP(srv.URL, "default")

	res, err := d.Spawn(context.Background(), SpawnRequest{
		Namespace: "default",
		MachineID: "m1",
		Options:   SpawnOptions{Role: protocol.RoleAdvisor},
	})
	if err != nil || !res.Success || res.SessionID != "assigned-id" {
		t.Fatalf("spawn = %+v, %v", res, err)
	}

	msgs, err := d.MessagesAfter(context.Background(), "s1", 5, 50)
	if err != nil || len(msgs) != 1 || msgs[0].Seq != 6 {
		t.Fatalf("messages = %+v, %v", msgs, err)
	}
}
