package icloud

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"notes-sync-indexer/internal/domain"
)

type fakeICloud struct {
	t          *testing.T
	requireOTP bool
	validCode  string
	pages      [][]map[string]any
	records    map[string]map[string]any
	lastQuery  map[string]string
}

func (f *fakeICloud) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/auth/signin", func(w http.ResponseWriter, r *http.Request) {
		var req signInRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Password != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("X-Apple-Session-Token", "session-token")
		w.Header().Set("X-Apple-ID-Session-Id", "session-id")
		w.Header().Set("scnt", "scnt-1")
		w.Header().Set("X-Apple-ID-Account-Country", "USA")
		http.SetCookie(w, &http.Cookie{Name: "aasp", Value: "cookie-1"})
		if f.requireOTP {
			w.WriteHeader(http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/auth/verify/trusteddevice/securitycode", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("scnt") != "scnt-1" || r.Header.Get("X-Apple-ID-Session-Id") != "session-id" {
			f.t.Errorf("expected auth headers to be replayed")
		}
		var req securityCodeRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.SecurityCode.Code != f.validCode {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("/auth/2sv/trust", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Apple-TwoSV-Trust-Token", "trust-token")
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("/setup/accountLogin", func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Cookie"), "aasp=cookie-1") {
			f.t.Errorf("expected sign-in cookie, got %q", r.Header.Get("Cookie"))
		}
		json.NewEncoder(w).Encode(map[string]any{
			"dsInfo":      map[string]any{"dsid": "12345"},
			"webservices": map[string]any{},
		})
	})

	mux.HandleFunc("/setup/validate", func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Cookie"), "aasp=cookie-1") {
			w.WriteHeader(421)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"dsInfo": map[string]any{"dsid": "12345"}})
	})

	mux.HandleFunc("/database/1/com.apple.notes/production/shared/zones/list", func(w http.ResponseWriter, r *http.Request) {
		f.lastQuery = map[string]string{
			"dsid":     r.URL.Query().Get("dsid"),
			"clientId": r.URL.Query().Get("clientId"),
		}
		json.NewEncoder(w).Encode(map[string]any{
			"zones": []map[string]any{
				{"zoneID": map[string]any{"zoneName": "Notes", "ownerRecordName": "_owner"}},
			},
		})
	})

	mux.HandleFunc("/database/1/com.apple.notes/production/shared/changes/zone", func(w http.ResponseWriter, r *http.Request) {
		var req zoneChangesRequest
		json.NewDecoder(r.Body).Decode(&req)
		page := 0
		if req.Zones[0].SyncToken == "page-2" {
			page = 1
		}
		json.NewEncoder(w).Encode(map[string]any{
			"zones": []map[string]any{{
				"zoneID":     map[string]any{"zoneName": "Notes", "ownerRecordName": "_owner"},
				"records":    f.pages[page],
				"syncToken":  "page-2",
				"moreComing": page == 0,
			}},
		})
	})

	mux.HandleFunc("/database/1/com.apple.notes/production/shared/records/lookup", func(w http.ResponseWriter, r *http.Request) {
		var req lookupRequest
		json.NewDecoder(r.Body).Decode(&req)
		name := req.Records[0].RecordName
		rec, ok := f.records[name]
		if !ok {
			rec = map[string]any{"recordName": name, "serverErrorCode": "NOT_FOUND", "reason": "missing"}
		}
		json.NewEncoder(w).Encode(map[string]any{"records": []any{rec}})
	})

	return mux
}

func b64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func newFakeClient(t *testing.T, f *fakeICloud) *Client {
	f.t = t
	server := httptest.NewServer(f.handler())
	t.Cleanup(server.Close)
	return NewClient(Config{
		AuthURL:     server.URL + "/auth",
		SetupURL:    server.URL + "/setup",
		DatabaseURL: server.URL,
	})
}

func TestClient_SignInWithoutSecondFactor(t *testing.T) {
	c := newFakeClient(t, &fakeICloud{})
	s := domain.NewSession("user@example.com", "test", "")

	if err := c.SignIn(context.Background(), s, "secret"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.RequiresSecondFactor(s) {
		t.Error("expected no second factor")
	}
	if s.Material.DSID != "12345" || s.Material.SessionToken != "session-token" {
		t.Errorf("unexpected material: %+v", s.Material)
	}
	if s.Material.ClientID == "" {
		t.Error("expected a generated client id")
	}
}

func TestClient_SignInBadPassword(t *testing.T) {
	c := newFakeClient(t, &fakeICloud{})
	s := domain.NewSession("user@example.com", "test", "")

	err := c.SignIn(context.Background(), s, "wrong")
	var ae *domain.AuthenticationError
	if !errors.As(err, &ae) {
		t.Fatalf("expected AuthenticationError, got %v", err)
	}
}

func TestClient_SecondFactor(t *testing.T) {
	c := newFakeClient(t, &fakeICloud{requireOTP: true, validCode: "123456"})
	s := domain.NewSession("user@example.com", "test", "client-1")
	ctx := context.Background()

	if err := c.SignIn(ctx, s, "secret"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !c.RequiresSecondFactor(s) {
		t.Fatal("expected second factor to be required")
	}

	if err := c.SubmitSecondFactor(ctx, s, "000000"); !errors.Is(err, domain.ErrSecondFactorRejected) {
		t.Fatalf("expected rejected code, got %v", err)
	}

	if err := c.SubmitSecondFactor(ctx, s, "123456"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.RequiresSecondFactor(s) {
		t.Error("expected second factor to be cleared")
	}
	if s.Material.TrustToken != "trust-token" || s.Material.DSID != "12345" {
		t.Errorf("unexpected material: %+v", s.Material)
	}
}

func TestClient_Validate(t *testing.T) {
	c := newFakeClient(t, &fakeICloud{})
	s := domain.NewSession("user@example.com", "test", "client-1")

	err := c.Validate(context.Background(), s)
	var ae *domain.AuthenticationError
	if !errors.As(err, &ae) {
		t.Fatalf("expected AuthenticationError for a cookieless session, got %v", err)
	}

	s.Material.Cookies["aasp"] = "cookie-1"
	if err := c.Validate(context.Background(), s); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestClient_ListZonesAndChanges(t *testing.T) {
	f := &fakeICloud{
		pages: [][]map[string]any{
			{
				{"recordName": "note-1", "recordType": "Note", "fields": map[string]any{
					"ModificationDate": map[string]any{"value": 2000, "type": "TIMESTAMP"},
				}},
				{"recordName": "gone", "recordType": "Note", "deleted": true},
			},
			{
				{"recordName": "note-2", "recordType": "Note", "modified": map[string]any{"timestamp": 3000}},
				{"recordName": "trashed", "recordType": "Note", "fields": map[string]any{
					"Deleted": map[string]any{"value": 1, "type": "INT64"},
				}},
			},
		},
	}
	c := newFakeClient(t, f)
	s := domain.NewSession("user@example.com", "test", "client-1")
	s.Material.DSID = "12345"
	ctx := context.Background()

	zones, err := c.ListZones(ctx, s)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(zones) != 1 || zones[0].Name != "Notes" || zones[0].OwnerRecordName != "_owner" {
		t.Fatalf("unexpected zones: %+v", zones)
	}
	if f.lastQuery["dsid"] != "12345" || f.lastQuery["clientId"] != "client-1" {
		t.Errorf("unexpected query params: %v", f.lastQuery)
	}

	changes, err := c.ListChanged(ctx, s, zones[0])
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	want := []domain.RecordChange{{RecordID: "note-1", ModifiedAt: 2000}, {RecordID: "note-2", ModifiedAt: 3000}}
	if len(changes) != len(want) {
		t.Fatalf("expected %d changes, got %+v", len(want), changes)
	}
	for i := range want {
		if changes[i] != want[i] {
			t.Errorf("change %d: expected %+v, got %+v", i, want[i], changes[i])
		}
	}
}

func TestClient_FetchAndFolderName(t *testing.T) {
	f := &fakeICloud{records: map[string]map[string]any{
		"note-1": {
			"recordName": "note-1",
			"recordType": "Note",
			"created":    map[string]any{"timestamp": 1000},
			"fields": map[string]any{
				"TitleEncrypted":    map[string]any{"value": b64("Groceries")},
				"TextDataEncrypted": map[string]any{"value": b64("payload")},
				"ModificationDate":  map[string]any{"value": 2000},
				"Folders": map[string]any{"value": []map[string]any{{
					"recordName": "folder-1",
					"zoneID":     map[string]any{"zoneName": "Notes", "ownerRecordName": "_folder_owner"},
				}}},
			},
		},
		"folder-1": {
			"recordName": "folder-1",
			"fields":     map[string]any{"TitleEncrypted": map[string]any{"value": b64("Home")}},
		},
		"folder-2": {"recordName": "folder-2", "fields": map[string]any{}},
	}}
	c := newFakeClient(t, f)
	s := domain.NewSession("user@example.com", "test", "client-1")
	zone := domain.Zone{Name: "Notes", OwnerRecordName: "_owner"}
	ctx := context.Background()

	rec, err := c.Fetch(ctx, s, zone, "note-1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if string(rec.TitleEncrypted) != "Groceries" || string(rec.TextEncrypted) != "payload" {
		t.Errorf("unexpected payloads: %+v", rec)
	}
	if rec.CreatedAt != 1000 || rec.ModifiedAt != 2000 {
		t.Errorf("unexpected timestamps: %+v", rec)
	}
	if rec.FolderID != "folder-1" || rec.FolderOwnerID != "_folder_owner" {
		t.Errorf("unexpected folder: %+v", rec)
	}

	name, err := c.FolderName(ctx, s, zone, "folder-1")
	if err != nil || name != "Home" {
		t.Errorf("expected Home, got %q (%v)", name, err)
	}
	name, err = c.FolderName(ctx, s, zone, "folder-2")
	if err != nil || name != "folder-2" {
		t.Errorf("expected folder id fallback, got %q (%v)", name, err)
	}

	_, err = c.Fetch(ctx, s, zone, "missing")
	var te *domain.TransportError
	if !errors.As(err, &te) || !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected not-found TransportError, got %v", err)
	}
}
