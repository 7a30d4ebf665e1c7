package app

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"cirrusdocs/api/internal/graph"
	"cirrusdocs/api/internal/realtime"
)

func newTestServer(t *testing.T) (*HTTPServer, *Service, *fakeStore) {
	t.Helper()
	fs := newFakeStore()
	svc, _, _, _ := newTestService(fs)
	graphSvc, err := graph.NewService(fs)
	if err != nil {
		t.Fatalf("graph.NewService: %v", err)
	}
	server := NewHTTPServer(svc, graphSvc, realtime.NewHub(), "*")
	return server, svc, fs
}

func doJSON(t *testing.T, server *HTTPServer, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response %q: %v", rr.Body.String(), err)
	}
	return payload
}

func TestCreateUserContract(t *testing.T) {
	server, _, _ := newTestServer(t)

	rr := doJSON(t, server, http.MethodPost, "/createuser", "", map[string]string{
		"name": "Ada", "email": "a@x.se", "password": "hunter22",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decode(t, rr)
	if payload["acknowledged"] != true {
		t.Fatalf("expected acknowledged true, got %v", payload)
	}
	if id, _ := payload["insertedId"].(string); id == "" {
		t.Fatal("expected insertedId")
	}

	// Duplicate email keeps the legacy shape: 400 with acknowledged false.
	rr = doJSON(t, server, http.MethodPost, "/createuser", "", map[string]string{
		"name": "Imposter", "email": "a@x.se", "password": "other",
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if payload := decode(t, rr); payload["acknowledged"] != false {
		t.Fatalf("expected acknowledged false, got %v", payload)
	}
}

func TestVerifyLoginContract(t *testing.T) {
	server, _, _ := newTestServer(t)
	doJSON(t, server, http.MethodPost, "/createuser", "", map[string]string{
		"name": "Ada", "email": "a@x.se", "password": "hunter22",
	})

	rr := doJSON(t, server, http.MethodPost, "/verifylogin", "", map[string]string{
		"email": "a@x.se", "password": "hunter22",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decode(t, rr)
	if payload["userexists"] != true || payload["verified"] != true {
		t.Fatalf("unexpected login payload: %v", payload)
	}
	if token, _ := payload["token"].(string); token == "" {
		t.Fatal("expected access token")
	}
	if refresh, _ := payload["refreshToken"].(string); refresh == "" {
		t.Fatal("expected refresh token")
	}

	rr = doJSON(t, server, http.MethodPost, "/verifylogin", "", map[string]string{
		"email": "a@x.se", "password": "wrong",
	})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad password, got %d", rr.Code)
	}
}

func TestGatedRoutesRequireToken(t *testing.T) {
	server, _, _ := newTestServer(t)

	gated := []struct {
		method string
		path   string
	}{
		{http.MethodPut, "/createone"},
		{http.MethodPut, "/updateone"},
		{http.MethodPut, "/updateusers"},
		{http.MethodPost, "/sendinvite"},
		{http.MethodPost, "/printpdf"},
		{http.MethodPost, "/graphql"},
		{http.MethodGet, "/readall/a@x.se"},
		{http.MethodGet, "/readone/report.txt"},
		{http.MethodGet, "/allusers"},
		{http.MethodGet, "/search?q=x"},
	}

	for _, route := range gated {
		rr := doJSON(t, server, route.method, route.path, "", nil)
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("%s %s: expected 401, got %d", route.method, route.path, rr.Code)
			continue
		}
		if payload := decode(t, rr); payload["tokenNotValid"] != true {
			t.Errorf("%s %s: expected tokenNotValid shape, got %v", route.method, route.path, payload)
		}
	}

	// Garbage token gets the same shape.
	rr := doJSON(t, server, http.MethodGet, "/allusers", "not-a-token", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", rr.Code)
	}
	if payload := decode(t, rr); payload["tokenNotValid"] != true {
		t.Fatalf("expected tokenNotValid shape, got %v", payload)
	}
}

func TestLegacyAccessTokenHeader(t *testing.T) {
	server, svc, _ := newTestServer(t)
	session := registerAndLogin(t, svc, "Ada", "a@x.se")

	req := httptest.NewRequest(http.MethodGet, "/allusers", nil)
	req.Header.Set("x-access-token", session.Token)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 with legacy header, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestUpdateUsersNonOwnerShape(t *testing.T) {
	server, svc, _ := newTestServer(t)
	ada := registerAndLogin(t, svc, "Ada", "a@x.se")
	bo := registerAndLogin(t, svc, "Bo", "b@x.se")
	createDoc(t, svc, ada, "report.txt")

	rr := doJSON(t, server, http.MethodPut, "/updateusers", ada.Token, map[string]any{
		"filename":     "report.txt",
		"allowedusers": []string{"a@x.se", "b@x.se"},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("owner update expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	// An invited editor is not the owner; the client keys on notAllowed.
	rr = doJSON(t, server, http.MethodPut, "/updateusers", bo.Token, map[string]any{
		"filename":     "report.txt",
		"allowedusers": []string{"b@x.se"},
	})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if payload := decode(t, rr); payload["notAllowed"] != true {
		t.Fatalf("expected notAllowed shape, got %v", payload)
	}
}

func TestCreateOneDuplicateShape(t *testing.T) {
	server, svc, _ := newTestServer(t)
	ada := registerAndLogin(t, svc, "Ada", "a@x.se")
	createDoc(t, svc, ada, "report.txt")

	rr := doJSON(t, server, http.MethodPut, "/createone", ada.Token, map[string]any{
		"filename": "report.txt",
		"code":     false,
		"title":    "Again",
		"content":  "again",
		"comments": []any{},
		"email":    "a@x.se",
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for duplicate filename, got %d", rr.Code)
	}
	if payload := decode(t, rr); payload["acknowledged"] != false {
		t.Fatalf("expected acknowledged false, got %v", payload)
	}
}

func TestCreateOneMissingFieldsListsThem(t *testing.T) {
	server, svc, _ := newTestServer(t)
	ada := registerAndLogin(t, svc, "Ada", "a@x.se")

	rr := doJSON(t, server, http.MethodPut, "/createone", ada.Token, map[string]any{
		"filename": "new.txt",
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	payload := decode(t, rr)
	if payload["code"] != "INVALID_INPUT" {
		t.Fatalf("expected INVALID_INPUT, got %v", payload)
	}
	details := payload["details"].(map[string]any)
	missing := details["missing"].([]any)
	if len(missing) != 5 {
		t.Fatalf("expected code,title,content,comments,email missing, got %v", missing)
	}
}

func TestReadOneGate(t *testing.T) {
	server, svc, _ := newTestServer(t)
	ada := registerAndLogin(t, svc, "Ada", "a@x.se")
	bo := registerAndLogin(t, svc, "Bo", "b@x.se")
	createDoc(t, svc, ada, "report.txt")

	rr := doJSON(t, server, http.MethodGet, "/readone/report.txt", ada.Token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("member read expected 200, got %d", rr.Code)
	}
	payload := decode(t, rr)
	if payload["ownerEmail"] != "a@x.se" || payload["filename"] != "report.txt" {
		t.Fatalf("unexpected document payload: %v", payload)
	}

	rr = doJSON(t, server, http.MethodGet, "/readone/report.txt", bo.Token, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("non-member read expected 401, got %d", rr.Code)
	}
	if payload := decode(t, rr); payload["notAllowed"] != true {
		t.Fatalf("expected notAllowed shape, got %v", payload)
	}

	rr = doJSON(t, server, http.MethodGet, "/readone/ghost.txt", ada.Token, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("unknown filename expected 404, got %d", rr.Code)
	}
}

func TestGraphQLEndpoint(t *testing.T) {
	server, svc, _ := newTestServer(t)
	ada := registerAndLogin(t, svc, "Ada", "a@x.se")
	createDoc(t, svc, ada, "report.txt")

	rr := doJSON(t, server, http.MethodPost, "/graphql", ada.Token, map[string]any{
		"query": `{ doc(filename: "report.txt") { title ownerEmail } }`,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decode(t, rr)
	data := payload["data"].(map[string]any)
	doc := data["doc"].(map[string]any)
	if doc["ownerEmail"] != "a@x.se" {
		t.Fatalf("unexpected graphql doc: %v", doc)
	}
}

func TestHealthAndReady(t *testing.T) {
	server, _, _ := newTestServer(t)

	rr := doJSON(t, server, http.MethodGet, "/health", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("health expected 200, got %d", rr.Code)
	}

	rr = doJSON(t, server, http.MethodGet, "/ready", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("ready expected 200, got %d", rr.Code)
	}
}

func TestRefreshLoginEndpoint(t *testing.T) {
	server, svc, _ := newTestServer(t)
	session := registerAndLogin(t, svc, "Ada", "a@x.se")

	rr := doJSON(t, server, http.MethodPost, "/refreshlogin", "", map[string]string{
		"refreshToken": session.RefreshToken,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decode(t, rr)
	if token, _ := payload["token"].(string); token == "" {
		t.Fatal("expected fresh access token")
	}

	// A stale refresh token maps to the tokenNotValid shape.
	rr = doJSON(t, server, http.MethodPost, "/refreshlogin", "", map[string]string{
		"refreshToken": session.RefreshToken,
	})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for reused refresh token, got %d", rr.Code)
	}
	if payload := decode(t, rr); payload["tokenNotValid"] != true {
		t.Fatalf("expected tokenNotValid shape, got %v", payload)
	}
}
