package server

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/ryanoZphoto/aws/internal/config"
	"github.com/ryanoZphoto/aws/internal/db"
	"github.com/ryanoZphoto/aws/internal/engine"
	"github.com/ryanoZphoto/aws/internal/migrate"
	"github.com/ryanoZphoto/aws/internal/provider"
	"github.com/ryanoZphoto/aws/internal/scheduler"
	"github.com/ryanoZphoto/aws/internal/secrets"
)

const testJWTSecret = "test-secret"

type stubTransport struct {
	resp provider.Response
	err  error
}

func (s *stubTransport) Call(context.Context, string, string, map[string]any) (provider.Response, error) {
	if s.err != nil {
		return provider.Response{}, s.err
	}
	return s.resp, nil
}

type testServer struct {
	URL       string
	Transport *stubTransport
	client    *http.Client
	close     func()
}

func (s *testServer) Client() *http.Client { return s.client }

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		t.Fatal(err)
	}
	cipher, err := secrets.New(base64.StdEncoding.EncodeToString(raw))
	if err != nil {
		t.Fatalf("cipher: %v", err)
	}
	stub := &stubTransport{resp: provider.Response{Data: json.RawMessage(`{"Buckets":[]}`), RequestID: "req-test"}}
	cfg := config.Default()
	eng := engine.New(conn, cfg, cipher)
	eng.Transport = func(provider.Session) provider.Transport { return stub }
	sweeper := scheduler.New(eng.Repo, eng, cfg, zerolog.Nop())

	handler, err := New(Config{
		Engine:  eng,
		Sweeper: sweeper,
		Auth:    AuthConfig{JWTSecret: testJWTSecret},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	ts := &testServer{
		URL:       "http://" + ln.Addr().String(),
		Transport: stub,
		client:    &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(ts.close)
	return ts
}

func mintToken(t *testing.T, userID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return "Bearer " + signed
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader = bytes.NewReader(nil)
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, data
}

func authed(t *testing.T, userID string) map[string]string {
	return map[string]string{"Authorization": mintToken(t, userID)}
}

func TestHealthRequiresNoAuth(t *testing.T) {
	ts := newTestServer(t)
	resp, body := doJSON(t, ts.Client(), http.MethodGet, ts.URL+"/v1/health", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d body=%s", resp.StatusCode, body)
	}
}

func TestUnauthenticatedRequestsRejected(t *testing.T) {
	ts := newTestServer(t)
	resp, body := doJSON(t, ts.Client(), http.MethodGet, ts.URL+"/v1/tasks", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Error.Code != "unauthorized" {
		t.Fatalf("error envelope = %s", body)
	}

	resp, _ = doJSON(t, ts.Client(), http.MethodGet, ts.URL+"/v1/tasks", nil,
		map[string]string{"Authorization": "Bearer garbage"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("garbage token status = %d", resp.StatusCode)
	}
}

func TestCredentialTaskExecutionFlow(t *testing.T) {
	ts := newTestServer(t)
	hdr := authed(t, "u-1")

	resp, body := doJSON(t, ts.Client(), http.MethodPost, ts.URL+"/v1/credentials", map[string]any{
		"name":              "primary",
		"access_key_id":     "AKIAEXAMPLE",
		"secret_access_key": "shh",
	}, hdr)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create credential status = %d body=%s", resp.StatusCode, body)
	}
	if bytes.Contains(body, []byte("AKIAEXAMPLE")) || bytes.Contains(body, []byte("shh")) {
		t.Fatalf("secret material leaked in response: %s", body)
	}
	var cred CredentialResponse
	if err := json.Unmarshal(body, &cred); err != nil {
		t.Fatal(err)
	}
	if !cred.IsDefault {
		t.Error("first credential should be the default")
	}

	resp, body = doJSON(t, ts.Client(), http.MethodPost, ts.URL+"/v1/tasks", map[string]any{
		"name":      "buckets",
		"service":   "s3",
		"operation": "list_buckets",
		"frequency": "daily",
	}, hdr)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create task status = %d body=%s", resp.StatusCode, body)
	}
	var task TaskResponse
	if err := json.Unmarshal(body, &task); err != nil {
		t.Fatal(err)
	}

	resp, body = doJSON(t, ts.Client(), http.MethodPost, ts.URL+"/v1/tasks/"+task.ID+"/executions", map[string]any{}, hdr)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("run status = %d body=%s", resp.StatusCode, body)
	}
	var exec ExecutionResponse
	if err := json.Unmarshal(body, &exec); err != nil {
		t.Fatal(err)
	}
	if exec.Status != "success" {
		t.Fatalf("execution status = %s (%s)", exec.Status, body)
	}

	resp, body = doJSON(t, ts.Client(), http.MethodGet, ts.URL+"/v1/executions/"+exec.ID+"/result", nil, hdr)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("result status = %d body=%s", resp.StatusCode, body)
	}
	var res ResultResponse
	if err := json.Unmarshal(body, &res); err != nil {
		t.Fatal(err)
	}
	if res.ExecutionID != exec.ID {
		t.Fatalf("result for wrong execution: %+v", res)
	}

	resp, body = doJSON(t, ts.Client(), http.MethodGet, ts.URL+"/v1/tasks/"+task.ID+"/executions", nil, hdr)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list executions status = %d", resp.StatusCode)
	}
	var list ExecutionListResponse
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatal(err)
	}
	if len(list.Items) != 1 || list.Items[0].ID != exec.ID {
		t.Fatalf("executions list = %s", body)
	}
}

func TestRunFailureReturnsCompletedExecution(t *testing.T) {
	ts := newTestServer(t)
	hdr := authed(t, "u-1")
	doJSON(t, ts.Client(), http.MethodPost, ts.URL+"/v1/credentials", map[string]any{
		"name": "primary", "access_key_id": "AK", "secret_access_key": "SK",
	}, hdr)
	_, body := doJSON(t, ts.Client(), http.MethodPost, ts.URL+"/v1/tasks", map[string]any{
		"name": "buckets", "service": "s3", "operation": "list_buckets",
	}, hdr)
	var task TaskResponse
	if err := json.Unmarshal(body, &task); err != nil {
		t.Fatal(err)
	}

	ts.Transport.err = provider.NewFault(provider.FaultPermission, "AccessDenied", "not allowed")
	resp, body := doJSON(t, ts.Client(), http.MethodPost, ts.URL+"/v1/tasks/"+task.ID+"/executions", map[string]any{}, hdr)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("run status = %d body=%s", resp.StatusCode, body)
	}
	var exec ExecutionResponse
	if err := json.Unmarshal(body, &exec); err != nil {
		t.Fatal(err)
	}
	if exec.Status != "failed" || exec.ErrorKind == nil || *exec.ErrorKind != "permission" {
		t.Fatalf("execution = %s", body)
	}

	resp, _ = doJSON(t, ts.Client(), http.MethodGet, ts.URL+"/v1/executions/"+exec.ID+"/result", nil, hdr)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("failed execution should have no result, status = %d", resp.StatusCode)
	}
}

func TestAPIKeyAuthentication(t *testing.T) {
	ts := newTestServer(t)
	hdr := authed(t, "u-1")
	resp, body := doJSON(t, ts.Client(), http.MethodPost, ts.URL+"/v1/apikeys", map[string]any{"name": "ci"}, hdr)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create api key status = %d body=%s", resp.StatusCode, body)
	}
	var key APIKeyResponse
	if err := json.Unmarshal(body, &key); err != nil {
		t.Fatal(err)
	}
	if key.Key == "" {
		t.Fatal("raw key not returned")
	}

	resp, _ = doJSON(t, ts.Client(), http.MethodGet, ts.URL+"/v1/tasks", nil, map[string]string{"X-Api-Key": key.Key})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("api key auth status = %d", resp.StatusCode)
	}

	// listing never returns raw keys
	resp, body = doJSON(t, ts.Client(), http.MethodGet, ts.URL+"/v1/apikeys", nil, hdr)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list api keys status = %d", resp.StatusCode)
	}
	if bytes.Contains(body, []byte(key.Key)) {
		t.Fatal("raw key leaked from listing")
	}
}

func TestSweepEndpoint(t *testing.T) {
	ts := newTestServer(t)
	hdr := authed(t, "u-1")
	doJSON(t, ts.Client(), http.MethodPost, ts.URL+"/v1/credentials", map[string]any{
		"name": "primary", "access_key_id": "AK", "secret_access_key": "SK",
	}, hdr)
	doJSON(t, ts.Client(), http.MethodPost, ts.URL+"/v1/tasks", map[string]any{
		"name": "daily buckets", "service": "s3", "operation": "list_buckets", "frequency": "daily",
	}, hdr)

	resp, body := doJSON(t, ts.Client(), http.MethodPost, ts.URL+"/v1/sweeps/daily", nil, hdr)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("sweep status = %d body=%s", resp.StatusCode, body)
	}
	var sweep SweepResponse
	if err := json.Unmarshal(body, &sweep); err != nil {
		t.Fatal(err)
	}
	if len(sweep.Outcomes) != 1 || sweep.Outcomes[0].Status != "success" {
		t.Fatalf("sweep outcomes = %s", body)
	}
}

func TestOwnershipScoping(t *testing.T) {
	ts := newTestServer(t)
	owner := authed(t, "u-1")
	stranger := authed(t, "u-2")

	doJSON(t, ts.Client(), http.MethodPost, ts.URL+"/v1/credentials", map[string]any{
		"name": "primary", "access_key_id": "AK", "secret_access_key": "SK",
	}, owner)
	_, body := doJSON(t, ts.Client(), http.MethodPost, ts.URL+"/v1/tasks", map[string]any{
		"name": "buckets", "service": "s3", "operation": "list_buckets",
	}, owner)
	var task TaskResponse
	if err := json.Unmarshal(body, &task); err != nil {
		t.Fatal(err)
	}

	resp, _ := doJSON(t, ts.Client(), http.MethodGet, ts.URL+"/v1/tasks/"+task.ID, nil, stranger)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("foreign task visible, status = %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, ts.Client(), http.MethodPost, ts.URL+"/v1/tasks/"+task.ID+"/executions", map[string]any{}, stranger)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("foreign task runnable, status = %d", resp.StatusCode)
	}
}
