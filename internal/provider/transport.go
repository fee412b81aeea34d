package provider

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// Session carries the decrypted material for one execution. It is built just
// before the provider call and never persisted.
type Session struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Region          string
	RoleARN         string
}

// Response is the raw provider payload plus the provider-assigned request id.
type Response struct {
	Data      json.RawMessage
	RequestID string
}

// Transport performs one provider operation. Implementations classify their
// own failures into *Fault.
type Transport interface {
	Call(ctx context.Context, service, action string, params map[string]any) (Response, error)
}

// TransportFactory builds a transport bound to a session. The engine calls it
// once per execution so no credential material outlives the call.
type TransportFactory func(Session) Transport

// HTTPTransport speaks the provider's JSON protocol over HTTPS. When the
// session names a role, the transport trades the static keys for temporary
// ones through sts before the first service call.
type HTTPTransport struct {
	Client   *http.Client
	Endpoint func(service, region string) string
	Now      func() time.Time

	sess Session

	mu      sync.Mutex
	assumed *Session
}

// NewHTTPTransport is the default TransportFactory.
func NewHTTPTransport(sess Session) Transport {
	return &HTTPTransport{
		Client:   &http.Client{Timeout: 60 * time.Second},
		Endpoint: defaultEndpoint,
		Now:      time.Now,
		sess:     sess,
	}
}

func defaultEndpoint(service, region string) string {
	return fmt.Sprintf("https://%s.%s.amazonaws.com/", service, region)
}

func (t *HTTPTransport) Call(ctx context.Context, service, action string, params map[string]any) (Response, error) {
	sess, err := t.session(ctx)
	if err != nil {
		return Response{}, err
	}
	return t.post(ctx, sess, service, action, params)
}

// session returns the effective credentials, performing the role exchange at
// most once per transport.
func (t *HTTPTransport) session(ctx context.Context) (Session, error) {
	if t.sess.RoleARN == "" {
		return t.sess, nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.assumed != nil {
		return *t.assumed, nil
	}
	resp, err := t.post(ctx, t.sess, "sts", "AssumeRole", map[string]any{
		"RoleArn":         t.sess.RoleARN,
		"RoleSessionName": fmt.Sprintf("awsctl-%d", t.Now().Unix()),
		"DurationSeconds": 3600,
	})
	if err != nil {
		return Session{}, err
	}
	var body struct {
		Credentials struct {
			AccessKeyId     string `json:"AccessKeyId"`
			SecretAccessKey string `json:"SecretAccessKey"`
			SessionToken    string `json:"SessionToken"`
		} `json:"Credentials"`
	}
	if err := json.Unmarshal(resp.Data, &body); err != nil {
		return Session{}, &Fault{Kind: FaultProvider, Message: "malformed AssumeRole response", wrapped: err}
	}
	if body.Credentials.AccessKeyId == "" {
		return Session{}, NewFault(FaultProvider, "", "AssumeRole returned no credentials")
	}
	t.assumed = &Session{
		AccessKeyID:     body.Credentials.AccessKeyId,
		SecretAccessKey: body.Credentials.SecretAccessKey,
		SessionToken:    body.Credentials.SessionToken,
		Region:          t.sess.Region,
	}
	return *t.assumed, nil
}

func (t *HTTPTransport) post(ctx context.Context, sess Session, service, action string, params map[string]any) (Response, error) {
	payload, err := json.Marshal(params)
	if err != nil {
		return Response{}, fmt.Errorf("marshal params: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.Endpoint(service, sess.Region), bytes.NewReader(payload))
	if err != nil {
		return Response{}, err
	}
	stamp := t.Now().UTC().Format("20060102T150405Z")
	req.Header.Set("Content-Type", "application/x-amz-json-1.1")
	req.Header.Set("X-Amz-Target", action)
	req.Header.Set("X-Amz-Date", stamp)
	if sess.SessionToken != "" {
		req.Header.Set("X-Amz-Security-Token", sess.SessionToken)
	}
	req.Header.Set("Authorization", authorize(sess, service, action, stamp, payload))

	resp, err := t.Client.Do(req)
	if err != nil {
		return Response{}, Classify(err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return Response{}, Classify(err)
	}
	requestID := resp.Header.Get("X-Amzn-Requestid")
	if resp.StatusCode >= 400 {
		return Response{}, faultFromBody(resp.StatusCode, data, requestID)
	}
	if len(data) == 0 {
		data = []byte("{}")
	}
	return Response{Data: data, RequestID: requestID}, nil
}

// authorize computes the request signature: an HMAC-SHA256 chain over the
// date, region, service and payload hash, keyed by the secret.
func authorize(sess Session, service, action, stamp string, payload []byte) string {
	scope := fmt.Sprintf("%s/%s/%s/aws4_request", stamp[:8], sess.Region, service)
	sum := sha256.Sum256(payload)
	msg := stamp + "\n" + scope + "\n" + action + "\n" + hex.EncodeToString(sum[:])
	key := []byte("AWS4" + sess.SecretAccessKey)
	for _, part := range []string{stamp[:8], sess.Region, service, "aws4_request", msg} {
		mac := hmac.New(sha256.New, key)
		mac.Write([]byte(part))
		key = mac.Sum(nil)
	}
	return fmt.Sprintf("AWS4-HMAC-SHA256 Credential=%s/%s, Signature=%s",
		sess.AccessKeyID, scope, hex.EncodeToString(key))
}

// faultFromBody classifies a provider error response. The JSON protocol puts
// the code in __type (possibly namespace-qualified) and the message under
// either casing.
func faultFromBody(status int, data []byte, requestID string) *Fault {
	var body struct {
		Type     string `json:"__type"`
		CodeAlt  string `json:"Code"`
		Message  string `json:"message"`
		MessageA string `json:"Message"`
	}
	_ = json.Unmarshal(data, &body)
	code := body.Type
	if i := bytes.LastIndexByte([]byte(code), '#'); i >= 0 {
		code = code[i+1:]
	}
	if code == "" {
		code = body.CodeAlt
	}
	msg := body.Message
	if msg == "" {
		msg = body.MessageA
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	kind := KindForCode(code)
	if code == "" {
		switch status {
		case http.StatusTooManyRequests, http.StatusServiceUnavailable:
			kind = FaultServiceLimit
		case http.StatusForbidden:
			kind = FaultPermission
		case http.StatusUnauthorized:
			kind = FaultAuthentication
		}
	}
	return &Fault{Kind: kind, Code: code, Message: msg, RequestID: requestID}
}
