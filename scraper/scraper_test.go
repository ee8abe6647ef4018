package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jarcoal/httpmock"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/aluiziolira/go-freebook/config"
	"github.com/aluiziolira/go-freebook/history"
	"github.com/aluiziolira/go-freebook/models"
	"github.com/aluiziolira/go-freebook/settings"
)

const (
	testBase     = "http://example.test"
	testEmail    = "reader@example.com"
	testPassword = "s3cret|pass"
	testBookID   = "12345"
	testPDF      = "%PDF-1.4 fake book body"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		statusCode int
		expected   string
	}{
		{name: "nil", err: nil, statusCode: 0, expected: "unknown"},
		{name: "context timeout", err: context.DeadlineExceeded, statusCode: 0, expected: "timeout"},
		{name: "net timeout", err: &net.DNSError{IsTimeout: true}, statusCode: 0, expected: "timeout"},
		{name: "connection", err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, statusCode: 0, expected: "connection"},
		{name: "unauthorized", err: nil, statusCode: http.StatusUnauthorized, expected: "forbidden"},
		{name: "forbidden", err: nil, statusCode: http.StatusForbidden, expected: "forbidden"},
		{name: "not found", err: nil, statusCode: http.StatusNotFound, expected: "not_found"},
		{name: "rate limited", err: nil, statusCode: http.StatusTooManyRequests, expected: "rate_limited"},
		{name: "server error", err: nil, statusCode: http.StatusInternalServerError, expected: "other"},
		{name: "other", err: errors.New("some other error"), statusCode: 0, expected: "other"},
		{name: "login", err: ErrLoginFailed{Err: errors.New("bad password")}, statusCode: 0, expected: "login_failed"},
		{name: "missing element", err: ErrMissingElement{Err: errors.New("no form")}, statusCode: 0, expected: "missing_element"},
		{name: "claim", err: ErrClaimFailed{Err: errors.New("no html")}, statusCode: 0, expected: "claim_failed"},
		{name: "download", err: ErrDownloadFailed{Err: errors.New("html body")}, statusCode: 0, expected: "download_failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errorTypeLabel(classifyError(tt.err, tt.statusCode)); got != tt.expected {
				t.Fatalf("classifyError(%v, %d) = %q, want %q", tt.err, tt.statusCode, got, tt.expected)
			}
		})
	}
}

func TestSessionHTTPStatusClassification(t *testing.T) {
	tests := []struct {
		status   int
		expected string
	}{
		{status: http.StatusTooManyRequests, expected: "rate_limited"},
		{status: http.StatusForbidden, expected: "forbidden"},
		{status: http.StatusNotFound, expected: "not_found"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			s, transport, cfg := newTestSession(t)
			transport.RegisterResponder("GET", cfg.OfferURL(), httpmock.NewStringResponder(tt.status, ""))

			_, err := s.FetchOffer(context.Background())
			if err == nil {
				t.Fatalf("expected error for status %d", tt.status)
			}
			if got := errorTypeLabel(err); got != tt.expected {
				t.Fatalf("label = %q, want %q (err=%v)", got, tt.expected, err)
			}
			if got := s.snapshotErrors()[tt.expected]; got != 1 {
				t.Fatalf("errors[%q] = %d, want 1", tt.expected, got)
			}
		})
	}
}

func TestSessionLogin(t *testing.T) {
	s, transport, _ := newTestSession(t)
	registerSite(transport)

	if err := s.Login(context.Background(), testEmail, testPassword); err != nil {
		t.Fatalf("login: %v", err)
	}

	base, _ := url.Parse(testBase + "/")
	if !hasSessionCookie(s.Cookies().Cookies(base)) {
		t.Fatalf("session cookie not stored in jar")
	}
	if got := transport.GetCallCountInfo()["POST "+testBase+"/login"]; got != 1 {
		t.Fatalf("login POST count = %d, want 1", got)
	}
}

func TestSessionLoginRejected(t *testing.T) {
	s, transport, _ := newTestSession(t)
	registerSite(transport)

	err := s.Login(context.Background(), testEmail, "wrong")
	var loginErr ErrLoginFailed
	if !errors.As(err, &loginErr) {
		t.Fatalf("expected ErrLoginFailed, got %v", err)
	}
	if !strings.Contains(err.Error(), "Invalid email or password") {
		t.Fatalf("error should carry the page message, got %q", err.Error())
	}
	if got := s.snapshotErrors()["login_failed"]; got != 1 {
		t.Fatalf("login_failed count = %d, want 1", got)
	}
}

func TestSessionLoginMissingForm(t *testing.T) {
	s, transport, cfg := newTestSession(t)
	transport.RegisterResponder("GET", cfg.LoginURL(), htmlResponder(http.StatusOK, "<html><body>maintenance</body></html>"))

	err := s.Login(context.Background(), testEmail, testPassword)
	var missing ErrMissingElement
	if !errors.As(err, &missing) {
		t.Fatalf("expected ErrMissingElement, got %v", err)
	}
}

func TestSessionFetchOffer(t *testing.T) {
	s, transport, _ := newTestSession(t)
	registerSite(transport)

	offer, err := s.FetchOffer(context.Background())
	if err != nil {
		t.Fatalf("fetch offer: %v", err)
	}
	want := &models.Offer{
		ID:       testBookID,
		Title:    "Learning Go, Second Edition",
		ClaimURL: testBase + "/freelearning-claim/12345/21478",
	}
	if *offer != *want {
		t.Fatalf("offer = %+v, want %+v", offer, want)
	}
}

func TestSessionFetchOfferMissingClaimLink(t *testing.T) {
	s, transport, cfg := newTestSession(t)
	transport.RegisterResponder("GET", cfg.OfferURL(), htmlResponder(http.StatusOK,
		`<html><body><div class="dotd-title"><h2>Sold out</h2></div></body></html>`))

	_, err := s.FetchOffer(context.Background())
	var missing ErrMissingElement
	if !errors.As(err, &missing) {
		t.Fatalf("expected ErrMissingElement, got %v", err)
	}
}

func TestSessionClaimRequiresLogin(t *testing.T) {
	s, transport, _ := newTestSession(t)
	registerSite(transport)

	offer := &models.Offer{ID: testBookID, Title: "Learning Go", ClaimURL: testBase + "/freelearning-claim/12345/21478"}
	err := s.Claim(context.Background(), offer)
	var claimErr ErrClaimFailed
	if !errors.As(err, &claimErr) {
		t.Fatalf("expected ErrClaimFailed without a session, got %v", err)
	}
}

func TestSessionClaimConfirmSelector(t *testing.T) {
	s, transport, cfg := newTestSession(t)
	cfg.ClaimConfirmSelector = "div.claimed-ok"
	registerSite(transport)

	if err := s.Login(context.Background(), testEmail, testPassword); err != nil {
		t.Fatalf("login: %v", err)
	}
	offer := &models.Offer{ID: testBookID, Title: "Learning Go", ClaimURL: testBase + "/freelearning-claim/12345/21478"}
	err := s.Claim(context.Background(), offer)
	var claimErr ErrClaimFailed
	if !errors.As(err, &claimErr) {
		t.Fatalf("expected ErrClaimFailed for missing confirmation, got %v", err)
	}
}

func TestSessionDownloadRejectsHTML(t *testing.T) {
	s, transport, _ := newTestSession(t)
	transport.RegisterResponder("GET", testBase+"/ebook_download/12345/pdf",
		htmlResponder(http.StatusOK, "<html><body>please log in</body></html>"))

	dir := t.TempDir()
	offer := &models.Offer{ID: testBookID, Title: "Learning Go", ClaimURL: testBase + "/c/12345"}
	_, _, err := s.Download(context.Background(), offer, "pdf", dir)
	var dlErr ErrDownloadFailed
	if !errors.As(err, &dlErr) {
		t.Fatalf("expected ErrDownloadFailed, got %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("no file should be left behind, found %d", len(entries))
	}
}

func TestSessionDownloadStatus(t *testing.T) {
	s, transport, _ := newTestSession(t)
	transport.RegisterResponder("GET", testBase+"/ebook_download/12345/epub", httpmock.NewStringResponder(http.StatusNotFound, ""))

	offer := &models.Offer{ID: testBookID, Title: "Learning Go", ClaimURL: testBase + "/c/12345"}
	_, _, err := s.Download(context.Background(), offer, "epub", t.TempDir())
	var notFound ErrNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSessionDownloadUnsupportedFormat(t *testing.T) {
	s, _, _ := newTestSession(t)
	offer := &models.Offer{ID: testBookID, Title: "Learning Go", ClaimURL: testBase + "/c/12345"}
	_, _, err := s.Download(context.Background(), offer, "docx", t.TempDir())
	var dlErr ErrDownloadFailed
	if !errors.As(err, &dlErr) {
		t.Fatalf("expected ErrDownloadFailed, got %v", err)
	}
}

func TestSessionRunIntegration(t *testing.T) {
	s, transport, _ := newTestSession(t)
	registerSite(transport)

	dir := t.TempDir()
	ledger, err := history.Open("csv", filepath.Join(dir, "history.csv"), 16)
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	defer ledger.Close()

	st := &settings.Settings{
		Email:    testEmail,
		Password: testPassword,
		Download: true,
		Format:   "PDF",
		SaveDir:  filepath.Join(dir, "books"),
	}

	result, err := s.Run(context.Background(), st, ledger, RunOptions{})
	if err != nil {
		t.Fatalf("run: %v (errors=%v)", err, result.ErrorsByType)
	}
	if !result.Claimed || !result.Downloaded || result.Skipped {
		t.Fatalf("unexpected result flags: %+v", result)
	}

	wantPath := filepath.Join(dir, "books", "Learning-Go-Second-Edition_12345.pdf")
	if result.FilePath != wantPath {
		t.Fatalf("file path = %q, want %q", result.FilePath, wantPath)
	}
	data, err := os.ReadFile(wantPath)
	if err != nil {
		t.Fatalf("read download: %v", err)
	}
	if string(data) != testPDF || result.Bytes != int64(len(testPDF)) {
		t.Fatalf("download content mismatch: %q (%d bytes)", data, result.Bytes)
	}
	// login page, login submit, offer, claim, download; redirects are not counted
	if _, err := uuid.Parse(result.RunID); err != nil {
		t.Fatalf("run id %q is not a uuid: %v", result.RunID, err)
	}
	if result.RequestCount != 5 {
		t.Fatalf("request count = %d, want 5", result.RequestCount)
	}
	if result.EndTime.Before(result.StartTime) {
		t.Fatalf("end time before start time")
	}
	if !ledger.Seen(testBookID) {
		t.Fatalf("claim not recorded in history")
	}
	if got := testutil.ToFloat64(s.Metrics.ClaimsTotal.WithLabelValues("claimed")); got != 1 {
		t.Fatalf("claimed metric = %v, want 1", got)
	}
	if got := testutil.ToFloat64(s.Metrics.DownloadedBytes); got != float64(len(testPDF)) {
		t.Fatalf("downloaded bytes metric = %v, want %d", got, len(testPDF))
	}
}

func TestSessionRunSkipsKnownOffer(t *testing.T) {
	s, transport, _ := newTestSession(t)
	registerSite(transport)

	ledger, err := history.NewLedger(&discardWriter{}, 16, []string{testBookID})
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}

	st := &settings.Settings{Email: testEmail, Password: testPassword}
	result, err := s.Run(context.Background(), st, ledger, RunOptions{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !result.Skipped || result.Claimed {
		t.Fatalf("expected skipped run, got %+v", result)
	}
	if got := transport.GetCallCountInfo()["GET "+testBase+"/freelearning-claim/12345/21478"]; got != 0 {
		t.Fatalf("claim link requested %d times on a known offer", got)
	}
	if got := testutil.ToFloat64(s.Metrics.ClaimsTotal.WithLabelValues("skipped")); got != 1 {
		t.Fatalf("skipped metric = %v, want 1", got)
	}
}

func TestSessionRunForceWithoutDownload(t *testing.T) {
	s, transport, _ := newTestSession(t)
	registerSite(transport)

	writer := &discardWriter{}
	ledger, err := history.NewLedger(writer, 16, []string{testBookID})
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}

	st := &settings.Settings{Email: testEmail, Password: testPassword, Download: true, Format: "pdf", SaveDir: t.TempDir()}
	result, err := s.Run(context.Background(), st, ledger, RunOptions{Force: true, SkipDownload: true})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !result.Claimed || result.Downloaded {
		t.Fatalf("expected claim without download, got %+v", result)
	}
	if got := transport.GetCallCountInfo()["GET "+testBase+"/ebook_download/12345/pdf"]; got != 0 {
		t.Fatalf("download requested %d times with SkipDownload", got)
	}
}

func TestSessionRunLoginFailure(t *testing.T) {
	s, transport, _ := newTestSession(t)
	registerSite(transport)

	st := &settings.Settings{Email: testEmail, Password: "nope"}
	result, err := s.Run(context.Background(), st, nil, RunOptions{})
	if err == nil {
		t.Fatalf("expected login error")
	}
	if result == nil || result.Claimed || result.Offer != nil {
		t.Fatalf("unexpected result after failed login: %+v", result)
	}
	if result.ErrorsByType["login_failed"] != 1 {
		t.Fatalf("errors by type = %v", result.ErrorsByType)
	}
	if got := testutil.ToFloat64(s.Metrics.ClaimsTotal.WithLabelValues("failed")); got != 1 {
		t.Fatalf("failed metric = %v, want 1", got)
	}
}

func TestSessionRunCanceled(t *testing.T) {
	s, transport, _ := newTestSession(t)
	registerSite(transport)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	st := &settings.Settings{Email: testEmail, Password: testPassword}
	if _, err := s.Run(ctx, st, nil, RunOptions{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

type discardWriter struct {
	records []*models.ClaimRecord
}

func (dw *discardWriter) Write(records []*models.ClaimRecord) error {
	dw.records = append(dw.records, records...)
	return nil
}

func (dw *discardWriter) Close() error {
	return nil
}

func (dw *discardWriter) Validate() error {
	return nil
}

func newTestSession(t *testing.T) (*Session, *httpmock.MockTransport, *config.Config) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.BaseURL = testBase
	cfg.Timeout = 5 * time.Second
	cfg.DownloadTimeout = 5 * time.Second

	s, err := NewSession(cfg)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	transport := httpmock.NewMockTransport()
	s.setTransport(transport)
	return s, transport, cfg
}

// registerSite wires a small fake publisher: a login form on "/", a session
// cookie after a successful POST, an offer page and a download that needs
// the cookie.
func registerSite(transport *httpmock.MockTransport) {
	transport.RegisterResponder("GET", testBase+"/", func(req *http.Request) (*http.Response, error) {
		if hasSessionCookie(req.Cookies()) {
			return respond(req, http.StatusOK, "text/html", `<html><body><p class="welcome">Welcome back</p></body></html>`), nil
		}
		return respond(req, http.StatusOK, "text/html", loginPage("")), nil
	})

	transport.RegisterResponder("POST", testBase+"/login", func(req *http.Request) (*http.Response, error) {
		if err := req.ParseForm(); err != nil {
			return nil, err
		}
		if req.PostForm.Get("form_build_id") != "form-abc" || req.PostForm.Get("form_id") != "packt_user_login_form" {
			return respond(req, http.StatusOK, "text/html", loginPage("Form expired")), nil
		}
		if req.PostForm.Get("email") != testEmail || req.PostForm.Get("password") != testPassword {
			return respond(req, http.StatusOK, "text/html", loginPage("Invalid email or password")), nil
		}
		resp := respond(req, http.StatusFound, "text/html", "")
		resp.Header.Set("Location", "/")
		resp.Header.Add("Set-Cookie", "SESS=token-1; Path=/; HttpOnly")
		return resp, nil
	})

	transport.RegisterResponder("GET", testBase+"/packt/offers/free-learning", func(req *http.Request) (*http.Response, error) {
		return respond(req, http.StatusOK, "text/html", `<html><body>
<div class="dotd-title">
  <h2>
    Learning Go,   Second Edition
  </h2>
</div>
<a class="twelve-days-claim" href="/freelearning-claim/12345/21478">Claim Free eBook</a>
</body></html>`), nil
	})

	transport.RegisterResponder("GET", testBase+"/freelearning-claim/12345/21478", func(req *http.Request) (*http.Response, error) {
		if !hasSessionCookie(req.Cookies()) {
			return respond(req, http.StatusOK, "text/html", loginPage("")), nil
		}
		resp := respond(req, http.StatusFound, "text/html", "")
		resp.Header.Set("Location", "/account/my-ebooks")
		return resp, nil
	})

	transport.RegisterResponder("GET", testBase+"/account/my-ebooks", func(req *http.Request) (*http.Response, error) {
		return respond(req, http.StatusOK, "text/html", `<html><body><div class="product-line">Learning Go</div></body></html>`), nil
	})

	transport.RegisterResponder("GET", testBase+"/ebook_download/12345/pdf", func(req *http.Request) (*http.Response, error) {
		if !hasSessionCookie(req.Cookies()) {
			return respond(req, http.StatusForbidden, "text/html", "forbidden"), nil
		}
		return respond(req, http.StatusOK, "application/pdf", testPDF), nil
	})
}

func loginPage(errMsg string) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	if errMsg != "" {
		fmt.Fprintf(&b, `<div class="messages error">%s</div>`, errMsg)
	}
	b.WriteString(`<form id="packt-user-login-form" action="/login" method="post">
<input type="text" name="email" value="">
<input type="password" name="password" value="">
<input type="hidden" name="form_build_id" value="form-abc">
<input type="hidden" name="form_id" value="packt_user_login_form">
<input type="checkbox" name="remember_me" value="1">
<input type="submit" name="op" value="Login">
</form></body></html>`)
	return b.String()
}

func hasSessionCookie(cookies []*http.Cookie) bool {
	for _, c := range cookies {
		if c.Name == "SESS" && c.Value != "" {
			return true
		}
	}
	return false
}

func respond(req *http.Request, status int, contentType, body string) *http.Response {
	resp := httpmock.NewStringResponse(status, body)
	resp.Header.Set("Content-Type", contentType)
	resp.Request = req
	return resp
}

func htmlResponder(status int, body string) httpmock.Responder {
	resp := httpmock.NewStringResponse(status, body)
	resp.Header.Set("Content-Type", "text/html")
	return httpmock.ResponderFromResponse(resp)
}
