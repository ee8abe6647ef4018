package parser

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/go-cmp/cmp"

	"github.com/aluiziolira/go-freebook/models"
)

const loginPage = `<html><body>
<form id="packt-user-login-form" action="/login" method="post">
  <input type="text" name="email">
  <input type="password" name="password">
  <input type="hidden" name="form_build_id" value="form-abc">
  <input type="hidden" name="form_id" value="packt_user_login_form">
  <input type="checkbox" name="remember" value="1">
  <input type="checkbox" name="terms" value="on" checked>
  <input type="submit" name="op" value="Login">
</form>
<div class="messages error">
  Sorry, unrecognized   username or password.
</div>
</body></html>`

const offerPage = `<html><body>
<div class="dotd-title"><h2>
    Mastering   Go
</h2></div>
<a class="twelve-days-claim" href="/freelearning-claim/12345/21478">Claim</a>
</body></html>`

func mustDoc(t *testing.T, html string) *goquery.Selection {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatalf("parse html: %v", err)
	}
	return doc.Selection
}

func TestExtractLoginForm(t *testing.T) {
	form, err := ExtractLoginForm(mustDoc(t, loginPage), "form#packt-user-login-form")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}

	want := &LoginForm{
		Action: "/login",
		Fields: map[string]string{
			"email":         "",
			"password":      "",
			"form_build_id": "form-abc",
			"form_id":       "packt_user_login_form",
			"terms":         "on",
			"op":            "Login",
		},
	}
	if diff := cmp.Diff(want, form); diff != "" {
		t.Fatalf("login form mismatch (-want +got):\n%s", diff)
	}
}

func TestExtractLoginFormMissing(t *testing.T) {
	_, err := ExtractLoginForm(mustDoc(t, offerPage), "form#login")
	var missing *MissingElementError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingElementError, got %v", err)
	}
	if missing.What != "login form" {
		t.Fatalf("missing element = %q", missing.What)
	}
}

func TestExtractLoginError(t *testing.T) {
	if got := ExtractLoginError(mustDoc(t, loginPage), "div.messages.error"); got != "Sorry, unrecognized username or password." {
		t.Fatalf("login error = %q", got)
	}
	if got := ExtractLoginError(mustDoc(t, offerPage), "div.messages.error"); got != "" {
		t.Fatalf("expected no login error, got %q", got)
	}
}

func TestExtractOffer(t *testing.T) {
	offer, err := ExtractOffer(mustDoc(t, offerPage), "a.twelve-days-claim", "div.dotd-title h2")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	want := &models.Offer{ID: "12345", Title: "Mastering Go", ClaimURL: "/freelearning-claim/12345/21478"}
	if diff := cmp.Diff(want, offer); diff != "" {
		t.Fatalf("offer mismatch (-want +got):\n%s", diff)
	}
}

func TestExtractOfferMissingElements(t *testing.T) {
	tests := []struct {
		name string
		html string
		what string
	}{
		{
			name: "no claim link",
			html: `<div class="dotd-title"><h2>Go</h2></div>`,
			what: "claim link",
		},
		{
			name: "empty href",
			html: `<a class="twelve-days-claim" href=" ">Claim</a><div class="dotd-title"><h2>Go</h2></div>`,
			what: "claim link href",
		},
		{
			name: "no title",
			html: `<a class="twelve-days-claim" href="/claim/1/2">Claim</a>`,
			what: "offer title",
		},
		{
			name: "blank title",
			html: `<a class="twelve-days-claim" href="/claim/1/2">Claim</a><div class="dotd-title"><h2>  </h2></div>`,
			what: "offer title text",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ExtractOffer(mustDoc(t, tt.html), "a.twelve-days-claim", "div.dotd-title h2")
			var missing *MissingElementError
			if !errors.As(err, &missing) {
				t.Fatalf("expected MissingElementError, got %v", err)
			}
			if missing.What != tt.what {
				t.Fatalf("missing = %q, want %q", missing.What, tt.what)
			}
		})
	}
}

func TestBookIDFromClaimURL(t *testing.T) {
	tests := []struct {
		href    string
		want    string
		wantErr bool
	}{
		{href: "/freelearning-claim/12345/21478", want: "12345"},
		{href: "https://shop.example.test/claim/987?ref=9", want: "987"},
		{href: "/claim/v2/55#top", want: "55"},
		{href: "/claim/abc", wantErr: true},
		{href: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.href, func(t *testing.T) {
			got, err := BookIDFromClaimURL(tt.href)
			if (err != nil) != tt.wantErr {
				t.Fatalf("BookIDFromClaimURL(%q) error = %v, wantErr %v", tt.href, err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("BookIDFromClaimURL(%q) = %q, want %q", tt.href, got, tt.want)
			}
		})
	}
}

func TestDownloadPath(t *testing.T) {
	if got := DownloadPath("/ebook_download/{id}/{format}", "12345", "pdf"); got != "/ebook_download/12345/pdf" {
		t.Fatalf("download path = %q", got)
	}
}

func TestBookFileName(t *testing.T) {
	tests := []struct {
		name   string
		title  string
		id     string
		format string
		want   string
	}{
		{name: "punctuation", title: "Learning Go: Second Edition", id: "12345", format: "PDF", want: "Learning-Go-Second-Edition_12345.pdf"},
		{name: "symbols", title: "C# & .NET 8", id: "7", format: "epub", want: "C-NET-8_7.epub"},
		{name: "accents", title: "Café Ünïcode", id: "1", format: ".mobi", want: "Cafe-UEnicode_1.mobi"},
		{name: "slashes", title: "Go/Rust", id: "2", format: "pdf", want: "Go-Rust_2.pdf"},
		{name: "blank title", title: "   ", id: "9", format: "mobi", want: "ebook_9.mobi"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BookFileName(tt.title, tt.id, tt.format); got != tt.want {
				t.Fatalf("BookFileName(%q) = %q, want %q", tt.title, got, tt.want)
			}
		})
	}
}

func TestValidateOffer(t *testing.T) {
	tests := []struct {
		name    string
		offer   *models.Offer
		wantErr bool
	}{
		{name: "valid", offer: &models.Offer{ID: "1", Title: "Go", ClaimURL: "/claim/1"}},
		{name: "nil", offer: nil, wantErr: true},
		{name: "missing id", offer: &models.Offer{Title: "Go", ClaimURL: "/claim/1"}, wantErr: true},
		{name: "missing title", offer: &models.Offer{ID: "1", ClaimURL: "/claim/1"}, wantErr: true},
		{name: "missing claim url", offer: &models.Offer{ID: "1", Title: "Go"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateOffer(tt.offer)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateOffer() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateRecord(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name    string
		record  *models.ClaimRecord
		wantErr bool
	}{
		{name: "claim only", record: &models.ClaimRecord{BookID: "1", Title: "Go", ClaimedAt: now}},
		{name: "with file", record: &models.ClaimRecord{BookID: "1", Title: "Go", Format: "pdf", FilePath: "/b/go.pdf", ClaimedAt: now}},
		{name: "missing id", record: &models.ClaimRecord{Title: "Go", ClaimedAt: now}, wantErr: true},
		{name: "missing time", record: &models.ClaimRecord{BookID: "1", Title: "Go"}, wantErr: true},
		{name: "file without format", record: &models.ClaimRecord{BookID: "1", Title: "Go", FilePath: "/b/go", ClaimedAt: now}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRecord(tt.record)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateRecord() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
