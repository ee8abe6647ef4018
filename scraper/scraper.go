package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"github.com/gocolly/colly/v2"
	"github.com/google/uuid"

	"github.com/aluiziolira/go-freebook/config"
	"github.com/aluiziolira/go-freebook/history"
	"github.com/aluiziolira/go-freebook/models"
	"github.com/aluiziolira/go-freebook/parser"
	"github.com/aluiziolira/go-freebook/settings"
)

const (
	phaseLogin    = "login"
	phaseOffer    = "offer"
	phaseClaim    = "claim"
	phaseDownload = "download"
)

// Session is one authenticated conversation with the publisher. Pages go
// through the colly collector and file downloads through resty; both share
// the same cookie jar, which is what carries the login between requests.
type Session struct {
	cfg       *config.Config
	collector *colly.Collector
	http      *resty.Client
	jar       http.CookieJar
	Metrics   *Metrics

	requestCount int64

	mu           sync.Mutex
	errorsByType map[string]int

	handlersOnce sync.Once
}

// RunOptions tweaks a single Run.
type RunOptions struct {
	// Force claims even when the offer is already in history.
	Force bool
	// SkipDownload claims without fetching the file, whatever the settings say.
	SkipDownload bool
}

// page is what the collector captured for one request.
type page struct {
	status      int
	contentType string
	dom         *goquery.Selection
	request     *colly.Request
}

func (p *page) url() string {
	if p.request == nil || p.request.URL == nil {
		return ""
	}
	return p.request.URL.String()
}

func (p *page) absoluteURL(ref string) string {
	if ref == "" {
		return p.url()
	}
	if p.request == nil {
		return ref
	}
	return p.request.AbsoluteURL(ref)
}

// NewSession builds a session configured from cfg.
func NewSession(cfg *config.Config) (*Session, error) {
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("base url must include a host")
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	collector := colly.NewCollector(
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	)
	collector.SetRequestTimeout(cfg.Timeout)
	collector.SetCookieJar(jar)
	collector.WithTransport(transport)

	client := resty.New().
		SetCookieJar(jar).
		SetTransport(transport).
		SetTimeout(cfg.DownloadTimeout).
		SetHeader("User-Agent", cfg.UserAgent).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(10))

	return &Session{
		cfg:          cfg,
		collector:    collector,
		http:         client,
		jar:          jar,
		Metrics:      NewMetrics(),
		errorsByType: make(map[string]int),
	}, nil
}

// Cookies returns the jar holding the session cookies.
func (s *Session) Cookies() http.CookieJar {
	return s.jar
}

func (s *Session) setTransport(rt http.RoundTripper) {
	s.collector.WithTransport(rt)
	s.http.SetTransport(rt)
}

// Login signs in with the given credentials.
func (s *Session) Login(ctx context.Context, email, password string) error {
	loginPage, err := s.fetch(ctx, phaseLogin, http.MethodGet, s.cfg.LoginURL(), nil)
	if err != nil {
		return err
	}
	if loginPage.dom == nil {
		return s.fail(phaseLogin, ErrMissingElement{Err: fmt.Errorf("login page %s is not HTML", loginPage.url())})
	}

	form, err := parser.ExtractLoginForm(loginPage.dom, s.cfg.LoginFormSelector)
	if err != nil {
		return s.fail(phaseLogin, ErrMissingElement{Err: err})
	}

	values := url.Values{}
	for name, value := range form.Fields {
		values.Set(name, value)
	}
	values.Set(s.cfg.EmailField, email)
	values.Set(s.cfg.PasswordField, password)

	action := loginPage.absoluteURL(form.Action)
	result, err := s.fetch(ctx, phaseLogin, http.MethodPost, action, values)
	if err != nil {
		return err
	}
	if result.dom != nil {
		if msg := parser.ExtractLoginError(result.dom, s.cfg.LoginErrorSelector); msg != "" {
			return s.fail(phaseLogin, ErrLoginFailed{Err: errors.New(msg)})
		}
		if result.dom.Find(s.cfg.LoginFormSelector).Length() > 0 {
			return s.fail(phaseLogin, ErrLoginFailed{Err: errors.New("login form still shown after submit")})
		}
	}

	slog.Info("logged in", slog.String("email", email), slog.String("url", result.url()))
	return nil
}

// FetchOffer reads the day's offer from the offer page.
func (s *Session) FetchOffer(ctx context.Context) (*models.Offer, error) {
	offerPage, err := s.fetch(ctx, phaseOffer, http.MethodGet, s.cfg.OfferURL(), nil)
	if err != nil {
		return nil, err
	}
	if offerPage.dom == nil {
		return nil, s.fail(phaseOffer, ErrMissingElement{Err: fmt.Errorf("offer page %s is not HTML", offerPage.url())})
	}

	offer, err := parser.ExtractOffer(offerPage.dom, s.cfg.ClaimLinkSelector, s.cfg.TitleSelector)
	if err != nil {
		return nil, s.fail(phaseOffer, ErrMissingElement{Err: err})
	}
	offer.ClaimURL = offerPage.absoluteURL(offer.ClaimURL)
	if err := parser.ValidateOffer(offer); err != nil {
		return nil, s.fail(phaseOffer, ErrMissingElement{Err: err})
	}

	slog.Info("found offer",
		slog.String("id", offer.ID),
		slog.String("title", offer.Title),
		slog.String("claim_url", offer.ClaimURL),
	)
	return offer, nil
}

// Claim follows the offer's claim link.
func (s *Session) Claim(ctx context.Context, offer *models.Offer) error {
	if err := parser.ValidateOffer(offer); err != nil {
		return s.fail(phaseClaim, ErrClaimFailed{Err: err})
	}

	claimPage, err := s.fetch(ctx, phaseClaim, http.MethodGet, offer.ClaimURL, nil)
	if err != nil {
		return err
	}
	if claimPage.dom == nil {
		return s.fail(phaseClaim, ErrClaimFailed{Err: fmt.Errorf("response from %s is not HTML (%q)", claimPage.url(), claimPage.contentType)})
	}
	if claimPage.dom.Find(s.cfg.LoginFormSelector).Length() > 0 {
		return s.fail(phaseClaim, ErrClaimFailed{Err: fmt.Errorf("redirected to login at %s", claimPage.url())})
	}
	if sel := s.cfg.ClaimConfirmSelector; sel != "" && claimPage.dom.Find(sel).Length() == 0 {
		return s.fail(phaseClaim, ErrClaimFailed{Err: &parser.MissingElementError{What: "claim confirmation", Selector: sel}})
	}

	slog.Info("claimed offer", slog.String("id", offer.ID), slog.String("title", offer.Title))
	return nil
}

// Download saves the claimed book in format under dir and returns the file
// path and its size. The file appears under its final name only once it
// has been written completely.
func (s *Session) Download(ctx context.Context, offer *models.Offer, format, dir string) (string, int64, error) {
	if err := ctx.Err(); err != nil {
		return "", 0, err
	}
	if err := parser.ValidateOffer(offer); err != nil {
		return "", 0, s.fail(phaseDownload, ErrDownloadFailed{Err: err})
	}
	format = parser.NormalizeFormat(format)
	if !settings.IsFormat(format) {
		return "", 0, s.fail(phaseDownload, ErrDownloadFailed{Err: fmt.Errorf("unsupported format %q", format)})
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("create download directory: %w", err)
	}

	target := strings.TrimSuffix(s.cfg.BaseURL, "/") + parser.DownloadPath(s.cfg.DownloadTemplate, offer.ID, format)

	atomic.AddInt64(&s.requestCount, 1)
	s.Metrics.IncRequest(phaseDownload)
	start := time.Now()
	res, err := s.http.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(target)
	if err != nil {
		return "", 0, s.fail(phaseDownload, classifyError(err, 0))
	}
	body := res.RawBody()
	defer body.Close()
	s.Metrics.ObserveDuration(time.Since(start))

	if status := res.StatusCode(); status < 200 || status >= 300 {
		var classified error = ErrDownloadFailed{Err: fmt.Errorf("http status %d", status)}
		if status >= http.StatusBadRequest {
			classified = classifyError(nil, status)
		}
		return "", 0, s.fail(phaseDownload, classified)
	}
	contentType := res.Header().Get("Content-Type")
	if strings.Contains(strings.ToLower(contentType), "html") {
		return "", 0, s.fail(phaseDownload, ErrDownloadFailed{Err: fmt.Errorf("got an HTML page instead of a %s file", format)})
	}

	tmp, err := os.CreateTemp(dir, ".freebook-*.part")
	if err != nil {
		return "", 0, fmt.Errorf("create temp file: %w", err)
	}
	n, err := io.Copy(tmp, body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return "", 0, s.fail(phaseDownload, classifyError(fmt.Errorf("write %s: %w", tmp.Name(), err), 0))
	}
	if n == 0 {
		os.Remove(tmp.Name())
		return "", 0, s.fail(phaseDownload, ErrDownloadFailed{Err: errors.New("empty response body")})
	}

	path := filepath.Join(dir, parser.BookFileName(offer.Title, offer.ID, format))
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", 0, fmt.Errorf("move download into place: %w", err)
	}

	s.Metrics.AddBytes(n)
	slog.Info("downloaded book",
		slog.String("id", offer.ID),
		slog.String("path", path),
		slog.Int64("bytes", n),
	)
	return path, n, nil
}

// Run performs login, offer lookup, claim and optional download in order.
// An offer already present in ledger is skipped unless opts.Force is set.
// The result is returned even when an error stops the run early.
func (s *Session) Run(ctx context.Context, st *settings.Settings, ledger *history.Ledger, opts RunOptions) (*models.RunResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.configureHandlers()

	result := &models.RunResult{RunID: uuid.NewString(), StartTime: time.Now()}
	defer s.finish(result)
	slog.Info("starting claim run", slog.String("run_id", result.RunID))

	if err := s.Login(ctx, st.Email, st.Password); err != nil {
		s.Metrics.IncClaim("failed")
		return result, err
	}

	offer, err := s.FetchOffer(ctx)
	if err != nil {
		s.Metrics.IncClaim("failed")
		return result, err
	}
	result.Offer = offer

	if ledger != nil && !opts.Force && ledger.Seen(offer.ID) {
		result.Skipped = true
		s.Metrics.IncClaim("skipped")
		slog.Info("offer already in history, skipping",
			slog.String("id", offer.ID),
			slog.String("title", offer.Title),
		)
		return result, nil
	}

	if err := s.Claim(ctx, offer); err != nil {
		s.Metrics.IncClaim("failed")
		return result, err
	}
	result.Claimed = true

	record := &models.ClaimRecord{
		BookID:    offer.ID,
		Title:     offer.Title,
		ClaimURL:  offer.ClaimURL,
		ClaimedAt: time.Now(),
	}

	if st.Download && !opts.SkipDownload {
		path, n, err := s.Download(ctx, offer, st.Format, st.SaveDir)
		if err != nil {
			s.Metrics.IncClaim("failed")
			return result, err
		}
		result.Downloaded = true
		result.FilePath = path
		result.Bytes = n
		record.Format = parser.NormalizeFormat(st.Format)
		record.FilePath = path
		record.Bytes = n
	}

	if ledger != nil {
		if err := ledger.Record(record); err != nil {
			s.Metrics.IncClaim("failed")
			return result, fmt.Errorf("record claim: %w", err)
		}
	}

	s.Metrics.IncClaim("claimed")
	return result, nil
}

func (s *Session) finish(result *models.RunResult) {
	result.EndTime = time.Now()
	result.RequestCount = int(atomic.LoadInt64(&s.requestCount))
	result.ErrorsByType = s.snapshotErrors()
}

func (s *Session) configureHandlers() {
	s.handlersOnce.Do(func() {
		s.collector.OnRequest(func(r *colly.Request) {
			r.Ctx.Put("start", time.Now())
			atomic.AddInt64(&s.requestCount, 1)
			phase := r.Ctx.Get("phase")
			s.Metrics.IncRequest(phase)
			slog.Debug("request",
				slog.String("phase", phase),
				slog.String("method", r.Method),
				slog.String("url", r.URL.String()),
			)
		})

		s.collector.OnResponse(func(r *colly.Response) {
			r.Ctx.Put("status", r.StatusCode)
			r.Ctx.Put("request", r.Request)
			if r.Headers != nil {
				r.Ctx.Put("content_type", r.Headers.Get("Content-Type"))
			}
			if start, ok := r.Request.Ctx.GetAny("start").(time.Time); ok {
				s.Metrics.ObserveDuration(time.Since(start))
			}
		})

		s.collector.OnError(func(r *colly.Response, err error) {
			if r != nil && r.Ctx != nil {
				r.Ctx.Put("status", r.StatusCode)
			}
		})

		s.collector.OnHTML("html", func(e *colly.HTMLElement) {
			e.Request.Ctx.Put("dom", e.DOM)
		})
	})
}

// fetch issues one collector request and returns the page it produced.
// Transport and status errors are classified and counted here.
func (s *Session) fetch(ctx context.Context, phase, method, target string, form url.Values) (*page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.configureHandlers()

	cctx := colly.NewContext()
	cctx.Put("phase", phase)

	hdr := http.Header{}
	hdr.Set("User-Agent", s.cfg.UserAgent)
	var body io.Reader
	if form != nil {
		hdr.Set("Content-Type", "application/x-www-form-urlencoded")
		body = strings.NewReader(form.Encode())
	}

	err := s.collector.Request(method, target, body, cctx, hdr)
	status, _ := cctx.GetAny("status").(int)
	if err != nil {
		slog.Debug("request failed",
			slog.String("phase", phase),
			slog.String("url", target),
			slog.Int("status", status),
			slog.Any("error", err),
		)
		return nil, s.fail(phase, classifyError(err, status))
	}

	p := &page{status: status}
	p.request, _ = cctx.GetAny("request").(*colly.Request)
	p.contentType, _ = cctx.GetAny("content_type").(string)
	p.dom, _ = cctx.GetAny("dom").(*goquery.Selection)
	return p, nil
}

// fail counts err under its type label and returns it.
func (s *Session) fail(phase string, err error) error {
	if err == nil {
		return nil
	}
	category := errorTypeLabel(err)

	s.mu.Lock()
	s.errorsByType[category]++
	s.mu.Unlock()

	s.Metrics.IncError(category)
	slog.Error("claim step failed",
		slog.String("phase", phase),
		slog.String("category", category),
		slog.Any("error", err),
	)
	return err
}

func (s *Session) snapshotErrors() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.errorsByType))
	for k, v := range s.errorsByType {
		out[k] = v
	}
	return out
}

func classifyError(err error, statusCode int) error {
	if err == nil && statusCode == 0 {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrConnection{Err: err}
	}

	if statusCode != 0 {
		wrapped := err
		if wrapped == nil {
			wrapped = fmt.Errorf("http status %d", statusCode)
		}
		switch statusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return ErrForbidden{Err: wrapped}
		case http.StatusNotFound:
			return ErrNotFound{Err: wrapped}
		case http.StatusTooManyRequests:
			return ErrRateLimited{Err: wrapped}
		}
	}

	if err == nil {
		return fmt.Errorf("http status %d", statusCode)
	}
	return err
}
