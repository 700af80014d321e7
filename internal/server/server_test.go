package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/bobmcallan/yosoku/internal/app"
	"github.com/bobmcallan/yosoku/internal/common"
	"github.com/bobmcallan/yosoku/internal/interfaces"
	"github.com/bobmcallan/yosoku/internal/models"
	"github.com/bobmcallan/yosoku/internal/services/analysis"
	"github.com/bobmcallan/yosoku/internal/services/report"
)

var fakePNG = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0}

type mockAnalysis struct {
	report *models.Report
	err    error
	chart  []byte
	calls  int
	last   interfaces.AnalysisInput
}

func (m *mockAnalysis) Run(ctx context.Context, in interfaces.AnalysisInput) (*models.Report, error) {
	m.calls++
	m.last = in
	return m.report, m.err
}

func (m *mockAnalysis) Chart(ctx context.Context, symbol models.Symbol, period models.Period) ([]byte, error) {
	m.calls++
	m.last = interfaces.AnalysisInput{Symbol: symbol, Period: period}
	return m.chart, m.err
}

func sampleReport() *models.Report {
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	series := &models.PriceSeries{Symbol: "7203.T", Currency: "JPY"}
	for i := 0; i < 30; i++ {
		c := 2500 + float64(i)*4
		series.Bars = append(series.Bars, models.PriceBar{Date: start.AddDate(0, 0, i), Open: c, High: c + 5, Low: c - 5, Close: c, Volume: 1000})
	}
	return &models.Report{
		Symbol:     "7203.T",
		Period:     models.Period3Months,
		ReportType: models.ReportOutlook,
		Series:     series,
		Sources: []models.SourceResult{
			{Source: "yahoo", Headlines: []models.Headline{{Title: "Toyota raises forecast", URL: "https://example.com/a"}}},
			{Source: "google-news", Err: errors.New("timeout")},
		},
		Request:     &models.AnalysisRequest{Model: "gemini-1.5-flash", ReportType: models.ReportOutlook},
		Result:      &models.AnalysisResult{Model: "gemini-1.5-flash", Text: "## Outlook\n\n**Bullish** into earnings."},
		ChartPNG:    fakePNG,
		GeneratedAt: time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC),
	}
}

func newTestServer(t *testing.T, mock *mockAnalysis, configure func(*common.Config)) *Server {
	t.Helper()
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("YOSOKU_GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")

	cfg := common.NewDefaultConfig()
	if configure != nil {
		configure(cfg)
	}
	logger := arbor.NewLogger()
	return NewServer(&app.App{
		Config:          cfg,
		Logger:          logger,
		AnalysisService: mock,
		ReportService:   report.NewService(logger),
		StartupTime:     time.Now(),
	})
}

func postForm(t *testing.T, h http.Handler, path string, form url.Values, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func analyzeValues() url.Values {
	return url.Values{
		"symbol":      {" 7203.t "},
		"period":      {"3mo"},
		"report_type": {"outlook"},
		"credential":  {"form-key"},
	}
}

func TestHealthAndVersion(t *testing.T) {
	srv := newTestServer(t, &mockAnalysis{}, nil)

	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
	assert.NotEmpty(t, rr.Header().Get("X-Correlation-ID"))

	rr = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/version", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, common.GetVersion(), body["version"])

	rr = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestDashboard_OpenWhenNoPassword(t *testing.T) {
	srv := newTestServer(t, &mockAnalysis{}, nil)

	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `action="/analyze"`)
	assert.NotContains(t, rr.Body.String(), "Sign out")
}

func TestAuth_LoginFlow(t *testing.T) {
	srv := newTestServer(t, &mockAnalysis{}, func(c *common.Config) {
		c.Auth.Password = "hunter2"
		c.Auth.SessionSecret = "test-secret"
	})
	h := srv.Handler()

	// Gate redirects anonymous visitors
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/login", rr.Header().Get("Location"))

	rr = postForm(t, h, "/analyze", analyzeValues())
	assert.Equal(t, http.StatusSeeOther, rr.Code)

	// Wrong password
	rr = postForm(t, h, "/login", url.Values{"password": {"wrong"}})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Contains(t, rr.Body.String(), "Incorrect password.")
	assert.Empty(t, rr.Result().Cookies())

	// Right password issues the session cookie
	rr = postForm(t, h, "/login", url.Values{"password": {"hunter2"}})
	require.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/", rr.Header().Get("Location"))
	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	session := cookies[0]
	assert.Equal(t, "yosoku_session", session.Name)
	assert.True(t, session.HttpOnly)
	assert.True(t, session.Expires.IsZero(), "session cookie carries no expiry")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(session)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "Sign out")

	// Logout clears the cookie
	rr = postForm(t, h, "/logout", nil, session)
	assert.Equal(t, http.StatusSeeOther, rr.Code)
	cleared := rr.Result().Cookies()
	require.Len(t, cleared, 1)
	assert.Equal(t, "", cleared[0].Value)
	assert.True(t, cleared[0].MaxAge < 0)
}

func TestAuth_RejectsForeignToken(t *testing.T) {
	srv := newTestServer(t, &mockAnalysis{}, func(c *common.Config) {
		c.Auth.Password = "hunter2"
		c.Auth.SessionSecret = "test-secret"
	})

	token, err := signSessionToken("abc", []byte("other-secret"), time.Now())
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "yosoku_session", Value: token})
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusSeeOther, rr.Code)
}

func TestAuth_RejectsPlaceholderSecretCookie(t *testing.T) {
	srv := newTestServer(t, &mockAnalysis{}, func(c *common.Config) {
		c.Environment = "production"
		c.Auth.Password = "hunter2"
		c.Auth.SessionSecret = common.PlaceholderSessionSecret
	})

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sid":  "attacker",
		"auth": true,
	}).SignedString([]byte(common.PlaceholderSessionSecret))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "yosoku_session", Value: forged})
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/login", rr.Header().Get("Location"))
}

func TestAuth_EmptySecretUsesRandomKey(t *testing.T) {
	srv := newTestServer(t, &mockAnalysis{}, func(c *common.Config) {
		c.Auth.Password = "hunter2"
		c.Auth.SessionSecret = ""
	})
	h := srv.Handler()
	require.Len(t, srv.secret, 32)

	rr := postForm(t, h, "/login", url.Values{"password": {"hunter2"}})
	require.Equal(t, http.StatusSeeOther, rr.Code)
	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)

	_, ok := parseSessionToken(cookies[0].Value, nil)
	assert.False(t, ok)
	_, err := jwt.Parse(cookies[0].Value, func(*jwt.Token) (interface{}, error) { return []byte{}, nil })
	assert.Error(t, err, "cookie must not verify under an empty key")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)

	// A second process gets its own key
	other := newTestServer(t, &mockAnalysis{}, func(c *common.Config) {
		c.Auth.Password = "hunter2"
		c.Auth.SessionSecret = ""
	})
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	rr = httptest.NewRecorder()
	other.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusSeeOther, rr.Code)
}

func TestAnalyze_Success(t *testing.T) {
	mock := &mockAnalysis{report: sampleReport()}
	srv := newTestServer(t, mock, nil)

	rr := postForm(t, srv.Handler(), "/analyze", analyzeValues())

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, mock.calls)
	assert.Equal(t, models.Symbol("7203.T"), mock.last.Symbol)
	assert.Equal(t, models.Period3Months, mock.last.Period)
	assert.Equal(t, models.ReportOutlook, mock.last.ReportType)
	assert.Equal(t, "form-key", mock.last.APIKey)

	body := rr.Body.String()
	assert.Contains(t, body, "<strong>Bullish</strong>")
	assert.Contains(t, body, "data:image/png;base64,")
	assert.Contains(t, body, "Toyota raises forecast")
	assert.Contains(t, body, "Source unavailable.")
	assert.Contains(t, body, "Headlines from google-news could not be fetched.")
	assert.NotContains(t, body, "form-key", "the API key is never echoed back")
}

func TestAnalyze_InvalidInputSkipsPipeline(t *testing.T) {
	mock := &mockAnalysis{report: sampleReport()}
	srv := newTestServer(t, mock, nil)

	cases := map[string]url.Values{
		"bad symbol":  {"symbol": {"72 03"}, "period": {"3mo"}, "report_type": {"outlook"}},
		"no symbol":   {"period": {"3mo"}, "report_type": {"outlook"}},
		"bad period":  {"symbol": {"AAPL"}, "period": {"10y"}, "report_type": {"outlook"}},
		"bad type":    {"symbol": {"AAPL"}, "period": {"1y"}, "report_type": {"essay"}},
		"bad format":  {"symbol": {"AAPL"}, "period": {"1y"}, "report_type": {"outlook"}, "format": {"docx"}},
		"script name": {"symbol": {"<script>"}, "period": {"1y"}, "report_type": {"outlook"}},
	}
	for name, form := range cases {
		t.Run(name, func(t *testing.T) {
			rr := postForm(t, srv.Handler(), "/analyze", form)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Contains(t, rr.Body.String(), `class="banner error"`)
			assert.NotContains(t, rr.Body.String(), "<script>")
		})
	}
	assert.Zero(t, mock.calls)
}

func TestAnalyze_PipelineErrorsBecomeBanners(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		report     *models.Report
		wantStatus int
		wantText   string
	}{
		{"credential", &analysis.Error{Kind: analysis.KindCredentialMissing}, nil, http.StatusBadRequest, "No Gemini API key is configured."},
		{"data", &analysis.Error{Kind: analysis.KindDataUnavailable, Reason: "XXXX"}, nil, http.StatusNotFound, "Price data not found for XXXX."},
		{"no model", &analysis.Error{Kind: analysis.KindNoModelAvailable}, nil, http.StatusBadGateway, "No generative model is available"},
		{"rate", &analysis.Error{Kind: analysis.KindRateLimited}, sampleReport(), http.StatusTooManyRequests, "rate limiting requests"},
		{"empty", &analysis.Error{Kind: analysis.KindEmptyModelResponse, Reason: "SAFETY"}, sampleReport(), http.StatusOK, "The model returned no content (reason: SAFETY)."},
		{"other", errors.New("boom"), nil, http.StatusInternalServerError, "An error occurred: boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockAnalysis{report: tt.report, err: tt.err}
			srv := newTestServer(t, mock, nil)

			rr := postForm(t, srv.Handler(), "/analyze", analyzeValues())

			assert.Equal(t, tt.wantStatus, rr.Code)
			assert.Contains(t, rr.Body.String(), tt.wantText)
			if tt.report != nil {
				assert.Contains(t, rr.Body.String(), "data:image/png;base64,", "partial report still renders")
			}
		})
	}
}

func TestAnalyze_PDFExport(t *testing.T) {
	mock := &mockAnalysis{report: sampleReport()}
	mock.report.ChartPNG = nil
	srv := newTestServer(t, mock, nil)

	form := analyzeValues()
	form.Set("format", "pdf")
	rr := postForm(t, srv.Handler(), "/analyze", form)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/pdf", rr.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="7203.T-20240315.pdf"`, rr.Header().Get("Content-Disposition"))
	assert.True(t, bytes.HasPrefix(rr.Body.Bytes(), []byte("%PDF")))
}

func TestAnalyze_PDFFallsBackToHTMLOnError(t *testing.T) {
	mock := &mockAnalysis{report: sampleReport(), err: &analysis.Error{Kind: analysis.KindEmptyModelResponse}}
	srv := newTestServer(t, mock, nil)

	form := analyzeValues()
	form.Set("format", "pdf")
	rr := postForm(t, srv.Handler(), "/analyze", form)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "text/html")
}

func TestAnalyze_PDFWithJapaneseFallsBackToHTML(t *testing.T) {
	mock := &mockAnalysis{report: sampleReport()}
	mock.report.Result.Text = "## 見通し\n\nトヨタは強気です。"
	srv := newTestServer(t, mock, nil)

	form := analyzeValues()
	form.Set("format", "pdf")
	rr := postForm(t, srv.Handler(), "/analyze", form)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "text/html")
	assert.Empty(t, rr.Header().Get("Content-Disposition"))
	body := rr.Body.String()
	assert.Contains(t, body, "トヨタは強気です。")
	assert.Contains(t, body, "Configure report.pdf_font_path to export it as PDF.")
	assert.NotContains(t, body, `class="banner error"`)
}

func TestAnalyze_MultipartUpload(t *testing.T) {
	mock := &mockAnalysis{report: sampleReport()}
	srv := newTestServer(t, mock, nil)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range map[string]string{"symbol": "AAPL", "period": "1y", "report_type": "detailed", "notes": "Watch margins"} {
		require.NoError(t, mw.WriteField(k, v))
	}
	fw, err := mw.CreateFormFile("document", "q3.pdf")
	require.NoError(t, err)
	fw.Write([]byte("%PDF-1.4 fake"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/analyze", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "q3.pdf", mock.last.DocumentName)
	assert.Equal(t, []byte("%PDF-1.4 fake"), mock.last.Document)
	assert.Equal(t, "Watch margins", mock.last.Notes)
	assert.Equal(t, models.ReportDetailed, mock.last.ReportType)
}

func TestAnalyze_UploadTooLarge(t *testing.T) {
	mock := &mockAnalysis{report: sampleReport()}
	srv := newTestServer(t, mock, func(c *common.Config) {
		c.Server.MaxUploadBytes = 1 << 10
	})

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("symbol", "AAPL"))
	fw, err := mw.CreateFormFile("document", "big.pdf")
	require.NoError(t, err)
	fw.Write(bytes.Repeat([]byte("x"), 4<<10))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/analyze", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	assert.Zero(t, mock.calls)
}

func TestChartEndpoint(t *testing.T) {
	mock := &mockAnalysis{chart: fakePNG}
	srv := newTestServer(t, mock, nil)

	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/chart.png?symbol=%5En225&period=6mo", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "image/png", rr.Header().Get("Content-Type"))
	assert.Equal(t, fakePNG, rr.Body.Bytes())
	assert.Equal(t, models.Symbol("^N225"), mock.last.Symbol)

	rr = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/chart.png?symbol=AAPL&period=forever", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	mock.err = &analysis.Error{Kind: analysis.KindDataUnavailable, Reason: "NOPE"}
	rr = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/chart.png?symbol=NOPE&period=1y", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, string(analysis.KindDataUnavailable), resp.Code)
}

func TestSymbolPattern(t *testing.T) {
	valid := []string{"AAPL", "7203.T", "BRK-B", "^N225", "USDJPY=X", "6758.T"}
	for _, s := range valid {
		assert.True(t, symbolPattern.MatchString(normalizeSymbol(s)), s)
	}
	invalid := []string{"", "72 03", "AAPL;DROP", "../etc", "<b>", strings.Repeat("A", 30)}
	for _, s := range invalid {
		assert.False(t, symbolPattern.MatchString(normalizeSymbol(s)), s)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	h := recoveryMiddleware(arbor.NewLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestCorrelationIDPassthrough(t *testing.T) {
	h := correlationIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, "req-123", rr.Header().Get("X-Correlation-ID"))
}
