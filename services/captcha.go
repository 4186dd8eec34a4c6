package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ayeremenko/visa-tracker/shared"
	"github.com/chromedp/chromedp"
	"github.com/sirupsen/logrus"
)

// CaptchaPanel is one tile of the 3x3 captcha grid presented to the solver.
type CaptchaPanel struct {
	ID          string `json:"id"`
	ImageBase64 string `json:"image"`
}

// CaptchaSolver selects the panel ids matching the task text. The production
// implementation calls a remote solver service; tests use a canned fake.
type CaptchaSolver interface {
	Solve(ctx context.Context, task string, panels []CaptchaPanel) ([]string, error)
}

// HTTPCaptchaSolver posts the task and panel images to a solver endpoint.
type HTTPCaptchaSolver struct {
	endpoint   string
	httpClient *http.Client
}

// NewHTTPCaptchaSolver creates a solver client for the given endpoint.
func NewHTTPCaptchaSolver(endpoint string, httpClient *http.Client) *HTTPCaptchaSolver {
	return &HTTPCaptchaSolver{endpoint: endpoint, httpClient: httpClient}
}

type solverRequest struct {
	Task   string         `json:"task"`
	Panels []CaptchaPanel `json:"panels"`
}

type solverResponse struct {
	Selected []string `json:"selected"`
}

func (s *HTTPCaptchaSolver) Solve(ctx context.Context, task string, panels []CaptchaPanel) ([]string, error) {
	body, err := json.Marshal(solverRequest{Task: task, Panels: panels})
	if err != nil {
		return nil, fmt.Errorf("marshal solver request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := shared.ExecuteHTTPRequestWithRetry(s.httpClient, req, 2)
	if err != nil {
		return nil, fmt.Errorf("solver request failed: %w", err)
	}
	defer resp.Body.Close()

	var parsed solverResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode solver response: %w", err)
	}
	if len(parsed.Selected) == 0 {
		return nil, fmt.Errorf("solver returned no panels")
	}
	return parsed.Selected, nil
}

// captchaChallenge is everything extracted from a rendered captcha page.
type captchaChallenge struct {
	Task              string         `json:"task"`
	Panels            []CaptchaPanel `json:"panels"`
	CaptchaID         string         `json:"captchaId"`
	VerificationToken string         `json:"verificationToken"`
}

// extractChallengeScript runs in the rendered captcha page. Panel geometry
// and decoy visibility only exist as computed styles, which is why the page
// goes through a headless browser instead of a plain HTML parse. Cells are
// 110px squares; overlapping tiles are resolved by the highest z-index.
const extractChallengeScript = `(function () {
	var task = '';
	var labels = document.querySelectorAll('.box-label');
	for (var i = 0; i < labels.length; i++) {
		var style = window.getComputedStyle(labels[i]);
		if (style.display !== 'none' && style.visibility !== 'hidden') {
			task = (labels[i].textContent || '').trim();
			break;
		}
	}
	var captchaId = (document.querySelector('input[name=Id]') || {}).value || '';
	var verificationToken = (document.querySelector('input[name=__RequestVerificationToken]') || {}).value || '';
	var slots = [];
	for (var s = 0; s < 9; s++) slots.push([]);
	var images = document.querySelectorAll('.captcha-img');
	for (var j = 0; j < images.length; j++) {
		var panel = images[j].parentElement;
		if (!panel || !panel.id) continue;
		var panelStyle = window.getComputedStyle(panel);
		if (panelStyle.display === 'none') continue;
		var row = Math.round(parseInt(panelStyle.top, 10) / 110);
		var col = Math.round(parseInt(panelStyle.left, 10) / 110);
		var slot = row * 3 + col;
		if (slot < 0 || slot > 8) continue;
		slots[slot].push({
			id: panel.id,
			zIndex: parseInt(panelStyle.zIndex, 10) || 0,
			src: images[j].getAttribute('src') || ''
		});
	}
	var panels = [];
	for (var k = 0; k < 9; k++) {
		slots[k].sort(function (a, b) { return b.zIndex - a.zIndex; });
		if (slots[k].length > 0) {
			panels.push({ id: slots[k][0].id, image: slots[k][0].src });
		}
	}
	return JSON.stringify({
		task: task,
		panels: panels,
		captchaId: captchaId,
		verificationToken: verificationToken
	});
})()`

// submitScriptTemplate posts the solution from inside the page so the
// antiforgery cookies issued with the captcha ride along automatically.
// The request is synchronous to keep the evaluation single-shot.
const submitScriptTemplate = `(function () {
	var xhr = new XMLHttpRequest();
	xhr.open('POST', '/Global/Captcha/SubmitCaptcha', false);
	xhr.setRequestHeader('Content-Type', 'application/x-www-form-urlencoded; charset=UTF-8');
	xhr.setRequestHeader('X-Requested-With', 'XMLHttpRequest');
	xhr.send(%s);
	try {
		return xhr.responseText;
	} catch (e) {
		return '';
	}
})()`

// CaptchaClient runs the full captcha flow against the BLS portal: fetch the
// generation token, render the challenge, delegate recognition to the
// solver, submit the answer. Attempts are bounded with exponential backoff;
// the legacy poll-until-ready recursion is intentionally not reproduced.
type CaptchaClient struct {
	baseURL     string
	solver      CaptchaSolver
	httpClient  *http.Client
	maxAttempts int
	baseBackoff time.Duration
}

// NewCaptchaClient creates a captcha client for the portal at baseURL.
func NewCaptchaClient(baseURL string, solver CaptchaSolver, httpClient *http.Client) *CaptchaClient {
	return &CaptchaClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		solver:      solver,
		httpClient:  httpClient,
		maxAttempts: 3,
		baseBackoff: 2 * time.Second,
	}
}

// Solve returns a verified captcha id usable for one status request.
func (cc *CaptchaClient) Solve(ctx context.Context) (string, error) {
	if cc.solver == nil {
		return "", fmt.Errorf("no captcha solver configured")
	}

	var lastErr error
	for attempt := 1; attempt <= cc.maxAttempts; attempt++ {
		if attempt > 1 {
			backoff := cc.baseBackoff * time.Duration(1<<uint(attempt-2))
			logrus.WithFields(logrus.Fields{
				"component": "CaptchaClient",
				"attempt":   attempt,
				"backoff":   backoff,
			}).Debug("Retrying captcha solve after backoff")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		captchaID, err := cc.solveOnce(ctx)
		if err == nil {
			return captchaID, nil
		}
		lastErr = err
		logrus.WithFields(logrus.Fields{
			"component": "CaptchaClient",
			"attempt":   attempt,
		}).WithError(err).Warn("Captcha solve attempt failed")
	}
	return "", fmt.Errorf("captcha solve failed after %d attempts: %w", cc.maxAttempts, lastErr)
}

func (cc *CaptchaClient) solveOnce(ctx context.Context) (string, error) {
	dataToken, err := cc.fetchGenerationToken(ctx)
	if err != nil {
		return "", err
	}

	challenge, submitResponse, err := cc.renderAndSubmit(ctx, dataToken)
	if err != nil {
		return "", err
	}

	var parsed struct {
		Success   bool   `json:"success"`
		CaptchaID string `json:"captchaId"`
	}
	if err := json.Unmarshal([]byte(submitResponse), &parsed); err != nil {
		return "", shared.NewServiceError(shared.ErrorCategoryParsing, "CAPTCHA_SUBMIT_PARSE",
			"could not parse captcha submit response", "CaptchaClient", "solveOnce", true, err)
	}
	if !parsed.Success {
		return "", shared.NewServiceError(shared.ErrorCategoryUpstream, "CAPTCHA_REJECTED",
			"captcha solution rejected for task "+challenge.Task, "CaptchaClient", "solveOnce", true, nil)
	}
	return parsed.CaptchaID, nil
}

// fetchGenerationToken scrapes the data token embedded in the status page's
// inline script.
func (cc *CaptchaClient) fetchGenerationToken(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cc.baseURL+"/Global/bls/visaapplicationstatus", nil)
	if err != nil {
		return "", err
	}
	shared.SetBrowserLikeHeaders(req, "text/html,application/xhtml+xml")

	resp, err := shared.ExecuteHTTPRequestWithRetry(cc.httpClient, req, 1)
	if err != nil {
		return "", shared.NewServiceError(shared.ErrorCategoryNetwork, "CAPTCHA_TOKEN_FETCH",
			"could not fetch captcha generation token", "CaptchaClient", "fetchGenerationToken", true, err)
	}
	defer resp.Body.Close()

	var page bytes.Buffer
	if _, err := page.ReadFrom(resp.Body); err != nil {
		return "", err
	}

	const marker = "win.iframeOpenUrl = '/Global/Captcha/GenerateCaptcha?data="
	_, after, found := strings.Cut(page.String(), marker)
	if !found {
		return "", shared.NewServiceError(shared.ErrorCategoryParsing, "CAPTCHA_TOKEN_MISSING",
			"captcha generation token not present in status page", "CaptchaClient", "fetchGenerationToken", true, nil)
	}
	token, _, found := strings.Cut(after, "'")
	if !found {
		return "", shared.NewServiceError(shared.ErrorCategoryParsing, "CAPTCHA_TOKEN_MISSING",
			"captcha generation token not terminated", "CaptchaClient", "fetchGenerationToken", true, nil)
	}
	decoded, err := url.QueryUnescape(token)
	if err != nil {
		return "", err
	}
	return decoded, nil
}

// renderAndSubmit drives a headless browser through one challenge.
func (cc *CaptchaClient) renderAndSubmit(ctx context.Context, dataToken string) (*captchaChallenge, string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("mute-audio", true),
		chromedp.UserAgent(shared.BrowserUserAgent),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	captchaURL := cc.baseURL + "/Global/Captcha/GenerateCaptcha?data=" + url.QueryEscape(dataToken)

	var challengeJSON string
	err := chromedp.Run(browserCtx,
		chromedp.Navigate(captchaURL),
		chromedp.WaitVisible(".captcha-img", chromedp.ByQuery),
		chromedp.Evaluate(extractChallengeScript, &challengeJSON),
	)
	if err != nil {
		return nil, "", shared.NewServiceError(shared.ErrorCategoryNetwork, "CAPTCHA_RENDER",
			"could not render captcha page", "CaptchaClient", "renderAndSubmit", true, err)
	}

	var challenge captchaChallenge
	if err := json.Unmarshal([]byte(challengeJSON), &challenge); err != nil {
		return nil, "", shared.NewServiceError(shared.ErrorCategoryParsing, "CAPTCHA_EXTRACT",
			"could not parse extracted captcha challenge", "CaptchaClient", "renderAndSubmit", true, err)
	}
	if challenge.Task == "" || challenge.CaptchaID == "" || challenge.VerificationToken == "" {
		return nil, "", shared.NewServiceError(shared.ErrorCategoryParsing, "CAPTCHA_EXTRACT",
			"captcha challenge incomplete", "CaptchaClient", "renderAndSubmit", true, nil)
	}
	if len(challenge.Panels) != 9 {
		return nil, "", shared.NewServiceError(shared.ErrorCategoryParsing, "CAPTCHA_PANELS",
			fmt.Sprintf("expected 9 captcha panels, got %d", len(challenge.Panels)),
			"CaptchaClient", "renderAndSubmit", true, nil)
	}

	selected, err := cc.solver.Solve(ctx, challenge.Task, challenge.Panels)
	if err != nil {
		return nil, "", shared.NewServiceError(shared.ErrorCategoryUpstream, "CAPTCHA_SOLVER",
			"captcha solver failed", "CaptchaClient", "renderAndSubmit", true, err)
	}

	form := url.Values{}
	form.Set("SelectedImages", strings.Join(selected, ","))
	form.Set("Id", challenge.CaptchaID)
	form.Set("__RequestVerificationToken", challenge.VerificationToken)
	form.Set("X-Requested-With", "XMLHttpRequest")
	formLiteral, err := json.Marshal(form.Encode())
	if err != nil {
		return nil, "", err
	}

	var submitResponse string
	submitScript := fmt.Sprintf(submitScriptTemplate, string(formLiteral))
	if err := chromedp.Run(browserCtx, chromedp.Evaluate(submitScript, &submitResponse)); err != nil {
		return nil, "", shared.NewServiceError(shared.ErrorCategoryNetwork, "CAPTCHA_SUBMIT",
			"could not submit captcha solution", "CaptchaClient", "renderAndSubmit", true, err)
	}

	return &challenge, submitResponse, nil
}
