package services

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/ayeremenko/visa-tracker/shared"
	"github.com/gocolly/colly/v2"
	"github.com/sirupsen/logrus"
)

// DefaultBLSBaseURL is the Armenian BLS Spain portal.
const DefaultBLSBaseURL = "https://armenia.blsspainglobal.com"

// captchaFailureText is shown when the captcha pipeline gives up. It is the
// one provider failure with a specific user-facing message; everything else
// surfaces as a generic fetch failure.
const captchaFailureText = "Не удалось решить капчу или сайт BLS перегружен. Попробуйте отправить запрос еще раз позднее."

// BLSStatusProvider fetches application statuses from the BLS Spain portal.
// Every fetch solves a fresh captcha, then requests the status page with the
// verified captcha id. A shared politeness limiter spaces out portal hits
// regardless of which user triggered them.
type BLSStatusProvider struct {
	baseURL    string
	captcha    *CaptchaClient
	politeness *shared.HTTPRequestRateLimiter
}

// NewBLSStatusProvider creates a provider against the given portal base URL.
func NewBLSStatusProvider(baseURL string, captcha *CaptchaClient, politeness *shared.HTTPRequestRateLimiter) *BLSStatusProvider {
	return &BLSStatusProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		captcha:    captcha,
		politeness: politeness,
	}
}

// FetchStatus implements StatusProvider.
func (p *BLSStatusProvider) FetchStatus(ctx context.Context, referenceNumber string, dateOfBirth time.Time) (StatusResult, error) {
	p.politeness.EnforceRateLimit()

	logger := logrus.WithFields(logrus.Fields{
		"component":        "BLSStatusProvider",
		"reference_number": referenceNumber,
	})

	captchaID, err := p.captcha.Solve(ctx)
	if err != nil {
		logger.WithError(err).Warn("Captcha pipeline failed, reporting upstream error to user")
		return StatusResult{OK: false, Error: captchaFailureText}, nil
	}

	pageBody, err := p.fetchStatusPage(ctx, referenceNumber, dateOfBirth, captchaID)
	if err != nil {
		return StatusResult{}, err
	}

	result, err := parseStatusPage(pageBody)
	if err != nil {
		return StatusResult{}, err
	}

	if result.OK {
		logger.WithField("status", result.Status).Info("Fetched application status")
	} else {
		logger.WithField("error", result.Error).Info("Portal reported application error")
	}
	return result, nil
}

// fetchStatusPage requests the rendered status page with a verified captcha.
func (p *BLSStatusProvider) fetchStatusPage(ctx context.Context, referenceNumber string, dateOfBirth time.Time, captchaID string) ([]byte, error) {
	query := url.Values{}
	query.Set("referenceNo", referenceNumber)
	query.Set("dob", dateOfBirth.Format("2006-01-02"))
	query.Set("captchaId", captchaID)
	statusURL := p.baseURL + "/Global/bls/showapplicationstatus?" + query.Encode()

	collector := colly.NewCollector(
		colly.UserAgent(shared.BrowserUserAgent),
	)
	collector.SetRequestTimeout(60 * time.Second)

	collector.OnRequest(func(request *colly.Request) {
		request.Headers.Set("Accept", "text/html,application/xhtml+xml")
		request.Headers.Set("Accept-Language", "ru-RU,ru;q=0.9,en-US;q=0.8")
		if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= 0 {
			request.Abort()
		}
	})

	var pageBody []byte
	collector.OnResponse(func(response *colly.Response) {
		pageBody = response.Body
	})

	var requestErr error
	collector.OnError(func(response *colly.Response, err error) {
		requestErr = err
	})

	if err := collector.Visit(statusURL); err != nil {
		requestErr = err
	}
	collector.Wait()

	if requestErr != nil {
		return nil, shared.NewServiceError(shared.ErrorCategoryNetwork, "STATUS_PAGE_FETCH",
			"could not fetch application status page", "BLSStatusProvider", "fetchStatusPage", true, requestErr)
	}
	if len(pageBody) == 0 {
		return nil, shared.NewServiceError(shared.ErrorCategoryUpstream, "STATUS_PAGE_EMPTY",
			"status page response was empty", "BLSStatusProvider", "fetchStatusPage", true, nil)
	}
	return pageBody, nil
}

// parseStatusPage extracts the status or the portal-reported error from the
// status page markup. A content block with no element children carries a bare
// error message; otherwise the block holds label/value rows and the status
// lives in the "Current Status" row.
func parseStatusPage(pageBody []byte) (StatusResult, error) {
	document, err := goquery.NewDocumentFromReader(bytes.NewReader(pageBody))
	if err != nil {
		return StatusResult{}, shared.NewServiceError(shared.ErrorCategoryParsing, "STATUS_PAGE_PARSE",
			"could not parse status page markup", "BLSStatusProvider", "parseStatusPage", false, err)
	}

	content := document.Find("#appWrapper .page-inner > div > div").First()
	if content.Length() == 0 {
		return StatusResult{}, shared.NewServiceError(shared.ErrorCategoryParsing, "STATUS_CONTENT_MISSING",
			"status content block not found", "BLSStatusProvider", "parseStatusPage", false, nil)
	}

	if content.Children().Length() == 0 {
		message := strings.TrimSpace(content.Text())
		if message == "" {
			return StatusResult{}, shared.NewServiceError(shared.ErrorCategoryParsing, "STATUS_CONTENT_EMPTY",
				"status content block was empty", "BLSStatusProvider", "parseStatusPage", false, nil)
		}
		return StatusResult{OK: false, Error: TranslateError(message)}, nil
	}

	fields := make(map[string]string)
	content.Find("div.row").Each(func(_ int, row *goquery.Selection) {
		cells := row.Children()
		if cells.Length() < 2 {
			return
		}
		name := strings.TrimSpace(cells.Eq(0).Text())
		value := strings.TrimSpace(cells.Eq(1).Text())
		if name != "" {
			fields[normalizeFieldName(name)] = value
		}
	})

	rawStatus, found := fields["current status"]
	if !found || rawStatus == "" {
		return StatusResult{}, shared.NewServiceError(shared.ErrorCategoryParsing, "STATUS_FIELD_MISSING",
			fmt.Sprintf("current status field not found among %d fields", len(fields)),
			"BLSStatusProvider", "parseStatusPage", false, nil)
	}

	return StatusResult{OK: true, Status: TranslateStatus(rawStatus)}, nil
}

func normalizeFieldName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(strings.TrimSuffix(strings.TrimSpace(name), ":")), " "))
}
