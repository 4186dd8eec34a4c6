package services

import (
	"context"
	"strings"
	"testing"
)

const statusPageMarkup = `<html><body><div id="appWrapper">
<div class="page-inner"><div><div>
	<div class="row"><div>Reference Number</div><div>EVN12345678</div></div>
	<div class="row"><div>Applicant Name</div><div>IVAN PETROV</div></div>
	<div class="row"><div>Current Status</div><div>Processing at mission</div></div>
</div></div></div>
</div></body></html>`

const errorPageMarkup = `<html><body><div id="appWrapper">
<div class="page-inner"><div><div>Invalid application</div></div></div>
</div></body></html>`

func TestParseStatusPageExtractsAndTranslatesStatus(t *testing.T) {
	result, err := parseStatusPage([]byte(statusPageMarkup))
	if err != nil {
		t.Fatalf("parseStatusPage: %v", err)
	}
	if !result.OK {
		t.Fatalf("expected OK result, got error %q", result.Error)
	}
	if result.Status != "Рассмотрение в консульстве" {
		t.Errorf("status = %q", result.Status)
	}
}

func TestParseStatusPageTranslatesPortalError(t *testing.T) {
	result, err := parseStatusPage([]byte(errorPageMarkup))
	if err != nil {
		t.Fatalf("parseStatusPage: %v", err)
	}
	if result.OK {
		t.Fatal("expected portal error result")
	}
	if result.Error != "Ошибка: Неверно указан номер заявления" {
		t.Errorf("error = %q", result.Error)
	}
}

func TestParseStatusPageFailsOnUnexpectedMarkup(t *testing.T) {
	pages := []string{
		`<html><body><p>totally different page</p></body></html>`,
		`<html><body><div id="appWrapper"><div class="page-inner"><div><div>
			<div class="row"><div>Reference Number</div><div>EVN1</div></div>
		</div></div></div></div></body></html>`,
	}
	for _, page := range pages {
		if _, err := parseStatusPage([]byte(page)); err == nil {
			t.Errorf("expected parse failure for %q", page[:40])
		}
	}
}

func TestNormalizeFieldName(t *testing.T) {
	if got := normalizeFieldName("  Current   Status: "); got != "current status" {
		t.Errorf("normalizeFieldName = %q", got)
	}
}

func TestCaptchaSolveWithoutSolver(t *testing.T) {
	client := NewCaptchaClient(DefaultBLSBaseURL, nil, nil)
	if _, err := client.Solve(context.Background()); err == nil || !strings.Contains(err.Error(), "no captcha solver") {
		t.Errorf("expected missing solver error, got %v", err)
	}
}
