package shared

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// BrowserUserAgent is sent on every upstream BLS request. The portal rejects
// requests without a plausible browser identity.
const BrowserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// HTTPClientFactory creates optimized HTTP clients with standardized configuration
type HTTPClientFactory struct {
	defaultTimeout time.Duration
	mutex          sync.RWMutex
	clients        map[string]*http.Client
}

// NewHTTPClientFactory creates a new HTTP client factory
func NewHTTPClientFactory(defaultTimeout time.Duration) *HTTPClientFactory {
	return &HTTPClientFactory{
		defaultTimeout: defaultTimeout,
		clients:        make(map[string]*http.Client),
	}
}

// CreateOptimizedHTTPClient creates an HTTP client with connection pooling and optimized settings
func (f *HTTPClientFactory) CreateOptimizedHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = f.defaultTimeout
	}

	clientKey := fmt.Sprintf("timeout_%d", timeout.Milliseconds())

	f.mutex.RLock()
	if client, exists := f.clients[clientKey]; exists {
		f.mutex.RUnlock()
		return client
	}
	f.mutex.RUnlock()

	client := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,

			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 15 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}

	f.mutex.Lock()
	f.clients[clientKey] = client
	f.mutex.Unlock()

	logrus.WithFields(logrus.Fields{
		"component":  "HTTPClientFactory",
		"timeout":    timeout,
		"client_key": clientKey,
	}).Debug("Created new optimized HTTP client")

	return client
}

// SetBrowserLikeHeaders configures HTTP request headers to mimic browser behavior
func SetBrowserLikeHeaders(request *http.Request, acceptHeader string) {
	request.Header.Set("User-Agent", BrowserUserAgent)
	request.Header.Set("Accept", acceptHeader)
	request.Header.Set("Accept-Language", "ru-RU,ru;q=0.9,en-US;q=0.8")
	request.Header.Set("Cache-Control", "no-cache")
	request.Header.Set("Connection", "keep-alive")
}

// ExecuteHTTPRequestWithRetry executes HTTP requests with exponential backoff retry logic
func ExecuteHTTPRequestWithRetry(client *http.Client, request *http.Request, maxRetryAttempts int) (*http.Response, error) {
	logger := logrus.WithFields(logrus.Fields{
		"component": "HTTPClientFactory",
		"method":    "ExecuteHTTPRequestWithRetry",
		"url":       request.URL.String(),
	})

	var httpResponse *http.Response
	var lastExecutionError error

	for attemptNumber := 0; attemptNumber <= maxRetryAttempts; attemptNumber++ {
		if attemptNumber > 0 {
			backoffDuration := time.Duration(1<<uint(attemptNumber-1)) * time.Second

			logger.WithFields(logrus.Fields{
				"attempt":          attemptNumber + 1,
				"backoff_duration": backoffDuration,
			}).Debug("Retrying HTTP request after backoff")

			time.Sleep(backoffDuration)
		}

		httpResponse, lastExecutionError = client.Do(request)
		if lastExecutionError == nil && httpResponse.StatusCode == http.StatusOK {
			return httpResponse, nil
		}

		if lastExecutionError != nil {
			lastExecutionError = fmt.Errorf("attempt %d failed with network error: %w", attemptNumber+1, lastExecutionError)
			logger.WithError(lastExecutionError).Debug("HTTP request failed with network error")
		} else {
			lastExecutionError = fmt.Errorf("attempt %d failed with HTTP %d: %s", attemptNumber+1, httpResponse.StatusCode, http.StatusText(httpResponse.StatusCode))
			logger.WithFields(logrus.Fields{
				"attempt":     attemptNumber + 1,
				"status_code": httpResponse.StatusCode,
			}).Debug("HTTP request failed with non-200 status")
			httpResponse.Body.Close()
		}
	}

	totalAttempts := maxRetryAttempts + 1
	logger.WithFields(logrus.Fields{
		"total_attempts": totalAttempts,
		"final_error":    lastExecutionError,
	}).Error("HTTP request failed after all retry attempts")

	return nil, fmt.Errorf("HTTP request failed after %d attempts: %w", totalAttempts, lastExecutionError)
}

// CleanupAllClients closes idle connections on all cached HTTP clients
func (f *HTTPClientFactory) CleanupAllClients() {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	for key, client := range f.clients {
		if transport, ok := client.Transport.(*http.Transport); ok {
			transport.CloseIdleConnections()
		}
		delete(f.clients, key)
	}

	logrus.WithField("component", "HTTPClientFactory").Debug("Cleaned up all cached HTTP clients")
}
