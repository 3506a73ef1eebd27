package connector

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/milkywaybrain/cryptorelay/internal/config"
	"github.com/pkg/errors"
)

// REST is for REST API connection.
type REST struct {
	HTTPClient *http.Client
}

// NewREST creates a http client with configured values.
func NewREST(cfg *config.REST) *REST {
	t := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.MaxIdleConns > 0 {
		t.MaxIdleConns = cfg.MaxIdleConns
	}
	if cfg.MaxIdleConnsPerHost > 0 {
		t.MaxIdleConnsPerHost = cfg.MaxIdleConnsPerHost
	}
	client := &http.Client{Transport: t}
	if cfg.ReqTimeoutSec > 0 {
		client.Timeout = time.Duration(cfg.ReqTimeoutSec) * time.Second
	}
	return &REST{HTTPClient: client}
}

// Request creates a new GET request with the given context.
func (r *REST) Request(ctx context.Context, url string) (*http.Request, error) {
	return http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
}

// StatusError is returned by Do for responses other than 200 OK.
type StatusError struct {
	Code   int
	Status string

	// RetryAfter is the wait asked by the server through the Retry-After header, zero if not given.
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("code : %v, status : %v", e.Code, e.Status)
}

// RateLimited tells whether the server refused the request for exceeding its rate limit.
// 418 is sent to clients which kept requesting after a 429.
func (e *StatusError) RateLimited() bool {
	return e.Code == http.StatusTooManyRequests || e.Code == http.StatusTeapot
}

// Do sends the request, any response other than 200 OK is a *StatusError.
func (r *REST) Do(req *http.Request) (*http.Response, error) {
	resp, err := r.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		statusErr := &StatusError{Code: resp.StatusCode, Status: resp.Status}
		if sec, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && sec > 0 {
			statusErr.RetryAfter = time.Duration(sec) * time.Second
		}
		return nil, errors.WithStack(statusErr)
	}
	return resp, nil
}
