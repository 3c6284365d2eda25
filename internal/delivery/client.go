// Package delivery performs the outbound HTTP exchanges with grader
// endpoints and the LMS callback, classifying failures without retrying:
// retry policy belongs to the caller.
package delivery

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Outcome diagnostics. Transport failures and protocol failures are kept
// distinct so operators can tell a dead grader from a broken one.
const (
	msgCannotConnect = "cannot connect to server"
	statusCodeFmt    = "unexpected HTTP status code [%d]"
)

type Options struct {
	// BasicAuthUser/Pass, when set, are applied to every outbound request.
	BasicAuthUser string
	BasicAuthPass string
	// VerifyTLS off is the historical default: graders live on trusted
	// private infrastructure, frequently behind self-signed certificates.
	VerifyTLS bool
}

type Client struct {
	http *http.Client
	opts Options
	log  *zap.Logger
}

func New(opts Options, log *zap.Logger) *Client {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: !opts.VerifyTLS},
	}
	if !opts.VerifyTLS {
		log.Warn("TLS certificate verification disabled for outbound requests; set HTTPS_VERIFY=true to enable")
	}
	return &Client{
		http: &http.Client{Transport: transport},
		opts: opts,
		log:  log,
	}
}

// Post sends body as a JSON POST to url under the given timeout and fails
// gently. On success the returned message is the raw response body; on
// failure it is a diagnostic. Only HTTP 200 counts as success.
func (c *Client) Post(ctx context.Context, url string, body []byte, timeout time.Duration) (bool, string) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		c.log.Error("build request", zap.String("url", url), zap.Error(err))
		return false, msgCannotConnect
	}
	req.Header.Set("Content-Type", "application/json")
	if c.opts.BasicAuthUser != "" {
		req.SetBasicAuth(c.opts.BasicAuthUser, c.opts.BasicAuthPass)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Error("could not connect to server",
			zap.String("url", url), zap.Duration("timeout", timeout), zap.Error(err))
		return false, msgCannotConnect
	}
	defer resp.Body.Close()

	reply, err := io.ReadAll(resp.Body)
	if err != nil {
		c.log.Error("read response", zap.String("url", url), zap.Error(err))
		return false, msgCannotConnect
	}

	if resp.StatusCode != http.StatusOK {
		c.log.Error("server returned error status",
			zap.String("url", url), zap.Int("status_code", resp.StatusCode))
		return false, fmt.Sprintf(statusCodeFmt, resp.StatusCode)
	}

	return true, string(reply)
}
