package casclient

import (
	"bytes"
	"errors"
	"io"
	"net"
	"net/http"
	"time"
)

// doWithRetry executes req with exponential backoff, grounded on
// pkg/remote/retry.go's retryDo: retry on network errors and 5xx, never
// on 4xx, and replay a buffered body across attempts. A context
// deadline exceeding the request's own timeout is not retried — per
// spec §5/§7, a daemon timeout during push/fetch is fatal, and retrying
// past it would mask that.
func doWithRetry(client *http.Client, req *http.Request, maxAttempts int) (*http.Response, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var bodyBytes []byte
	if req.Body != nil {
		var err error
		bodyBytes, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		req.Body.Close()
	}

	var lastResp *http.Response
	var lastErr error
	backoff := 200 * time.Millisecond

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(backoff)
			backoff *= 2
		}
		if bodyBytes != nil {
			req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
			req.ContentLength = int64(len(bodyBytes))
		}

		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			lastResp = nil
			var netErr net.Error
			if req.Context().Err() != nil || (errors.As(err, &netErr) && netErr.Timeout()) {
				break
			}
			continue
		}
		if resp.StatusCode < 500 {
			return resp, nil
		}

		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		lastResp = resp
		lastErr = nil
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return lastResp, nil
}
