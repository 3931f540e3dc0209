// Package retry provides capped exponential backoff and retry logic for
// transient failures of upstream requests.
//
// Basic usage:
//
//	cfg := retry.FromConfig(appConfig.Retry, logger.GetLogger())
//	cfg.Context = ctx
//	var body []byte
//	err := retry.Do(func() error {
//		var err error
//		body, err = fetch(url)
//		return err
//	}, cfg)
//
// With the default settings a request is tried up to five times, sleeping
// 1.5s, 3s, 6s and 12s (plus or minus 10% jitter) between attempts. Only
// network failures and the configured HTTP statuses (429, 500, 502, 503, 504)
// are retried.
package retry
