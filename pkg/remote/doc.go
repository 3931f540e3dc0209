// Package remote talks to the upstream geospatial query endpoint.
//
// Two queries are issued per region: a probe that asks for at most one
// feature, and a download that asks for the full feature set. They differ
// only in URL template and timeout, so both go through Client.Fetch:
//
//	client := remote.NewClient(cfg.Remote, cfg.Retry, limiter, log)
//	resp, err := client.Probe(ctx, models.RegionID(12))
//	if err != nil {
//	    switch errors.TypeOf(err) {
//	    case errors.ErrorTypeNotFound, errors.ErrorTypeRejected:
//	        // upstream refused the query
//	    }
//	}
//
// Transport failures and 429/5xx answers are retried with capped exponential
// backoff. Every attempt waits on the shared rate limiter first.
package remote
