// Package scraper orchestrates validation and extraction of region data.
//
// A run moves through five phases:
//
//	init -> validating -> downloading -> reporting -> done
//
// Validation walks the configured identifier range in ascending order, one
// probe at a time, with a randomized pause after every probe that reached
// the network. Regions already known to be valid or completed are skipped.
//
// Downloading hands every valid, not yet completed region to a bounded
// worker pool. Each task owns one region end to end; completion order is
// not defined. The result drainer pauses briefly after every completion.
//
// Reporting logs per-region feature counts and failed regions, and computes
// the retry candidates. With download.retry_failed_in_run they are sent
// through the pool once more; otherwise they wait for the next run.
//
// A finished run logs "Data extraction completed" followed by
// "Total regions processed: N". The watchdog treats those lines as proof of
// a clean exit, so interrupted runs never log them.
//
// Usage:
//
//	s, err := scraper.New(cfg, metrics.New(nil), log)
//	if err != nil {
//	    return err
//	}
//	report, err := s.Run(ctx)
package scraper
