// Package checkpoint persists extraction progress so an interrupted run can
// resume without repeating finished work.
//
// The checkpoint tracks three sets of region ids:
//   - valid: regions confirmed to exist upstream
//   - completed: regions whose artifact has been written
//   - failed: regions whose last download attempt failed
//
// The file is versioned JSON and is replaced atomically on every save
// (temporary file, fsync, rename). A corrupt file never stops a run: it is
// copied aside as <path>.corrupt-<unix> and the run starts from empty state.
//
// Store wraps a State for concurrent use by the download workers.
package checkpoint
