// Package storage manages per-region artifact files.
//
// A download is first written to a scratch file (<artifact>.partial). If the
// body is JSON it is reindented into a temporary file and renamed into place;
// otherwise the scratch file itself is renamed. Either way the final path only
// appears once its content is complete.
//
// Usage:
//
//	manager, err := storage.NewManager("data", "region_{id}_full_data.json")
//	if err != nil {
//	    return err
//	}
//	_ = manager.EnsureDir() // writes create the directory as well
//	if err := manager.WriteScratch(id, body); err != nil {
//	    return err
//	}
//	path, err := manager.WritePretty(id, body)
//	manager.DiscardScratch(id)
package storage
