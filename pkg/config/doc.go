// Package config loads scraper settings from defaults, a YAML file, .env
// files, LANDSCRAPER_* environment variables and command line flags, in that
// order of increasing precedence.
//
// Typical use:
//
//	cfg, err := config.Load("", map[string]interface{}{
//	    "min-id":     1,
//	    "max-id":     60,
//	    "concurrent": 8,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Durations in YAML use Go syntax ("20s", "12h"). URL templates and the
// artifact file name pattern must contain an {id} placeholder.
package config
