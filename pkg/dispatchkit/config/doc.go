// Package config loads dispatcher settings from YAML or JSON files and
// DISPATCHKIT_* environment variables.
//
// Files are read into a generic map first and then decoded into
// Settings, so unknown keys are reported instead of silently ignored:
//
//	s, err := config.Load(ctx, "dispatch.yaml")
//	if err != nil {
//	    return err
//	}
//	logger, err := config.NewLogger(os.Stderr, s.LogLevel)
//
// Environment variables override file values. Validate is applied last.
package config
