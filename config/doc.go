// Package config loads agent and hub configuration.
//
// Configuration is built in layers. Defaults come first, then each file
// layer is merged over the result in the order it was added, then
// environment variables with the CACHESCOPE_ prefix override individual
// fields, and finally the result is validated.
//
// Files may be JSON or YAML, chosen by extension. Nested objects merge key
// by key; any other value in a later layer replaces the earlier one.
// Durations are written as strings ("500ms", "2m", "14d").
//
// # Basic Usage
//
//	loader := config.NewLoader()
//	loader.AddLayer("config/agent.yaml")
//	loader.AddLayer("config/agent.local.json") // overrides agent.yaml
//
//	cfg, err := loader.LoadAgent()
//	if err != nil {
//	    return err
//	}
//
// # Environment Overrides
//
// Scalar fields can be overridden from the environment:
//
//	CACHESCOPE_INSPECTOR_URL=ws://10.0.2.2:42831
//	CACHESCOPE_SYNC_MODE=strict
//	CACHESCOPE_DEBUG=true
//	CACHESCOPE_DEVICE_EXTRA_INFO=model:pixel8,build:debug
//
// Storage namespaces are only configurable from files.
//
// # Security
//
// Config files are size limited, must be regular files and must not
// escape the working directory through relative paths. JSON nesting depth
// is bounded.
package config
