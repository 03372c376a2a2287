// Package config loads and validates Corelink Core configuration.
//
// Configuration is read from a YAML file, with hardcoded defaults applied
// first and environment variables (CORELINK_*) applied last. Each
// infrastructure component receives its own config struct so packages do
// not depend on the root Config type.
package config
