// Package confloader loads configuration with koanf and watches the
// configuration file for changes.
//
// Priority (highest to lowest):
//
//  1. Environment variables (WORKINGDB_ prefix)
//  2. Configuration file (YAML)
//  3. Defaults held by the target struct
package confloader
