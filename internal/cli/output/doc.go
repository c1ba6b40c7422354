// Package output renders CLI results.
//
// Results are printed as an aligned table (the default), JSON or YAML.
// Struct fields are labelled by their json tag; a `table:"bytes"` tag
// renders an integer as a human readable size and `table:"-"` hides the
// field from tables.
package output
