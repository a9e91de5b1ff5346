// Package id provides unique identifier generation for generation jobs.
package id

import "github.com/google/uuid"

// Prefix starts every generated job ID.
const Prefix = "gen-"

// Generate creates a new unique job ID.
// Format: gen-<uuid v4>
// Example: gen-3f2b8c1e-9d4a-4e0b-8c57-2a1f0b9e6d13
func Generate() string {
	return Prefix + uuid.NewString()
}
