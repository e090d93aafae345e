// Package canon provides the canonical value model and serialization for
// opsledger.
//
// This package contains the constrained value types and the single
// serialization used for content-addressed identity. All other internal
// packages import canon; canon imports nothing internal. This keeps the
// hashed surface at the bottom of the dependency graph with no cycles.
//
// Key design constraints:
//   - NO float types anywhere in the hashed surface - use Int or decimal
//     strings for numbers
//   - Object keys serialize in Unicode code point order
//   - Strings are NFC normalized at the serialization boundary
//   - All hashes are SHA-256, hex encoded, lower case
package canon
