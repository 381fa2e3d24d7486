// Package types defines the core data types used throughout the fault log store.
//
// Key types:
//   - Record: A single immutable fault event with its full log body
//   - Handle: The index reference to a stored record
//   - Category: The closed set of fault kinds (native crash, script crash, app freeze)
package types
