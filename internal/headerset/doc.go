// Package headerset accumulates request headers observed across many
// interceptions of the header-setting call.
//
// A Set is append-only and first-wins: once a name is stored its value never
// changes, and entries are never removed. Insertion order is kept so the final
// record lists headers in the order the client set them.
//
// The header call may carry a single "Name: value" line or a CRLF separated
// block of them. Lines without the ": " delimiter are rejected one by one with
// ErrMalformedHeader and leave the Set untouched.
package headerset
