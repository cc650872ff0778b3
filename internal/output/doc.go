// Package output renders a finished capture.
//
// Formatter writes the capture record to stdout as a single JSON object:
//
//	{"body": "<login payload, re-encoded>", "headers": {"<name>": "<value>", ...}}
//
// Headers appear in the order they were first observed. The encoding follows
// the compact-with-spaces layout of the body itself (see pyjson), so the record
// can be consumed by tools that expect that style.
//
// OTELFormatter is a pure annotation layer: it sets counters and target
// identity on the run span. It never attaches header values or the body.
package output
