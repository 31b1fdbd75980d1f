// Package workflow wraps the remote Dataform contract in two small types:
// Handle, which follows one workflow invocation by re-fetching its snapshot
// on demand, and Service, which composes compile, invoke and wait into a
// single call. Neither type retries; errors from the remote client are
// returned to the caller unchanged apart from wrapping.
package workflow
