// Package dataform defines the request/response contract with the remote
// Dataform API and provides a REST implementation of it. Everything that
// happens behind this contract (compilation, scheduling of actions,
// dependency resolution) is owned by the remote service.
package dataform
