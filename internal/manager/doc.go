// Package manager runs many workflow executions concurrently. It bounds
// submissions with a worker pool, retries failed submissions with a fixed
// delay, polls registered invocations in the background and dispatches
// lifecycle callbacks when they finish.
package manager
