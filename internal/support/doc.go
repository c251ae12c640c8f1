// Package support holds the job lifecycle model shared by the HTTP API, the
// queue backends and the background workers: support requests, jobs, the
// structured answer produced by the agent pipeline, and the contracts each
// backend implements.
package support
