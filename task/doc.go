// Package task
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Deferred pipelines and complete-once futures.
//
// A Task is lazy: building a chain with Map, Then, PauseFor or Compose
// runs nothing. Perform starts the chain exactly once on the Runner's
// executor; delays park on the Runner's scheduler without holding a
// worker. A failing stage resolves every later position with its error.
//
// There is no mid-flight cancellation. A pipeline that is never performed
// never runs, and failing a task's future early skips the stages the
// driver has not reached yet.
package task
