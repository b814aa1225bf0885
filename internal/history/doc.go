// Package history keeps a local record of meter readings and supervisor
// task events in SQLite.
//
// Store implements collector.Recorder and supervisor.EventRecorder, and
// serves the operator API's history endpoints. Rows older than the
// configured retention are removed by RunPruner.
package history
