// Package ui renders live sync progress using bubbletea's Elm architecture.
//
// The [Model] wraps a [progress.Model] bar and consumes the engine's
// [tasks.ProgressUpdate] channel through a blocking listen command, so the
// engine never waits on the terminal. The view quits when the engine closes
// the channel; q/ctrl+c request cancellation through the run's context and
// the display keeps updating until the asset in flight reaches a terminal
// state.
package ui
