// Package models defines the data model for the photo sync pipeline.
//
// The package contains two categories of types:
//
// 1. State store rows: [Asset] with its closed [Status] variant. Statuses move
// pending → failed* → completed, or stay failed once the retry budget is spent;
// the store, not the caller, enforces which transitions are legal.
//
// 2. Boundary records: [DiscoveredAsset] (one entry of the export tool's
// list-assets output) and [ExportResult] / [ExportMetadata] (the export-asset
// response). Both carry validators so malformed tool output is rejected at the
// gateway instead of leaking partway into a run.
package models
