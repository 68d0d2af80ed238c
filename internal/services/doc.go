// Package services defines shared utilities consumed by the ingestion
// pipeline stages.
//
// Key responsibilities:
//   - Context helpers that stamp content hashes, action names, scan tick ids,
//     and correlation identifiers for logging and tracing.
//   - The error taxonomy (I/O, unsupported format, execution timeout and
//     failure, naming conflict, unsafe action blocked) plus the Wrap helper
//     and KindOf classifier that turn failures into the kind recorded on a
//     file record and in the error log.
//
// Use these helpers when wiring new pipeline logic so failure handling and
// observability stay uniform across components.
package services
