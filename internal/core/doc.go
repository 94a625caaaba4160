// Package core turns an uploaded table into a filtered CSV, split into parts
// when it is too large.
//
// This package has no transport dependencies. The web server and the CLI
// both drive it.
//
// # Flow
//
//  1. [Service.OpenSession] stores the upload in its own temp directory.
//     A zip is listed; a single eligible member is chosen for the user,
//     several require [Service.SelectMember].
//  2. The chosen table's header is read, with a few rows parsed as a
//     sanity check, and offered as columns.
//  3. [Service.Process] loads the whole table keeping only the selected
//     columns, then [Pipeline.Emit] writes it with ',' as delimiter. Output
//     over the size threshold is cut into parts of a fixed row count and
//     bundled into a zip.
//  4. Artifacts are downloaded with [Service.OpenArtifact] until the session
//     is closed or expires.
//
// Processing runs inside the caller's request and is bounded by an
// [UploadLimiter]. Progress is broadcast to [Service.SubscribeProgress]
// listeners.
//
// # Errors
//
// Technical errors are mapped to user messages with codes by [MapError].
// Runs are recorded through a [HistoryRecorder].
package core
