// Package procmon is the core of the procmon application, providing individual
// components that work independently, while communicating with each other
// concurrently over channels.
//
// Mechanism of Operation
//
// A Monitor owns one Process per program. Programs come from the
// configuration file and from the scripts directory, which is watched for
// changes: a new file is started, a removed file is stopped and a rewritten
// file is restarted.
//
// Each Process runs its program through package exec, one run at a time. When
// a run ends, for whatever reason, the program is started again after a
// backoff that grows while the program keeps failing quickly. A program with a
// timeout is killed once a run exceeds it, then restarted like any other run.
//
// Everything that happens is written as typed events into a Journaler. The
// journal is both the log and the state: reading it backwards up to the last
// "acquired lock" event tells which programs were running, and how the others
// last ended.
package procmon
