// Package scheduler triggers named daily jobs at a wall-clock time in a
// configured timezone, with a misfire grace window.
//
// Each run is recorded as a marker (the occurrence it served) before the
// job starts, so an occurrence runs at most once even across restarts. On
// Start a catch-up pass runs an occurrence that was missed while the
// process was down, provided it is still inside the grace window.
package scheduler
