package db

import _ "embed"

// Schema creates the games table, its unpublished index and the NOTIFY trigger.
// It is idempotent.
//
//go:embed schema.sql
var Schema string
