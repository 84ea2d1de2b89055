package repo

import _ "embed"

// Schema creates every table the orchestrator reads or writes. It is idempotent.
//
//go:embed schema.sql
var Schema string
