// Package duckdb opens the sample database and builds the SELECT queries the
// storage layer runs against it.
//
//	q, args, err := duckdb.NewQueryBuilder("thread_samples").
//	    Select("thread_id", "COUNT(*) AS samples").
//	    Eq("session_id", id).
//	    GroupBy("thread_id").
//	    OrderBy("-samples").
//	    Build()
//
// Empty string filters are skipped, so callers can pass optional filters
// through unchanged.
package duckdb
