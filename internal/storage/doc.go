// Package storage is the relational persistence layer: users,
// commissions, appeals, admin requests and notifications.
//
// Queries are written once with `?` placeholders and rebound for the
// active dialect. Timestamps are stored as unix milliseconds so cutoff
// comparisons behave the same on SQLite and Postgres.
package storage
