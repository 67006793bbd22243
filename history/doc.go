// Package history records login attempts and answers the two questions the
// security core asks of them: what happened recently for an account, and how
// many failures it has accumulated.
//
// [MemoryLog] keeps a bounded ring per account. [PostgresLog] appends to a
// login_history table through pgx.
package history
