// Package mysql provides repositories and data access helpers backed by MySQL.
// It encapsulates schema migrations, transactional helpers, and strongly typed
// queries for persisting research reports and auth subjects.
package mysql
