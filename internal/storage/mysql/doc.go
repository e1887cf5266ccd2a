// Package mysql holds the shared MySQL plumbing used by the mandate and
// intent stores: connection pooling and embedded schema migrations.
package mysql
