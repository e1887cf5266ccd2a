// Package redis offers the shared Redis connection used by the intent queue,
// the mandate cache and the daily spend ledger.
package redis
