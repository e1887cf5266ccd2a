// Package router drives intents through their lifecycle: it persists
// submitted intents, hands them to a queue, and runs workers that compile
// each intent against its mandate and submit the resulting calls on chain.
//
// A record moves pending -> running and then ends in one of compiled,
// submitted, confirmed, rejected or failed. Failed records that still have
// attempts left and a retryable cause are put back on the queue.
package router
