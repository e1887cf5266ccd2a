// Package executor signs compiled plans as EIP-1559 transactions, broadcasts
// them in order and tracks their receipts. Without a signer key it runs in
// dry-run mode and only reports the unsigned calls.
package executor
