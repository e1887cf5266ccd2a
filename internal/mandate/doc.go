// Package mandate implements the mandate registry: owner-defined policies
// that bound what a trading agent may do (spend limits, token and protocol
// whitelists, risk level, slippage ceiling, expiry), plus the daily spend
// ledger that enforces the risk budget.
package mandate
