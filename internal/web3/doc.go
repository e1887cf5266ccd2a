// Package web3 houses blockchain connectivity: the chain client abstraction
// used by the executor, the YAML chain catalogue, and (in subpackages) the
// go-ethereum backed client and the multi-chain provider registry.
package web3
