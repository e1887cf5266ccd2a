// Package adapter turns a validated intent into the ordered EVM calls that
// realise it on a given protocol. Protocol specifics live in configuration:
// an ABI adapter is described by a contract address, an ABI fragment, a method
// name and a list of argument bindings resolved against the intent.
package adapter
