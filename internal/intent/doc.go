// Package intent defines the declarative actions a trading agent submits to
// the router (swap, deposit, withdraw, transfer) together with their
// normalisation and structural validation rules.
package intent
