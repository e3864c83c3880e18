// Package domain holds the compliance accounting core: the compliance
// balance and comparison calculators, the banking ledger rules and the pool
// allocator. Every function here is pure and safe for concurrent use; all
// persistence happens in the services layer.
package domain
