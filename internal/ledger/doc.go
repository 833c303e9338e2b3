// Package ledger notarizes lab experiment data on an EVM chain and
// verifies it later against the on-chain record. The canonical hash is
// the SHA-256 of a key-sorted JSON serialization, carried in the data
// field of a signed zero-value transaction from the service account to
// itself. Subpackages neox and memory implement the Client contract.
package ledger
