// Package publish forwards completed records to the publishing
// collaborator. The default collaborator is a file outbox; every hand-off,
// accepted or not, leaves a receipt in the ledger.
package publish
