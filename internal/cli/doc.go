// Package cli provides the interactive MedVault terminal client.
//
// It opens the configured store for a single local user, builds a session
// controller over it and runs a small REPL: set up or unlock the vault, add,
// list and show medical records, change the PIN through an emailed code, and
// back the ciphertext up to S3 when a bucket is configured.
//
// The REPL is started via App.Run(ctx), which blocks until the user exits.
// A background watcher locks the vault after the configured idle time.
package cli
