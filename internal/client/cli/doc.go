// Package cli provides the interactive projflow command-line client.
//
// It wires configuration, the local session store, the identity provider,
// the backend client and the session manager, then runs a REPL over them.
// A background watcher probes the backend and triggers a resync when it
// comes back online, so a degraded session heals without user action.
//
// Commands:
//   - register / login / google / reset
//   - whoami / resync / get <path>
//   - logout / delete-account
//   - help / exit
//
// The REPL is started via App.Run(ctx), which blocks until the user exits.
package cli
