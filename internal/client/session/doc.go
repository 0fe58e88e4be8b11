// Package session owns the signed-in user of the client.
//
// The Manager folds identity provider events, backend sync results and
// explicit sign-outs into a single event loop, so every transition between
// phases happens on one goroutine in delivery order:
//
//	Initializing -> SignedOut
//	Initializing | SignedOut | SignedIn* -> SignedInSyncing
//	SignedInSyncing -> SignedInSynced | SignedInDegraded
//	SignedIn* -> SignedOut
//
// Login, Register and SignInWithGoogle only talk to the provider; the
// provider's auth-state subscription drives the transition. Observers
// register with Subscribe and receive every State change.
package session
