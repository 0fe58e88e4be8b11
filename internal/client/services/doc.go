// Package services contains the backend-facing collaborators of the session
// manager: identity sync with the application backend and push token
// registration.
package services
