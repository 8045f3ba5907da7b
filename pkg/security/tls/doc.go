// Package tls serves the operator API over HTTPS.
//
// The server certificate is held by a Reloader, which watches the
// certificate and key files with fsnotify and swaps in the new pair when
// they change, so renewed certificates take effect without a restart. A
// pair that fails to load or has expired is logged and the previous pair
// keeps serving.
//
// When a client CA is configured, clients must present a certificate it
// signed; package auth turns the certificate's common name into the actor.
package tls
