// Package security holds the transport and caller authentication of the
// operator API.
//
// Subpackages:
//   - auth: operator API keys and client certificate identities
//   - tls: server certificates with reload on change, and client CA
//     verification
package security
