/*
Package auth authenticates operator API callers and names the actor they act
as.

Two credentials are accepted. An operator API key is sent as
"Authorization: Bearer <key>" or in the X-API-Key header. A verified TLS
client certificate is accepted when the server requires them; its subject
common name is the actor. A key wins when both are present.

Only the blake3 digest of each key is configured:

	server:
	  auth:
	    enabled: true
	    keys:
	      - actor: alice
	        hash: 6f0c...e1

The authenticated identity is stored on the request context; handlers read
it with FromContext. Keys are compared by digest in constant time and are
never logged.
*/
package auth
