/*
Package secrets resolves ${secret:name} references in configuration values.

Credentials such as the git token or executor webhook headers can be kept
out of the configuration file:

	git:
	  auth:
	    type: token
	    token: ${secret:git-token}
	executor:
	  notify:
	    url: https://hooks.example.com/governor
	    headers:
	      Authorization: Bearer ${secret:notify-token}

A Resolver asks its providers in order. The environment provider maps
"git-token" to GOVERNOR_SECRET_GIT_TOKEN; the file provider reads
"<secrets.directory>/git-token", which must not be readable by group or
others. Resolution happens once at startup.
*/
package secrets
