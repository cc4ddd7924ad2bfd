/*
Package auth provides the authentication mechanisms applied to outgoing
protocol requests: None, Basic, Bearer, and OAuth2 client credentials.

Mechanisms resolve secrets through a credentials.Provider at apply time
and only add headers; caller-supplied headers are never removed. The
OAuth2 mechanism performs the RFC 6749 §4.4 client-credentials exchange
with HTTP Basic of consumer_key:consumer_secret, caches the access token
until expiry minus a safety margin, and coalesces concurrent refreshes
into a single exchange via singleflight.
*/
package auth
