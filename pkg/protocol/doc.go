/*
Package protocol provides the rate-limited, authenticated transport
managers used by bundle loaders: a streaming HTTP client and a gated
SFTP session.

HTTPManager enforces a minimum interval of 1/rps between the starts of
successive requests, retries transport-level failures with exponential
base-2 backoff, composes headers as defaults, then caller headers, then
the authentication mechanism, and caps redirect chains. Responses expose
a one-shot body stream that must be consumed or closed.

SFTPManager lazily dials one ssh+sftp session with password credentials
from the provider, serializes every operation (the SFTP session is
single-threaded), and evaluates its gates in order before each request.
Host-key verification is strict unless explicitly disabled.

Gates delay execution until a schedule predicate holds:
ScheduledDailyGate waits for a wall-clock time of day, optionally
skipping when a success was already recorded today; OncePerIntervalGate
spaces executions at least an interval apart with uniform jitter.
*/
package protocol
