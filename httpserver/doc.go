/*
Package httpserver implements the collector: the HTTP ingest endpoint that
receives signed telemetry from sensor nodes, verifies it, and archives the
accepted messages.

A node treats a delivery as successful only when the response body is
exactly {"ok":true}. Any other response, including a structured error, is a
failed delivery that the node retries on its next cycle.

# Endpoints

  - POST /dephy/signed_message - Submit an encoded SignedMessage
  - GET /api/messages/{address} - List recent messages from a sender (hex or did:dephy: address)
  - GET /api/message/{hash} - Fetch one archived message by hex hash
  - GET /livez - Liveness check
  - GET /readyz - Readiness check
  - GET /drain - Gracefully mark server as not ready
  - GET /undrain - Mark server as ready

# Ingest pipeline

  1. The body is capped at 64 KiB.
  2. The message is decoded and verified: commitment, nonce binding, then
     signer recovery against from_address.
  3. Each sender is rate limited with a token bucket.
  4. Accepted messages are archived; resubmitting an archived message is
     acknowledged without storing it twice.

Verification failures are answered with 400 and the failure class, e.g.
{"ok":false,"error":"hash_mismatch"}.
*/
package httpserver
