// Package webhooks forwards security events to an HTTP endpoint.
//
// A Notifier is an audit.Logger. Wired next to the database and structured
// audit sinks it receives failed logins, refresh-token reuse and session
// revocations, and the permission resolver hands it every committed grant,
// revoke, clone and expiry.
//
// # Delivery
//
// Log only enqueues. A single worker posts each event in order and retries
// transport errors, 5xx, 408 and 429 with exponential backoff (1s, 2s, 4s,
// 8s by default, capped at 30s, five attempts). Other 4xx responses fail
// immediately. When the queue is full the event is dropped and counted.
// Close drains the queue before returning.
//
// # Verifying deliveries
//
// With a secret configured every request carries
//
//	X-Turnstile-Signature: sha256=<hex HMAC-SHA256 of the body>
//
// Receivers check it with:
//
//	body, _ := io.ReadAll(r.Body)
//	if !webhooks.VerifySignature(body, r.Header.Get(webhooks.HeaderSignature), secret) {
//		http.Error(w, "bad signature", http.StatusUnauthorized)
//		return
//	}
//
// # Formats
//
// FormatJSON posts a Payload envelope around the audit event. FormatSlack
// and FormatTeams render the same fields as chat cards.
package webhooks
