// Package provider defines the completion-provider capability consumed by
// the pipeline, its error taxonomy, and the OpenAI-backed implementation.
//
// The pipeline never depends on a concrete provider: it takes the
// CompletionProvider interface so tests substitute scripted doubles and a
// misconfigured deployment degrades to the deterministic responder instead
// of failing.
package provider

import "context"

// Message is one prior conversation turn passed as generation context.
// Role is "user" or "assistant".
type Message struct {
	Role    string
	Content string
}

// CompletionProvider generates free-text replies. Implementations must
// return taxonomy errors (errors.go) so the caller's retry policy can
// distinguish transient faults from permanent ones.
type CompletionProvider interface {
	// Generate produces a supportive reply to message given the session's
	// recent history, oldest first.
	Generate(ctx context.Context, message string, history []Message) (string, error)

	// GenerateCrisisReply produces a crisis-mode reply for a message
	// classified at the given severity. Implementations must not echo the
	// message back.
	GenerateCrisisReply(ctx context.Context, message, severity string) (string, error)
}
