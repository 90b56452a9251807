package callflow

import "github.com/calyxhealth/remindd/internal/prompts"

// Action is what the voice leg should do next.
type Action int

const (
	// ActionPrompt plays a prompt and gathers speech.
	ActionPrompt Action = iota
	// ActionTerminate plays the closing message and hangs up.
	ActionTerminate
)

// Decision is the retry policy's verdict for one voice-leg entry.
type Decision struct {
	Action  Action
	Message string

	// NextRetryCount is the value the redirect URL must carry so the next
	// voice-leg entry sees the incremented counter. Meaningless for
	// ActionTerminate.
	NextRetryCount int
}

// RetryPolicy decides the prompt for a given retry counter. The counter is
// round-tripped through the callback URL rather than read from the session,
// so the policy is a pure function of its input.
type RetryPolicy struct {
	// MaxRetries is the number of re-prompts allowed after the initial one.
	MaxRetries int
}

// NextPrompt returns the decision for a voice leg entered with retryCount.
//
// retryCount 0 gets the full initial reminder, counts below MaxRetries get
// the short re-ask, and MaxRetries or above terminates. The exhaustion
// branch is checked first so the decision is idempotent for any count at or
// past the cap.
func (p RetryPolicy) NextPrompt(retryCount int, tpl prompts.Templates) Decision {
	if retryCount >= p.MaxRetries {
		return Decision{Action: ActionTerminate, Message: tpl.Closing}
	}
	if retryCount == 0 {
		return Decision{Action: ActionPrompt, Message: tpl.Initial, NextRetryCount: 1}
	}
	return Decision{Action: ActionPrompt, Message: tpl.Reask, NextRetryCount: retryCount + 1}
}
