// Package fallback is the deterministic, rule-based reply generator. It is
// the last line of the reply chain and has no external dependencies, so it
// is unconditionally available: when the completion provider is down,
// misconfigured, or producing invalid output, these templates answer.
package fallback

import (
	"strings"

	"companion-core/internal/crisis"
)

// crisisTemplates maps severity to the canned crisis reply. Every template
// names the 988 lifeline; the immediate tier adds emergency services.
var crisisTemplates = map[crisis.Severity]string{
	crisis.SeverityImmediate: "I'm really concerned about what you just shared, and I want you to " +
		"know you don't have to face this alone. Please reach out right now to the " +
		"988 Suicide & Crisis Lifeline — call or text 988, it's free and available " +
		"24/7. If you are in immediate danger, please call 911. Your life matters, " +
		"and people are ready to help you this minute.",
	crisis.SeverityHigh: "What you're feeling sounds incredibly heavy, and I'm glad you told " +
		"me. You deserve support from someone who can really be there with you: " +
		"the 988 Suicide & Crisis Lifeline (call or text 988) is free, " +
		"confidential, and open 24/7. Would you consider reaching out to them, or " +
		"to someone you trust, today?",
	crisis.SeveritySelfHarm: "I'm sorry you're hurting enough to think about harming yourself. " +
		"You deserve care, not pain. The Crisis Text Line (text HOME to 741741) " +
		"and the 988 Lifeline (call or text 988) both have trained counselors " +
		"available right now. In this moment, could you try holding ice, or " +
		"stepping outside for a breath, while you reach out?",
	crisis.SeverityModerate: "It sounds like things have been weighing on you. Talking to " +
		"someone can genuinely help — the 988 Lifeline (call or text 988) is " +
		"there even when things aren't an emergency. I'm here to listen too. " +
		"What's been hardest lately?",
}

// category is one keyword-matched supportive template.
type category struct {
	name     string
	keywords []string
	reply    string
}

// categories are tried in order; the first keyword match wins.
var categories = []category{
	{
		name:     "stress",
		keywords: []string{"stress", "exam", "deadline", "pressure", "work", "overwhelm"},
		reply: "It sounds like you're carrying a lot of pressure right now, and that's " +
			"genuinely hard. One small thing that can help in the moment: pause and " +
			"take a few slow breaths, then pick just one small task to focus on. " +
			"You don't have to handle everything at once. What feels most urgent to you?",
	},
	{
		name:     "anxiety",
		keywords: []string{"anxious", "anxiety", "panic", "worried", "nervous", "afraid", "scared"},
		reply: "Anxiety can feel overwhelming, and what you're experiencing is valid. " +
			"Try grounding yourself: name five things you can see, four you can touch, " +
			"three you can hear. It can help settle the moment. Would you like to tell " +
			"me more about what's worrying you?",
	},
	{
		name:     "sadness",
		keywords: []string{"sad", "down", "crying", "cry", "unhappy", "miserable", "grief"},
		reply: "I'm sorry you're feeling this way. Sadness is a natural response, and " +
			"you don't have to push it away or face it alone. Sometimes naming what " +
			"hurts is the first step. I'm here and listening — what's been on your mind?",
	},
	{
		name:     "loneliness",
		keywords: []string{"lonely", "alone", "isolated", "no one", "nobody", "friendless"},
		reply: "Feeling alone is painful, and I'm glad you reached out. Even small " +
			"connections count — a message to an old friend, a walk somewhere with " +
			"other people around. You took a step by talking here, and that matters. " +
			"What does a good day with people look like for you?",
	},
}

// genericReply answers messages that match no category.
const genericReply = "Thank you for sharing that with me. I'm here to listen and support " +
	"you, without judgment. Sometimes putting feelings into words is itself a " +
	"step forward. Could you tell me a little more about how you're feeling?"

// Responder generates deterministic template replies.
type Responder struct{}

// New returns the template responder.
func New() *Responder { return &Responder{} }

// CrisisReply returns the canned reply for a crisis severity. Unknown or
// non-crisis severities get the moderate template: answering too gently
// beats not answering.
func (r *Responder) CrisisReply(severity crisis.Severity) string {
	if reply, ok := crisisTemplates[severity]; ok {
		return reply
	}
	return crisisTemplates[crisis.SeverityModerate]
}

// SupportiveReply returns a context-matched template chosen by keyword
// match against the user's message. Always non-empty.
func (r *Responder) SupportiveReply(message string) string {
	lowered := strings.ToLower(message)
	for _, c := range categories {
		for _, kw := range c.keywords {
			if strings.Contains(lowered, kw) {
				return c.reply
			}
		}
	}
	return genericReply
}

// Category reports which template category a message maps to, for analytics.
// Returns "generic" when no category matches.
func (r *Responder) Category(message string) string {
	lowered := strings.ToLower(message)
	for _, c := range categories {
		for _, kw := range c.keywords {
			if strings.Contains(lowered, kw) {
				return c.name
			}
		}
	}
	return "generic"
}
