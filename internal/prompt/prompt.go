// Package prompt builds the fixed prompt templates sent to the language
// model and parses its constrained outputs. Everything here is pure: no
// I/O, no state, just string construction.
package prompt

import (
	"fmt"
	"strings"
)

// Sentiment is the classified mood of a user utterance.
type Sentiment int

const (
	SentimentNeutral Sentiment = iota
	SentimentHappy
	SentimentSad
	SentimentJoking
	SentimentAngry
)

func (s Sentiment) String() string {
	switch s {
	case SentimentHappy:
		return "HAPPY"
	case SentimentSad:
		return "SAD"
	case SentimentJoking:
		return "JOKING"
	case SentimentAngry:
		return "ANGRY"
	default:
		return "NEUTRAL"
	}
}

// ParseSentiment maps model output to a Sentiment. Unknown or unparseable
// output defaults to NEUTRAL.
func ParseSentiment(out string) Sentiment {
	switch strings.ToUpper(strings.TrimSpace(out)) {
	case "HAPPY":
		return SentimentHappy
	case "SAD":
		return SentimentSad
	case "JOKING":
		return SentimentJoking
	case "ANGRY":
		return SentimentAngry
	default:
		return SentimentNeutral
	}
}

// Persona returns the response-tone descriptor for a sentiment. This table
// is the only consumer of sentiment classifications.
func Persona(s Sentiment) string {
	switch s {
	case SentimentHappy:
		return "cheerful and enthusiastic"
	case SentimentSad:
		return "kind and empathetic"
	case SentimentJoking:
		return "playful and witty"
	case SentimentAngry:
		return "calm and reassuring"
	default:
		return "helpful and direct"
	}
}

// Turn is one prior exchange line for interpolation into a prompt.
type Turn struct {
	Role string // "USER" or "ASSISTANT"
	Text string
}

const sentimentTemplate = `Classify the sentiment of the user's message.
Respond with exactly one word from this list and nothing else:
HAPPY, SAD, JOKING, ANGRY, NEUTRAL

User message: "%s"
Sentiment:`

// ForSentiment builds the sentiment-classification prompt. The model is
// constrained to emit exactly one of the five labels.
func ForSentiment(userText string) string {
	return fmt.Sprintf(sentimentTemplate, userText)
}

const factExtractionTemplate = `Extract at most one durable fact about the user from their message.
A durable fact is a short declarative sentence about the user that will
still be true later: their name, preferences, job, relationships, home.
Do NOT extract opinions, moods, questions, or ephemeral remarks.
If there is no durable fact, respond with exactly: NONE

Examples:
Message: "My favorite color is blue."
Fact: The user's favorite color is blue.
Message: "I work as a nurse at the county hospital."
Fact: The user works as a nurse at the county hospital.
Message: "I think it might rain today."
Fact: NONE
Message: "Haha that's hilarious."
Fact: NONE

Message: "%s"
Fact:`

// ForFactExtraction builds the conservative fact-extraction prompt. The
// few-shot examples bias the model toward short factual statements and the
// NONE sentinel for everything else.
func ForFactExtraction(userText string) string {
	return fmt.Sprintf(factExtractionTemplate, userText)
}

// ForResponse builds the main reply prompt: persona descriptor, memory
// context, prior conversation, then the live user message.
func ForResponse(persona string, memoryFacts []string, history []Turn, userText string) string {
	var b strings.Builder
	b.WriteString("You are Ritsu, a personal AI assistant. Your tone right now is ")
	b.WriteString(persona)
	b.WriteString(".\n")
	if len(memoryFacts) > 0 {
		b.WriteString("Things you remember about the user:\n")
		for _, f := range memoryFacts {
			b.WriteString("- ")
			b.WriteString(f)
			b.WriteString("\n")
		}
	}
	b.WriteString("\nConversation so far:\n")
	writeTurns(&b, history)
	b.WriteString("[USER] ")
	b.WriteString(userText)
	b.WriteString("\n[ASSISTANT] ")
	return b.String()
}

// ForCallScreening builds the reply prompt for an in-progress screened
// call. It is scoped to the call transcript only; the persona is fixed.
func ForCallScreening(transcript []Turn, callerText string) string {
	var b strings.Builder
	b.WriteString("You are Ritsu, a personal AI assistant screening a phone call for your user.\n")
	b.WriteString("The user is busy. Be polite and helpful. Take a message or determine if the call is urgent.\n")
	b.WriteString("Keep replies short; this is a live phone conversation.\n\n")
	b.WriteString("Conversation so far:\n")
	writeTurns(&b, transcript)
	b.WriteString("[CALLER] ")
	b.WriteString(callerText)
	b.WriteString("\n[ASSISTANT] ")
	return b.String()
}

const callIntentTemplate = `You are screening a phone call. Classify the caller's latest message.
Respond with exactly one word from this list and nothing else:
CONTINUE   - the conversation should go on
URGENT     - the caller states a genuine emergency
TAKE_MESSAGE - the caller wants to leave a message
END_CALL   - the caller asks to hang up, says goodbye, or the call should end

Caller message: "%s"
Intent:`

// ForCallIntent builds the caller-intent classification prompt.
func ForCallIntent(callerText string) string {
	return fmt.Sprintf(callIntentTemplate, callerText)
}

// Intent is the enumerated caller intent produced by a single
// classification step.
type Intent int

const (
	IntentContinue Intent = iota
	IntentUrgent
	IntentTakeMessage
	IntentEndCall
)

func (i Intent) String() string {
	switch i {
	case IntentUrgent:
		return "URGENT"
	case IntentTakeMessage:
		return "TAKE_MESSAGE"
	case IntentEndCall:
		return "END_CALL"
	default:
		return "CONTINUE"
	}
}

// ParseIntent maps model output to an Intent, defaulting to CONTINUE.
func ParseIntent(out string) Intent {
	switch strings.ToUpper(strings.TrimSpace(out)) {
	case "URGENT":
		return IntentUrgent
	case "TAKE_MESSAGE":
		return IntentTakeMessage
	case "END_CALL":
		return IntentEndCall
	default:
		return IntentContinue
	}
}

// hangupKeywords is the explicit fallback policy used only when the model
// is unavailable: substring matching against known hang-up phrases.
var hangupKeywords = []string{
	"cuelga",
	"hang up",
	"goodbye",
	"adiós",
	"adios",
}

// FallbackIntent classifies caller text by keyword matching. It exists
// solely as the degraded path when the model cannot be reached.
func FallbackIntent(callerText string) Intent {
	lower := strings.ToLower(callerText)
	for _, kw := range hangupKeywords {
		if strings.Contains(lower, kw) {
			return IntentEndCall
		}
	}
	return IntentContinue
}

func writeTurns(b *strings.Builder, turns []Turn) {
	for _, t := range turns {
		b.WriteString("[")
		b.WriteString(strings.ToUpper(t.Role))
		b.WriteString("] ")
		b.WriteString(t.Text)
		b.WriteString("\n")
	}
}
