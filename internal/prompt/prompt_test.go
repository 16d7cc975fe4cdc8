package prompt

import (
	"strings"
	"testing"
)

func TestParseSentiment_DefaultsToNeutral(t *testing.T) {
	cases := []struct {
		in   string
		want Sentiment
	}{
		{"HAPPY", SentimentHappy},
		{" sad \n", SentimentSad},
		{"joking", SentimentJoking},
		{"ANGRY", SentimentAngry},
		{"NEUTRAL", SentimentNeutral},
		{"", SentimentNeutral},
		{"I would say the user is quite happy today", SentimentNeutral},
		{"ECSTATIC", SentimentNeutral},
	}
	for _, tc := range cases {
		if got := ParseSentiment(tc.in); got != tc.want {
			t.Fatalf("ParseSentiment(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestPersona_Table(t *testing.T) {
	cases := map[Sentiment]string{
		SentimentHappy:   "cheerful and enthusiastic",
		SentimentSad:     "kind and empathetic",
		SentimentJoking:  "playful and witty",
		SentimentAngry:   "calm and reassuring",
		SentimentNeutral: "helpful and direct",
	}
	for s, want := range cases {
		if got := Persona(s); got != want {
			t.Fatalf("Persona(%v) = %q, want %q", s, got, want)
		}
	}
}

func TestForResponse_InterpolatesPersonaMemoryAndHistory(t *testing.T) {
	p := ForResponse("kind and empathetic",
		[]string{"The user's favorite color is blue."},
		[]Turn{{Role: "user", Text: "hello"}, {Role: "assistant", Text: "hi there"}},
		"how are you?")

	for _, want := range []string{
		"kind and empathetic",
		"The user's favorite color is blue.",
		"[USER] hello",
		"[ASSISTANT] hi there",
		"[USER] how are you?",
	} {
		if !strings.Contains(p, want) {
			t.Fatalf("response prompt missing %q:\n%s", want, p)
		}
	}
	if !strings.HasSuffix(p, "[ASSISTANT] ") {
		t.Fatalf("response prompt must end with the assistant cue:\n%s", p)
	}
}

func TestForResponse_OmitsMemorySectionWhenEmpty(t *testing.T) {
	p := ForResponse("helpful and direct", nil, nil, "hi")
	if strings.Contains(p, "Things you remember") {
		t.Fatalf("did not expect memory section in:\n%s", p)
	}
}

func TestForFactExtraction_CarriesSentinelContract(t *testing.T) {
	p := ForFactExtraction("My favorite color is blue.")
	if !strings.Contains(p, "NONE") {
		t.Fatalf("extraction prompt must define the NONE sentinel:\n%s", p)
	}
	if !strings.Contains(p, `"My favorite color is blue."`) {
		t.Fatalf("extraction prompt must embed the user message:\n%s", p)
	}
}

func TestParseIntent_AndFallback(t *testing.T) {
	if got := ParseIntent(" end_call "); got != IntentEndCall {
		t.Fatalf("ParseIntent end_call = %v", got)
	}
	if got := ParseIntent("garbage"); got != IntentContinue {
		t.Fatalf("ParseIntent default = %v", got)
	}
	if got := FallbackIntent("Cuelga la llamada"); got != IntentEndCall {
		t.Fatalf("expected Spanish hang-up phrase to classify as END_CALL, got %v", got)
	}
	if got := FallbackIntent("I'd like to leave a message for him"); got != IntentContinue {
		t.Fatalf("expected non hang-up text to continue, got %v", got)
	}
}

func TestForCallScreening_ScopedToTranscript(t *testing.T) {
	p := ForCallScreening([]Turn{{Role: "caller", Text: "Is Ana there?"}}, "It's about the delivery")
	if !strings.Contains(p, "[CALLER] Is Ana there?") {
		t.Fatalf("screening prompt missing transcript line:\n%s", p)
	}
	if !strings.Contains(p, "screening a phone call") {
		t.Fatalf("screening prompt missing persona:\n%s", p)
	}
}
