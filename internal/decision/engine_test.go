package decision

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/autopost/internal/completion"
	"github.com/autopost/internal/engagement"
)

type fakeClassifier struct {
	out   string
	err   error
	calls int
}

func (f *fakeClassifier) Classify(context.Context, string) (string, error) {
	f.calls++
	return f.out, f.err
}

func (f *fakeClassifier) Generate(context.Context, completion.Request) (string, error) {
	return "", nil
}

func conv() *engagement.Conversation {
	c := engagement.NewConversation("t")
	c.Messages = []engagement.Message{{ID: "1", Text: "great post"}}
	return c
}

func msg(text string) engagement.Message { return engagement.Message{ID: "2", Text: text} }

func TestIsCloser(t *testing.T) {
	closers := []string{"", "thanks!", "Thank you so much 🙏", "ok", "👍", "🙏🙏", "cheers mate", "got it, thanks", "bye", "Thx!!"}
	for _, s := range closers {
		assert.True(t, IsCloser(s), "%q should be a closer", s)
	}
	others := []string{"thanks, but how do I install it", "ok?", "what about pricing", "thanks for the info, does it support go?", "nice, where can I read more"}
	for _, s := range others {
		assert.False(t, IsCloser(s), "%q should not be a closer", s)
	}
}

func TestShouldRespondSkipsClosersWithoutClassifier(t *testing.T) {
	f := &fakeClassifier{}
	d := New(f, DefaultOptions()).ShouldRespond(context.Background(), conv(), msg("thanks!"))
	assert.False(t, d.Respond)
	assert.Equal(t, 0, f.calls)
}

func TestShouldRespondStopsAtCap(t *testing.T) {
	c := conv()
	c.CurrentAutoResponseCount = c.MaxAutoResponses
	f := &fakeClassifier{}
	d := New(f, DefaultOptions()).ShouldRespond(context.Background(), c, msg("how does it work?"))
	assert.False(t, d.Respond)
	assert.Contains(t, d.Reason, "cap")
	assert.Equal(t, 0, f.calls)
}

func TestShouldRespondUsesClassifier(t *testing.T) {
	f := &fakeClassifier{out: "```json\n{\"shouldRespond\": true, \"reason\": \"question\", \"tone\": \"Helpful\", \"sentiment\": \"positive\"}\n```"}
	d := New(f, DefaultOptions()).ShouldRespond(context.Background(), conv(), msg("how does it work?"))
	assert.Equal(t, Decision{Respond: true, Reason: "question", Tone: "helpful"}, d)
}

func TestShouldRespondDeclines(t *testing.T) {
	cases := map[string]string{
		`{"shouldRespond": false, "reason": "nothing to add", "sentiment": "neutral"}`: "nothing to add",
		`{"shouldRespond": true, "reason": "x", "sentiment": "hostile"}`:              "sentiment hostile",
		`{"shouldRespond": true, "reason": "x", "sentiment": "Dismissive"}`:           "sentiment dismissive",
	}
	for out, reason := range cases {
		d := New(&fakeClassifier{out: out}, DefaultOptions()).ShouldRespond(context.Background(), conv(), msg("meh, whatever you say"))
		assert.False(t, d.Respond, out)
		assert.Equal(t, reason, d.Reason, out)
	}
}

func TestShouldRespondFailsOpen(t *testing.T) {
	for _, f := range []*fakeClassifier{
		{err: errors.New("503")},
		{out: "I would reply to this one."},
		{out: `{"reason": "no verdict"}`},
	} {
		d := New(f, DefaultOptions()).ShouldRespond(context.Background(), conv(), msg("how does it work?"))
		assert.True(t, d.Respond)
		assert.True(t, d.Fallback)
		assert.Equal(t, DefaultTone, d.Tone)
	}
}

func TestShouldRespondFailClosedWhenConfigured(t *testing.T) {
	d := New(&fakeClassifier{err: errors.New("503")}, Options{FailOpen: false}).
		ShouldRespond(context.Background(), conv(), msg("how does it work?"))
	assert.False(t, d.Respond)
	assert.True(t, d.Fallback)
}
