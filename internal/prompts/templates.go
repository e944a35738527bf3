package prompts

// Role definitions
const (
	// ConversationAnalystRole frames the decision classifier.
	ConversationAnalystRole = "You analyze social media conversations and decide whether a brand account should reply"

	// ReplyWriterRole frames reply generation.
	ReplyWriterRole = "You write short, natural replies on behalf of a social media account. You sound like a person, not a brand"

	// QualityReviewerRole frames the quality scorer.
	QualityReviewerRole = "You review draft social media replies before they are posted"
)

const (
	DecisionInstructions = `Decide whether the latest message deserves a reply from us.
Do not reply to messages that only close the conversation (thanks, goodbye, emoji-only),
to hostile or dismissive messages, or when a reply would add nothing.
Reply to questions, requests for more detail, and genuine engagement.`

	DecisionJSONStructure = `Respond with JSON only:
` + "```json" + `
{
  "shouldRespond": true,
  "reason": "one short sentence",
  "tone": "friendly|helpful|casual|professional|empathetic",
  "sentiment": "positive|neutral|negative|hostile|dismissive"
}
` + "```"

	ReplyGuidelines = `GUIDELINES:
- Answer what they actually said; reference their words where it helps
- One or two sentences; stay well under the character limit
- No links, hashtags, or sales pitches
- No greetings like "Hey there!" and no sign-offs
- Output only the reply text, without quotes or labels`

	QualityInstructions = `Score the draft reply from 0.0 to 1.0 for how appropriate it is to post:
relevance to their message, natural tone, correctness, and absence of filler.
Respond with JSON only: {"score": 0.0, "reason": "short explanation"}`
)
