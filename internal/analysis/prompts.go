package analysis

import "fmt"

// The summarizer is addressed through single-string prompts, so the
// system preamble is inlined ahead of the user content. The folding
// budget's reserved envelope covers this scaffolding.

const mapSystemPrompt = "You are a research assistant. Summarize the provided search results. Extract key facts relevant to the topic."

const finalSystemPrompt = `You are a professional information summarization assistant.

CRITICAL RULES:
1. Summarize based ONLY on the provided search results
2. Be concise - use 3-5 paragraphs maximum
3. Do NOT repeat content
4. Ignore irrelevant results
5. Do NOT mention sources explicitly unless critical`

// mapPrompt builds the per-chunk prompt for the map phase. Chunk position
// is included so partial summaries stay coherent when joined.
func mapPrompt(topic string, index, total int, chunk string) string {
	return fmt.Sprintf("%s\n\nTopic: %s\n\nChunk %d/%d:\n%s\n\nSummarize the key points:",
		mapSystemPrompt, topic, index, total, chunk)
}

// finalPrompt builds the outer summarization prompt over the folded
// context.
func finalPrompt(topic, context string) string {
	return fmt.Sprintf("%s\n\nTopic: %s\n\nSearch Results (or Summarized Context):\n%s\n\nSummarize the above information about '%s'.",
		finalSystemPrompt, topic, context, topic)
}
