package prompts

import "fmt"

// classifierTemplate asks a model for a single routing label. The single
// format verb is the user's message.
const classifierTemplate = `Classify the user's message for a diary companion. Reply with exactly one word:

realtime - needs only the current time, date or live data (weather, "what day is it")
memory   - refers to past events, preferences or things said before
mixed    - anything else, or both

Message:
%s

Label:`

// ClassifierPrompt returns the prompt for the LLM query classifier.
func ClassifierPrompt(query string) string {
	return fmt.Sprintf(classifierTemplate, query)
}
