// Package prompts contains the prompt text sent to the chat model.
//
// Prompt text is Go code rather than config files because it is program
// logic: templates are interpolated with fmt.Sprintf and covered by
// tests. A persona file configured in config.yaml replaces only the
// system prompt; the context blocks and the classifier prompt always
// come from here.
//
// Convention: each prompt category gets its own file with an exported
// function that accepts the dynamic parts and returns the finished
// string.
package prompts
