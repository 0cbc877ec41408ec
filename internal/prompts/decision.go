package prompts

import "fmt"

// decisionTemplate asks the model whether to call a tool. Verbs: system
// prompt, history block, query, tool descriptions. The literal braces
// of the reply example are why tool descriptions are brace-free.
const decisionTemplate = `%s
%s
User question: %q

You have access to the following tools:
%s

Decide whether one of these tools should be used to answer the question above.

Reply with exactly this JSON object:
{
    "use_tool": true or false,
    "tool_name": "name of the tool to use, or empty",
    "tool_input": "input for the tool, or empty"
}

Reply with the JSON object only, no explanation.`

// DecisionPrompt builds the tool-decision prompt. history is the
// rendered prior conversation and may be empty.
func DecisionPrompt(query, toolDescriptions, history string) string {
	tools := toolDescriptions
	if tools == "" {
		tools = "(none)"
	}
	return fmt.Sprintf(decisionTemplate, SystemPrompt(), historyBlock(history), query, tools)
}

func historyBlock(history string) string {
	if history == "" {
		return ""
	}
	return "\nConversation so far:\n" + history + "\n"
}
