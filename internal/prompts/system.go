package prompts

// systemTemplate opens every prompt.
const systemTemplate = `You are a smart study assistant. Answer the user's question accurately, completely and helpfully. If you do not know the answer, say so honestly and do not make things up.`

// SystemPrompt returns the shared preamble.
func SystemPrompt() string {
	return systemTemplate
}
