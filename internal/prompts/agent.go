package prompts

// Apology is the user-facing reply when an exchange fails before an
// answer could be generated.
const Apology = "Sorry, something went wrong while answering your question. Please try again."
