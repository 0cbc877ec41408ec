// Package prompts contains the LLM prompt templates used by the
// orchestrator.
//
// Prompt text lives in Go code rather than config because it is program
// logic: the decision template is part of the wire contract with the
// model (it must yield a parseable JSON object) and tests pin its shape.
// Each template gets an exported function that accepts the dynamic
// parts and returns the fully interpolated prompt.
package prompts
