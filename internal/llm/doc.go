// Package llm defines the reasoning engine contract consumed by the agent
// runtime: given system instructions, conversation history, and the set of
// tools the current agent may use, the engine returns either a final answer
// or a single tool call request. Concrete providers live in subpackages.
package llm
