// Package simpleagent is the reference implementation of the agent capability
// contract. Settings and run state live as YAML files inside a per-agent
// workspace directory; planning and ability selection are delegated to an
// llm.Client that is asked for JSON replies; abilities operate on a sandboxed
// files directory inside the workspace.
package simpleagent
