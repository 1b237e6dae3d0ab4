// Package foundry is a persistent control plane that drives headless
// coding-agent CLIs (claude, codex, gemini, cursor, copilot) through an
// operator-defined task plan.
//
// It holds no state in memory across restarts: every decision the
// control loop makes is derived from what's on disk in the State
// Store, so killing and restarting the process at any point resumes
// exactly where it left off.
//
// # Quick start
//
//	foundry enqueue tasks.json --goal "ship the thing" -c foundry.yaml
//	foundry run -c foundry.yaml
//	foundry dump-state -c foundry.yaml
//	foundry reset-sessions feature-auth -c foundry.yaml
//
// See cmd/foundry for the CLI entry point and pkg/control for the loop
// that drives a project from enqueued tasks to completion.
package foundry
