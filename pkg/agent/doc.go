// Package agent orchestrates the completion loop for one conversation:
// submit history, execute requested tools, feed results back, and repeat
// until the model answers with text or the turn limit is hit.
//
// Invariants:
//   - one Run mutates the conversation at a time
//   - an open realtime session holds exclusive mutation rights
//     (ErrConversationBusy)
//   - only transient provider failures are retried
//   - turn-limit exhaustion leaves the conversation intact and persistable
//
// Usage:
//
//	client, err := provider.NewOpenAI(provider.Config{APIKey: key})
//	if err != nil {
//		return err
//	}
//	ag, err := agent.New(agent.DefaultConfig(), agent.Options{Client: client})
//	if err != nil {
//		return err
//	}
//	answer, err := ag.Run(ctx, "What is the capital of France?")
package agent
