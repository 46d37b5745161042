// Package realtime provides a duplex websocket event session over a
// conversation.
//
// Invariants:
//   - Send and Receive are valid only while connected or streaming
//   - a failed handshake leaves the session disconnected and retryable
//   - completed responses are appended to the conversation as assistant
//     messages
//   - Close is idempotent and returns conversation mutation rights to the
//     owning agent
//
// Usage:
//
//	sess, err := ag.OpenRealtime(realtime.Config{APIKey: key, Model: "gpt-4o-realtime-preview"})
//	if err != nil {
//		return err
//	}
//	defer sess.Close()
//
//	if err := sess.Connect(ctx); err != nil {
//		return err
//	}
//	if err := sess.SendUserMessage("hello"); err != nil {
//		return err
//	}
//	err = sess.Process(ctx, func(event realtime.ServerEvent) error {
//		if event.Type == realtime.EventTextDelta {
//			fmt.Print(event.Delta)
//		}
//		return nil
//	})
package realtime
