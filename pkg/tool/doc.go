// Package tool registers and executes the functions a model can call.
//
// Invariants:
// - Tool names are unique within a registry; last registration wins.
// - Strict tools validate arguments against their schema before running.
// - A tool failure becomes result text, never a failed turn.
//
// Usage:
//
//	reg := tool.NewRegistry()
//	reg.Register(tool.MustFunc("reverse_string", "Reverse a string",
//		tool.ObjectSchema(map[string]any{"input": map[string]any{"type": "string"}}, "input"),
//		true,
//		func(ctx context.Context, args struct {
//			Input string `json:"input"`
//		}) (string, error) {
//			runes := []rune(args.Input)
//			for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
//				runes[i], runes[j] = runes[j], runes[i]
//			}
//			return string(runes), nil
//		}))
package tool
