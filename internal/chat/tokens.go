package chat

import "taskdeck/internal/store"

// historyTokenBudget caps how much prior conversation is replayed to
// the model each turn.
const historyTokenBudget = 2000

// historyFetchLimit bounds the rows read before the token budget is
// applied, so an old conversation does not load its whole tail.
const historyFetchLimit = 200

// estimateTokens approximates the token cost of a message as one token
// per four characters. Close enough for a history budget; exact
// tokenization would need the upstream model's vocabulary.
func estimateTokens(content string) int {
	n := len(content) / 4
	if n < 1 {
		n = 1
	}
	return n
}

// trimToBudget takes messages newest first, keeps them while the
// running token estimate stays within budget, and returns the kept
// messages in chronological order.
func trimToBudget(newestFirst []store.Message, budget int) []store.Message {
	used := 0
	kept := 0
	for _, m := range newestFirst {
		cost := estimateTokens(m.Content)
		if used+cost > budget {
			break
		}
		used += cost
		kept++
	}

	out := make([]store.Message, kept)
	for i := 0; i < kept; i++ {
		out[i] = newestFirst[kept-1-i]
	}
	return out
}
