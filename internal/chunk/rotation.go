package chunk

// RolloverStrategy is a pure, synchronous, side-effect-free predicate over
// the active chunk's post-append counters. The core admits
// any predicate that is monotone non-decreasing: once true for (bytes,
// messages), it must stay true for every (bytes', messages') >= (bytes,
// messages) componentwise, so a strategy can never "un-fire" and cause
// rollover oscillation.
type RolloverStrategy interface {
	ShouldRollover(bytesIndexed, messagesIndexed int64) bool
}

// RolloverStrategyFunc adapts an ordinary function to RolloverStrategy.
type RolloverStrategyFunc func(bytesIndexed, messagesIndexed int64) bool

func (f RolloverStrategyFunc) ShouldRollover(bytesIndexed, messagesIndexed int64) bool {
	return f(bytesIndexed, messagesIndexed)
}

// CompositeStrategy combines strategies with OR semantics: rollover fires if
// any sub-strategy fires. OR-combination of monotone predicates is itself
// monotone, so composition never violates the core's no-oscillation
// requirement.
type CompositeStrategy struct {
	strategies []RolloverStrategy
}

// NewCompositeStrategy builds a strategy that rolls over if any of the given
// strategies would.
func NewCompositeStrategy(strategies ...RolloverStrategy) *CompositeStrategy {
	return &CompositeStrategy{strategies: strategies}
}

func (c *CompositeStrategy) ShouldRollover(bytesIndexed, messagesIndexed int64) bool {
	for _, s := range c.strategies {
		if s.ShouldRollover(bytesIndexed, messagesIndexed) {
			return true
		}
	}
	return false
}

// SizeOrCountStrategy is the typical rollover strategy: roll over once
// bytes or message count reach a threshold. Either threshold being zero
// disables that axis.
type SizeOrCountStrategy struct {
	maxBytes    int64
	maxMessages int64
}

// NewSizeOrCountStrategy builds the typical rollover strategy: roll over
// once bytes or message count crosses a threshold (e.g. >= 1 GiB or
// >= 5,000,000 messages).
func NewSizeOrCountStrategy(maxBytes, maxMessages int64) *SizeOrCountStrategy {
	return &SizeOrCountStrategy{maxBytes: maxBytes, maxMessages: maxMessages}
}

func (s *SizeOrCountStrategy) ShouldRollover(bytesIndexed, messagesIndexed int64) bool {
	if s.maxBytes > 0 && bytesIndexed >= s.maxBytes {
		return true
	}
	if s.maxMessages > 0 && messagesIndexed >= s.maxMessages {
		return true
	}
	return false
}

// NeverRollover never triggers rollover. Useful for tests and for deployments
// that drive rollover externally (e.g. on a fixed schedule).
type NeverRollover struct{}

func (NeverRollover) ShouldRollover(int64, int64) bool { return false }

// AlwaysRollover triggers rollover after every append. Useful for tests.
type AlwaysRollover struct{}

func (AlwaysRollover) ShouldRollover(int64, int64) bool { return true }
