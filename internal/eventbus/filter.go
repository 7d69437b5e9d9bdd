package eventbus

import "iter"

// Filter narrows an untyped payload sequence to payloads of type T that
// satisfy keep. Payloads of other types are skipped.
func Filter[T any](seq iter.Seq[any], keep func(T) bool) iter.Seq[T] {
	return func(yield func(T) bool) {
		for payload := range seq {
			v, ok := payload.(T)
			if !ok || !keep(v) {
				continue
			}
			if !yield(v) {
				return
			}
		}
	}
}
