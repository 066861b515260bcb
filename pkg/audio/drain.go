package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use this after closing a [Stream] so its producer goroutine can finish.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
