package limiter

import "fmt"

// Well-known limiter keys and limits.
const (
	// StemSplitKey is the global key for split-stems jobs: a fixed-size
	// worker pool independent of the song's owner.
	StemSplitKey   = "stems"
	StemSplitLimit = 2

	// OwnerLimit serializes generation-class jobs per user, preventing
	// double-spend races on the credit balance.
	OwnerLimit = 1
)

// OwnerKey derives the limiter key for a user's generation-class jobs.
func OwnerKey(userID string) string {
	return fmt.Sprintf("user:%s", userID)
}

func WaitingKey(key string) string {
	return fmt.Sprintf("limiter:%s:waiting", key)
}

func HoldersKey(key string) string {
	return fmt.Sprintf("limiter:%s:holders", key)
}
