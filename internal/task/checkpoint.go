package task

import "github.com/google/uuid"

// checkpointName returns a random filename for a stop-with-save checkpoint.
func checkpointName() string {
	return uuid.NewString() + ".txt"
}
