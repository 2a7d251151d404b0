package redis

import "fmt"

func stateKey(keyPrefix string, id string) string {
	return fmt.Sprintf("%vstate:%v", keyPrefix, id)
}

// statesByCreation returns the key for the ZSET that contains all run IDs sorted by creation date. The score is the
// creation time.
func statesByCreation(keyPrefix string) string {
	return keyPrefix + "states-by-creation"
}
