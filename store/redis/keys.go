package redis

// Key prefixes for primary entity storage.
const (
	prefixEvent = "notifyd:evt:"
	prefixConn  = "notifyd:conn:"
	prefixPrefs = "notifyd:prefs:"
	prefixDLQ   = "notifyd:dlq:"
)

// Sorted-set and set indexes.
const (
	zEventAll = "notifyd:z:evt:all"
	zDLQAll   = "notifyd:z:dlq:all"
	zDLQChan  = "notifyd:z:dlq:ch:" // + channel
	sConnUser = "notifyd:s:conn:"   // + user ID, members are device types
)

// entityKey returns the primary key for an entity.
func entityKey(prefix, id string) string {
	return prefix + id
}

// connKey returns the key for one user's connection on one device.
func connKey(userID, deviceType string) string {
	return prefixConn + userID + ":" + deviceType
}
