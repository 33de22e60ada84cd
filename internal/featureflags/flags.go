// Package featureflags reads on/off switches from FLAG_<NAME> environment
// variables. Values 1, true, yes and on (any case) enable a flag.
package featureflags

import (
	"os"
	"strings"
)

// NotifyOnTransaction makes the expense service publish an email
// notification to Kafka for every created transaction.
const NotifyOnTransaction = "notify_on_transaction"

// Known lists the flags this project reads
var Known = []string{NotifyOnTransaction}

// Lookup returns the raw value of an environment variable
type Lookup func(key string) (string, bool)

// EnvName returns the environment variable that holds flag name
func EnvName(name string) string {
	return "FLAG_" + strings.ToUpper(name)
}

// Enabled reports whether flag name is switched on in the process environment
func Enabled(name string) bool {
	return EnabledIn(os.LookupEnv, name)
}

func EnabledIn(lookup Lookup, name string) bool {
	v, ok := lookup(EnvName(name))
	if !ok {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// States returns the value of every Known flag, for startup logs
func States(lookup Lookup) map[string]bool {
	out := make(map[string]bool, len(Known))
	for _, name := range Known {
		out[name] = EnabledIn(lookup, name)
	}
	return out
}
