package actor

import "github.com/btcsuite/btclog/v2"

// log is this package's subsystem logger. It defaults to disabled until
// the owning daemon wires in a real handler via UseLogger, matching every
// other subsystem in this codebase.
var log btclog.Logger = btclog.Disabled

// UseLogger sets the subsystem logger used by the actor package.
func UseLogger(logger btclog.Logger) {
	log = logger
}
