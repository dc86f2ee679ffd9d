package mediator

import "errors"

// ErrChargerNotConnected is returned by operator-initiated operations
// when no live session exists for the target charge point id (spec §7).
var ErrChargerNotConnected = errors.New("mediator: charger not connected")

// ErrDuplicateSession is returned by the registry when a second upgrade
// for an already-live charge point id arrives under reject-new policy.
var ErrDuplicateSession = errors.New("mediator: duplicate session")
