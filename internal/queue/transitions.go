// Package queue holds the pure rules of the walk-in queue: which transitions
// are legal, how waiting customers are ranked and when a service may start.
// Nothing here touches storage or the clock.
package queue

import (
	"techtrims/internal/domain"
	"techtrims/internal/models"
)

type Action string

const (
	ActionArrive       Action = "arrive"
	ActionSeat         Action = "seat"
	ActionStart        Action = "start"
	ActionExtend       Action = "extend"
	ActionComplete     Action = "complete"
	ActionAutoComplete Action = "auto_complete"
	ActionExpire       Action = "expire"
	ActionCancel       Action = "cancel"
)

var transitionMap = map[Action][]models.QueueStatus{
	ActionArrive:       {models.QueueRed},
	ActionSeat:         {models.QueueRed},
	ActionStart:        {models.QueueOrange},
	ActionExtend:       {models.QueueGreen},
	ActionComplete:     {models.QueueGreen},
	ActionAutoComplete: {models.QueueGreen},
	ActionExpire:       {models.QueueRed},
	ActionCancel:       {models.QueueRed, models.QueueOrange, models.QueueGreen},
}

var targets = map[Action]models.QueueStatus{
	ActionArrive:       models.QueueOrange,
	ActionSeat:         models.QueueGreen,
	ActionStart:        models.QueueGreen,
	ActionExtend:       models.QueueGreen,
	ActionComplete:     models.QueueCompleted,
	ActionAutoComplete: models.QueueCompleted,
	ActionExpire:       models.QueueExpired,
	ActionCancel:       models.QueueCancelled,
}

func ValidTransition(action Action, from models.QueueStatus) bool {
	for _, status := range transitionMap[action] {
		if status == from {
			return true
		}
	}
	return false
}

// Target is the status an action leaves the booking in.
func Target(action Action) models.QueueStatus {
	return targets[action]
}

// CheckTransition explains why action may not run from the given status.
// Terminal states always report a stale transition.
func CheckTransition(action Action, from models.QueueStatus) error {
	if from.Terminal() {
		return domain.TerminalStateError(from)
	}
	if !ValidTransition(action, from) {
		return domain.InvalidTransitionf("cannot %s a booking in %s", action, from)
	}
	return nil
}
