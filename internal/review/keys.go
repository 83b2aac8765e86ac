package review

import (
	"strings"

	"github.com/sells-group/place-resolver/internal/model"
)

// Action is one operator input in a review session.
type Action string

const (
	ActionMerge     Action = "merge"
	ActionDifferent Action = "different"
	ActionSkip      Action = "skip"
	ActionFlag      Action = "flag"
	ActionNext      Action = "next"
	ActionPrev      Action = "prev"
)

var keyActions = map[string]Action{
	"m":          ActionMerge,
	"d":          ActionDifferent,
	"s":          ActionSkip,
	"f":          ActionFlag,
	"n":          ActionNext,
	"arrowright": ActionNext,
	"right":      ActionNext,
	"p":          ActionPrev,
	"arrowleft":  ActionPrev,
	"left":       ActionPrev,
}

// KeyAction maps a key name to its action, case-insensitively.
func KeyAction(key string) (Action, bool) {
	a, ok := keyActions[strings.ToLower(strings.TrimSpace(key))]
	return a, ok
}

// Decision returns the decision an action records, if any. Navigation
// records nothing.
func (a Action) Decision() (model.Decision, bool) {
	switch a {
	case ActionMerge:
		return model.DecisionMerge, true
	case ActionDifferent:
		return model.DecisionDifferent, true
	case ActionSkip:
		return model.DecisionSkip, true
	case ActionFlag:
		return model.DecisionFlag, true
	}
	return "", false
}
