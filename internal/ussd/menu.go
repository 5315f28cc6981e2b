// Package ussd implements the stateless USSD menu. The menu state is rebuilt on every request
// by folding the dialed input path through a fixed transition table.
package ussd

import (
	"inspiration-api/internal/models"
	"strings"
)

// State is a menu level
type State string

const (
	StateMain         State = "main"
	StateConfirmLove  State = "confirm_love"
	StateConfirmBible State = "confirm_bible"
	StateConfirmBoth  State = "confirm_both"
	StateManage       State = "manage"
	StateCancel       State = "cancel"
	StateDeliveryTime State = "delivery_time"
)

// Action is the side effect of a terminal transition
type Action string

const (
	ActionSubscribe    Action = "subscribe"
	ActionViewActive   Action = "view_active"
	ActionCancel       Action = "cancel"
	ActionDeliveryTime Action = "delivery_time"
	ActionHelp         Action = "help"
)

// MaxPathInputs bounds how many inputs of a path are interpreted
const MaxPathInputs = 64

// Transition is one edge of the menu. Exactly one of Next and Action is set.
type Transition struct {
	Next       State
	Action     Action
	Categories []models.Category
	Slot       string
}

// Terminal reports whether the transition ends the session
func (t Transition) Terminal() bool {
	return t.Action != ""
}

var (
	love  = []models.Category{models.CategoryLove}
	bible = []models.Category{models.CategoryBible}
	both  = []models.Category{models.CategoryLove, models.CategoryBible}
)

var table = map[State]map[string]Transition{
	StateMain: {
		"1": {Next: StateConfirmLove},
		"2": {Next: StateConfirmBible},
		"3": {Next: StateConfirmBoth},
		"4": {Next: StateManage},
		"5": {Action: ActionHelp},
	},
	StateConfirmLove: {
		"1": {Action: ActionSubscribe, Categories: love},
		"2": {Next: StateMain},
	},
	StateConfirmBible: {
		"1": {Action: ActionSubscribe, Categories: bible},
		"2": {Next: StateMain},
	},
	StateConfirmBoth: {
		"1": {Action: ActionSubscribe, Categories: both},
		"2": {Next: StateMain},
	},
	StateManage: {
		"1": {Action: ActionViewActive},
		"2": {Next: StateCancel},
		"3": {Next: StateDeliveryTime},
		"4": {Next: StateMain},
	},
	StateCancel: {
		"1": {Action: ActionCancel, Categories: love},
		"2": {Action: ActionCancel, Categories: bible},
		"3": {Action: ActionCancel, Categories: both},
		"4": {Next: StateManage},
	},
	StateDeliveryTime: {
		"1": {Action: ActionDeliveryTime, Slot: "06:00"},
		"2": {Action: ActionDeliveryTime, Slot: "09:00"},
		"3": {Action: ActionDeliveryTime, Slot: "12:00"},
		"4": {Action: ActionDeliveryTime, Slot: "18:00"},
		"5": {Next: StateManage},
	},
}

// Lookup returns the transition for input in state
func Lookup(state State, input string) (Transition, bool) {
	t, ok := table[state][input]
	return t, ok
}

// Plan is the result of folding a path
type Plan struct {
	State   State
	Depth   int // accepted non-terminal moves
	Invalid bool
	Commit  *Transition // set when the last input is a terminal transition
}

// SplitPath splits a dialed path on '*' and drops empty segments
func SplitPath(path string) []string {
	var inputs []string
	for _, part := range strings.Split(path, "*") {
		if part = strings.TrimSpace(part); part != "" {
			inputs = append(inputs, part)
		}
	}
	return inputs
}

// Resolve folds the path from the main menu. An input with no branch, a terminal input that is
// not the last one, or any input past MaxPathInputs leaves the state where it was.
func Resolve(path string) Plan {
	inputs := SplitPath(path)
	plan := Plan{State: StateMain}
	for i, input := range inputs {
		last := i == len(inputs)-1
		if i >= MaxPathInputs {
			plan.Invalid = true
			break
		}
		t, ok := Lookup(plan.State, input)
		if !ok || (t.Terminal() && !last) {
			plan.Invalid = last
			continue
		}
		if t.Terminal() {
			plan.Commit = &t
			break
		}
		plan.State = t.Next
		plan.Depth++
		plan.Invalid = false
	}
	return plan
}
