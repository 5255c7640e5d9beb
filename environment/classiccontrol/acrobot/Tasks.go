package acrobot

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"github.com/samuelfneumann/phasic/environment"
	"github.com/samuelfneumann/phasic/timestep"
)

const (
	// Goal height in the classic control problem is one link length
	// above the fixed base
	GoalHeight float64 = LinkLength1
)

// SwingUp implements the classic control Acrobot task where the agent
// must swing the tip of the second link above some set height.
//
// Rewards are -1 on each timestep and 0 for the action which swings
// the tip above the goal height.
//
// Episodes end after a step limit or when the tip reaches the goal
// height.
type SwingUp struct {
	environment.Starter
	stepEnder  *environment.StepLimit
	goalHeight float64
}

// NewSwingUp returns a new SwingUp task with start state distribution
// s, episodic step limit episodeSteps, and goal height goalHeight
func NewSwingUp(s environment.Starter, episodeSteps int,
	goalHeight float64) *SwingUp {
	return &SwingUp{s, environment.NewStepLimit(episodeSteps), goalHeight}
}

// AtGoal returns whether the tip of the second link is above the goal
// height in the argument state
func (s *SwingUp) AtGoal(state mat.Vector) bool {
	th1, th2 := state.AtVec(0), state.AtVec(1)
	return -math.Cos(th1)-math.Cos(th1+th2) > s.goalHeight
}

// GetReward returns -1 for every action, except for an action which
// leads to the goal, which results in a reward of 0
func (s *SwingUp) GetReward(_ *mat.VecDense, _ int,
	nextState *mat.VecDense) float64 {
	if s.AtGoal(nextState) {
		return 0.0
	}
	return -1.0
}

// End determines if a TimeStep is the last in the episode, either
// because the goal was reached or the step limit was hit
func (s *SwingUp) End(t *timestep.TimeStep) bool {
	if s.AtGoal(t.Observation) {
		t.StepType = timestep.Last
		t.SetEnd(timestep.TerminalStateReached)
		return true
	}
	return s.stepEnder.End(t)
}
