package mountaincar

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r1"
	"github.com/samuelfneumann/phasic/environment"
	"github.com/samuelfneumann/phasic/timestep"
)

const (
	// Commonly used goal position
	GoalPosition float64 = 0.45
)

// Goal implements the classic control task of reaching a goal on
// Mountain Car. In this task, the agent must learn to drive the car
// up the hill and reach the goal state. Since the car is underpowered,
// it must rock back and forth from hill to hill until it reaches the
// goal.
//
// Rewards are -1 on each timestep and 0 for the action which
// transitions the car to the goal.
//
// Episodes end after a step limit or when the car reaches the goal
// state.
type Goal struct {
	environment.Starter
	goalEnder *environment.IntervalLimit
	stepEnder *environment.StepLimit
	goalX     float64 // x position of goal
}

// NewGoal creates and returns a new Goal struct given a Starter, which
// determines the starting states; the maximum number of episode
// steps; and the goal x position.
func NewGoal(s environment.Starter, episodeSteps int,
	goalX float64) (*Goal, error) {
	stepEnder := environment.NewStepLimit(episodeSteps)

	interval := []r1.Interval{{Min: math.Inf(-1), Max: goalX}}
	positionIndex := []int{0}
	goalEnder, err := environment.NewIntervalLimit(interval, positionIndex,
		timestep.TerminalStateReached)
	if err != nil {
		return nil, err
	}
	return &Goal{s, goalEnder, stepEnder, goalX}, nil
}

// AtGoal returns a boolean indicating whether or not the argument state
// is the goal state
func (g *Goal) AtGoal(state mat.Vector) bool {
	return state.AtVec(0) >= g.goalX
}

// GetReward returns the reward for a given state and action, resulting
// in a given next state. Since this is a cost-to-goal Task, rewards are
// -1.0 for all actions, except for an action which leads to the goal
// state, which results in a reward of 0.0
func (g *Goal) GetReward(_ *mat.VecDense, _ int,
	nextState *mat.VecDense) float64 {
	if g.AtGoal(nextState) {
		return 0.0
	}
	return -1.0
}

// End determines if a TimeStep is the last in the episode, either
// because the goal was reached or the step limit was hit
func (g *Goal) End(t *timestep.TimeStep) bool {
	if end := g.goalEnder.End(t); end {
		return true
	}
	return g.stepEnder.End(t)
}
