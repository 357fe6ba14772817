// Package workflow defines the per-process-type document state machines. Each
// process type owns an explicit table of legal transitions; anything not in
// the table fails and leaves the document untouched.
package workflow

import (
	"github.com/pesio-ai/be-plt-approvals/internal/apperrors"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
)

// State is one workflow state of a document.
type State string

const (
	StateCreated         State = "created"
	StateOpen            State = "open"
	StateDraft           State = "draft"
	StateCompleted       State = "completed"
	StatePendingApproval State = "pending_approval"
	StateApproved        State = "approved"
	StateRejected        State = "rejected"
	StateForwarded       State = "forwarded"
	StateInQuotation     State = "in_quotation"
	StateOrdered         State = "ordered"
	StateDelivered       State = "delivered"
	StatePaid            State = "paid"
	StateFinalized       State = "finalized"
	StateCancelled       State = "cancelled"
)

func (s State) String() string { return string(s) }

// Gate describes where a process type's approval chain sits in its graph:
// documents wait in Pending, and the processor moves them to OnApproved when
// every level clears or to OnRejected the moment any level is denied.
type Gate struct {
	Pending    State
	OnApproved State
	OnRejected State
}

type transitionTable map[State][]State

// The requisition graph keeps the forwarding stage between approval and
// quotation; cancellation is legal from every non-terminal state.
var requisitionTransitions = transitionTable{
	StateCreated:         {StatePendingApproval, StateCancelled},
	StatePendingApproval: {StateApproved, StateRejected, StateCancelled},
	StateApproved:        {StateForwarded, StateCancelled},
	StateForwarded:       {StateInQuotation, StateCancelled},
	StateInQuotation:     {StateFinalized, StateCancelled},
	StateRejected:        {},
	StateFinalized:       {},
	StateCancelled:       {},
}

var quotationTransitions = transitionTable{
	StateOpen:            {StateCompleted, StateRejected},
	StateCompleted:       {StatePendingApproval, StateRejected},
	StatePendingApproval: {StateApproved, StateRejected},
	StateApproved:        {StateOrdered},
	StateOrdered:         {},
	StateRejected:        {},
}

var purchaseOrderTransitions = transitionTable{
	StateOpen:      {StateApproved, StateRejected},
	StateApproved:  {StateDelivered},
	StateDelivered: {StateFinalized},
	StateFinalized: {},
	StateRejected:  {},
}

var payableTransitions = transitionTable{
	StateDraft:           {StatePendingApproval, StateCancelled},
	StatePendingApproval: {StateApproved, StateRejected, StateCancelled},
	StateApproved:        {StatePaid},
	StatePaid:            {},
	StateRejected:        {},
	StateCancelled:       {},
}

var materialExitTransitions = transitionTable{
	StatePendingApproval: {StateApproved, StateRejected, StateCancelled},
	StateApproved:        {StateDelivered},
	StateDelivered:       {},
	StateRejected:        {},
	StateCancelled:       {},
}

var tables = map[repository.ProcessType]transitionTable{
	repository.ProcessRequisition:   requisitionTransitions,
	repository.ProcessQuotation:     quotationTransitions,
	repository.ProcessPurchaseOrder: purchaseOrderTransitions,
	repository.ProcessPayable:       payableTransitions,
	repository.ProcessMaterialExit:  materialExitTransitions,
}

var gates = map[repository.ProcessType]Gate{
	repository.ProcessRequisition:   {Pending: StatePendingApproval, OnApproved: StateApproved, OnRejected: StateRejected},
	repository.ProcessQuotation:     {Pending: StatePendingApproval, OnApproved: StateApproved, OnRejected: StateRejected},
	repository.ProcessPurchaseOrder: {Pending: StateOpen, OnApproved: StateApproved, OnRejected: StateRejected},
	repository.ProcessPayable:       {Pending: StatePendingApproval, OnApproved: StateApproved, OnRejected: StateRejected},
	repository.ProcessMaterialExit:  {Pending: StatePendingApproval, OnApproved: StateApproved, OnRejected: StateRejected},
}

// GateFor returns the approval gate of a process type.
func GateFor(processType repository.ProcessType) (Gate, error) {
	gate, ok := gates[processType]
	if !ok {
		return Gate{}, apperrors.Newf(apperrors.ErrCodeInvalidInput, "unknown process type %q", processType)
	}
	return gate, nil
}

// CanTransition reports whether (from, to) is a legal edge for the process type.
func CanTransition(processType repository.ProcessType, from, to State) bool {
	table, ok := tables[processType]
	if !ok {
		return false
	}
	for _, next := range table[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Validate returns InvalidTransition when (from, to) is not a legal edge.
func Validate(processType repository.ProcessType, from, to State) error {
	if !CanTransition(processType, from, to) {
		return apperrors.InvalidTransition(string(processType), string(from), string(to))
	}
	return nil
}

// IsGateEdge reports whether (from, to) is an edge only the approval
// processor may drive: out of the gate's pending state into its approved or
// rejected successor.
func IsGateEdge(processType repository.ProcessType, from, to State) bool {
	gate, ok := gates[processType]
	if !ok {
		return false
	}
	return from == gate.Pending && (to == gate.OnApproved || to == gate.OnRejected)
}

// IsTerminal reports whether a state has no outgoing edges.
func IsTerminal(processType repository.ProcessType, state State) bool {
	table, ok := tables[processType]
	if !ok {
		return true
	}
	next, known := table[state]
	return !known || len(next) == 0
}

// CanReach reports whether target is reachable from state by following legal
// edges, including the trivial case state == target.
func CanReach(processType repository.ProcessType, state, target State) bool {
	table, ok := tables[processType]
	if !ok {
		return false
	}
	visited := map[State]bool{}
	queue := []State{state}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if current == target {
			return true
		}
		if visited[current] {
			continue
		}
		visited[current] = true
		queue = append(queue, table[current]...)
	}
	return false
}

// States returns every state in a process type's table.
func States(processType repository.ProcessType) []State {
	table := tables[processType]
	states := make([]State, 0, len(table))
	for state := range table {
		states = append(states, state)
	}
	return states
}
