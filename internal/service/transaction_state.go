package service

import (
	"fmt"

	"github.com/ayo6706/payment-orchestrator/internal/domain"
)

var escrowTransitions = map[string]map[string]struct{}{
	domain.EscrowStatusPending: {
		domain.EscrowStatusHeld:      {},
		domain.EscrowStatusCancelled: {},
	},
	domain.EscrowStatusHeld: {
		domain.EscrowStatusReleased: {},
		domain.EscrowStatusRefunded: {},
		domain.EscrowStatusDisputed: {},
	},
	domain.EscrowStatusDisputed: {
		domain.EscrowStatusReleased: {},
		domain.EscrowStatusRefunded: {},
	},
	domain.EscrowStatusReleased:  {},
	domain.EscrowStatusRefunded:  {},
	domain.EscrowStatusCancelled: {},
}

var disputeTransitions = map[string]map[string]struct{}{
	domain.DisputeStatusOpen: {
		domain.DisputeStatusInvestigating: {},
		domain.DisputeStatusEscalated:     {},
		domain.DisputeStatusResolved:      {},
	},
	domain.DisputeStatusInvestigating: {
		domain.DisputeStatusEscalated: {},
		domain.DisputeStatusResolved:  {},
	},
	domain.DisputeStatusEscalated: {
		domain.DisputeStatusInvestigating: {},
		domain.DisputeStatusResolved:      {},
	},
	domain.DisputeStatusResolved: {},
}

func canTransition(table map[string]map[string]struct{}, current, next string) bool {
	nextStates, ok := table[current]
	if !ok {
		return false
	}
	_, ok = nextStates[next]
	return ok
}

func checkTransition(table map[string]map[string]struct{}, entity, current, next string) error {
	if !canTransition(table, current, next) {
		return fmt.Errorf("%s %s -> %s: %w", entity, current, next, domain.ErrInvalidState)
	}
	return nil
}
