package pairing

import "github.com/FaVaGit/CardApp-sub001/internal/models"

// MergeCouple resolves a local and an incoming record for the same
// couple ID. It is a pure function: the winner is returned and neither
// argument is mutated. Recency by UpdatedAt decides, with one
// asymmetry: deactivation is terminal, so an inactive record beats an
// active one regardless of timestamps (a dissolved pairing can never be
// revived by a stale active copy arriving late). Returning local means
// nothing changed.
func MergeCouple(local, incoming *models.Couple) *models.Couple {
	if local == nil {
		cp := *incoming
		return &cp
	}
	if incoming == nil {
		return local
	}
	if !incoming.IsActive && local.IsActive {
		cp := *incoming
		return &cp
	}
	if incoming.IsActive && !local.IsActive {
		return local
	}
	if incoming.UpdatedAt.After(local.UpdatedAt) {
		cp := *incoming
		return &cp
	}
	return local
}
