package repository

import "github.com/riteshkumar/merchant-credit/internal/models"

// MergeOverdraftHistory applies incoming events onto the stored history the
// way the Postgres upsert does: unseen events are appended in order, and a
// stored event only takes the incoming status and hash while it is pending.
func MergeOverdraftHistory(stored, incoming []models.OverdraftEvent) []models.OverdraftEvent {
	merged := make([]models.OverdraftEvent, len(stored), len(stored)+len(incoming))
	copy(merged, stored)

	index := make(map[string]int, len(stored))
	for i, ev := range merged {
		index[ev.TransactionID] = i
	}

	for _, ev := range incoming {
		i, seen := index[ev.TransactionID]
		if !seen {
			index[ev.TransactionID] = len(merged)
			merged = append(merged, ev)
			continue
		}
		if merged[i].Status == models.StatusPending && ev.Status != models.StatusPending {
			merged[i].Status = ev.Status
			merged[i].TransactionHash = ev.TransactionHash
		}
	}
	return merged
}

// MergePaymentHistory appends unseen payment events; stored ones never change.
func MergePaymentHistory(stored, incoming []models.PaymentEvent) []models.PaymentEvent {
	merged := make([]models.PaymentEvent, len(stored), len(stored)+len(incoming))
	copy(merged, stored)

	seen := make(map[string]struct{}, len(stored))
	for _, ev := range stored {
		seen[ev.TransactionID] = struct{}{}
	}
	for _, ev := range incoming {
		if _, ok := seen[ev.TransactionID]; ok {
			continue
		}
		seen[ev.TransactionID] = struct{}{}
		merged = append(merged, ev)
	}
	return merged
}
