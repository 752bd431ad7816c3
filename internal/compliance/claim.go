package compliance

import "sort"

type claimKey struct {
	invoice string
	typ     JobType
}

// dedupeClaims keeps the oldest job per invoice and type so a batch never runs
// two submissions of the same kind for one invoice. Input is oldest first.
func dedupeClaims(jobs []Job) []Job {
	seen := make(map[claimKey]struct{}, len(jobs))
	out := jobs[:0]
	for _, j := range jobs {
		k := claimKey{invoice: j.InvoiceID.String(), typ: j.Type}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, j)
	}
	return out
}

func sortByCreated(jobs []Job) {
	sort.SliceStable(jobs, func(i, k int) bool {
		if jobs[i].CreatedAt.Equal(jobs[k].CreatedAt) {
			return jobs[i].ID.String() < jobs[k].ID.String()
		}
		return jobs[i].CreatedAt.Before(jobs[k].CreatedAt)
	})
}
