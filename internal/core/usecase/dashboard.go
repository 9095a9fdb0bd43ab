package usecase

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atvirokodosprendimai/rentdesk/internal/core/domain"
)

const (
	recentPerCollection = 3
	recentTotal         = 6
)

type Activity struct {
	ID     string    `json:"id"`
	Kind   string    `json:"kind"`
	Name   string    `json:"name"`
	Amount string    `json:"amount"`
	At     time.Time `json:"at"`
}

type Summary struct {
	TotalRents           int             `json:"totalRents"`
	TotalLightBills      int             `json:"totalLightBills"`
	TotalDeposits        int             `json:"totalDeposits"`
	TotalExpenses        int             `json:"totalExpenses"`
	TotalDocuments       int             `json:"totalDocuments"`
	TotalRentAmount      decimal.Decimal `json:"totalRentAmount"`
	TotalDepositAmount   decimal.Decimal `json:"totalDepositAmount"`
	TotalExpenseAmount   decimal.Decimal `json:"totalExpenseAmount"`
	TotalLightBillAmount decimal.Decimal `json:"totalLightBillAmount"`
	ActiveTenants        int             `json:"activeTenants"`
	RecentActivities     []Activity      `json:"recentActivities"`
}

// Summarize computes dashboard figures from the owner's lists, keyed by
// collection. Lists are expected newest first.
func Summarize(lists map[string][]domain.Record) Summary {
	rents := lists[domain.CollectionRents]
	bills := lists[domain.CollectionLightBills]
	deposits := lists[domain.CollectionDeposits]
	expenses := lists[domain.CollectionExpenses]

	tenants := make(map[string]struct{})
	for _, r := range rents {
		tenants[r.Data.String("name")] = struct{}{}
	}

	activities := make([]Activity, 0, 3*recentPerCollection)
	activities = appendRecent(activities, "rent", rents, "rentAmount")
	activities = appendRecent(activities, "bill", bills, "amount")
	activities = appendRecent(activities, "deposit", deposits, "depositAmount")
	sort.SliceStable(activities, func(i, j int) bool { return activities[i].At.After(activities[j].At) })
	if len(activities) > recentTotal {
		activities = activities[:recentTotal]
	}

	return Summary{
		TotalRents:           len(rents),
		TotalLightBills:      len(bills),
		TotalDeposits:        len(deposits),
		TotalExpenses:        len(expenses),
		TotalDocuments:       len(lists[domain.CollectionDocuments]),
		TotalRentAmount:      domain.SumField(rents, "rentAmount"),
		TotalDepositAmount:   domain.SumField(deposits, "depositAmount"),
		TotalExpenseAmount:   domain.SumField(expenses, "amount"),
		TotalLightBillAmount: domain.SumField(bills, "amount"),
		ActiveTenants:        len(tenants),
		RecentActivities:     activities,
	}
}

func appendRecent(out []Activity, kind string, recs []domain.Record, amountField string) []Activity {
	for i, r := range recs {
		if i == recentPerCollection {
			break
		}
		out = append(out, Activity{
			ID:     kind + "-" + r.ID,
			Kind:   kind,
			Name:   r.Data.String("name"),
			Amount: r.Data.String(amountField),
			At:     r.CreatedAt,
		})
	}
	return out
}

// LiveDashboard keeps a Summary current by listening to all five collections
// of one owner.
type LiveDashboard struct {
	subs []*Subscription
}

// OpenLiveDashboard subscribes to every collection and calls onChange with a
// fresh summary whenever any of them changes. onChange is never called
// concurrently with itself.
func OpenLiveDashboard(ctx context.Context, hub *SubscriptionHub, ownerID string, onChange func(Summary)) (*LiveDashboard, error) {
	var mu sync.Mutex
	lists := make(map[string][]domain.Record, len(domain.Collections))
	ready := false

	d := &LiveDashboard{}
	for _, collection := range domain.Collections {
		collection := collection
		sub, err := hub.ListenToUserCollection(ctx, collection, ownerID, func(recs []domain.Record) {
			mu.Lock()
			defer mu.Unlock()
			lists[collection] = recs
			if ready || len(lists) == len(domain.Collections) {
				ready = true
				onChange(Summarize(lists))
			}
		})
		if err != nil {
			d.Close()
			return nil, err
		}
		d.subs = append(d.subs, sub)
	}
	return d, nil
}

// Close ends all five subscriptions.
func (d *LiveDashboard) Close() {
	for _, sub := range d.subs {
		sub.Close()
	}
}
