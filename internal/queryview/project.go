package queryview

import (
	"cmp"
	"slices"
	"strings"

	"github.com/roach88/replica/internal/model"
	"github.com/roach88/replica/internal/objectstore"
)

// Row is one projected record.
type Row struct {
	Identity      model.Identity
	Version       int64
	Pending       model.PendingState
	Quarantined   bool
	DisplayStatus string
	Payload       model.Payload
}

// ViewModel is the projected page.
type ViewModel struct {
	Kind  model.Kind
	Rows  []Row
	Total int // rows matching the filters, before paging

	// NextCursor is the cursor of the following page, or -1 on the last page.
	NextCursor int

	// StatusCounts counts matching rows by DisplayStatus.
	StatusCounts map[string]int
}

// Project computes the view of snap selected by params.
func Project(snap *objectstore.Snapshot, params Params) ViewModel {
	threshold := params.threshold()
	keep := all(
		SearchPredicate(params.Search),
		StatusPredicate(params.Status, threshold),
		CategoryPredicate(params.CategoryID),
	)

	var matched []Row
	counts := make(map[string]int)
	for _, rec := range snap.List(params.Kind) {
		if !keep(rec) {
			continue
		}
		row := Row{
			Identity:      rec.Identity,
			Version:       rec.Version,
			Pending:       rec.Pending,
			Quarantined:   rec.Quarantined,
			DisplayStatus: DisplayStatus(rec.Payload, threshold),
			Payload:       rec.Payload,
		}
		counts[row.DisplayStatus]++
		matched = append(matched, row)
	}

	if params.SortBy != "" {
		sortRows(matched, params.SortBy, params.Desc)
	}

	vm := ViewModel{
		Kind:         params.Kind,
		Total:        len(matched),
		NextCursor:   -1,
		StatusCounts: counts,
	}
	start := min(max(params.Cursor, 0), len(matched))
	end := len(matched)
	if params.Limit > 0 && start+params.Limit < end {
		end = start + params.Limit
		vm.NextCursor = end
	}
	vm.Rows = append([]Row{}, matched[start:end]...)
	return vm
}

func sortRows(rows []Row, by string, desc bool) {
	key := func(r Row) (string, int64) {
		switch p := r.Payload.(type) {
		case model.Product:
			stock, _ := p.Stock()
			switch by {
			case "name":
				return strings.ToLower(p.Name), 0
			case "price":
				return "", p.PriceCents
			case "stock":
				return "", stock
			}
		case model.SellerOrder:
			switch by {
			case "name":
				return strings.ToLower(p.OrderNumber), 0
			case "price":
				return "", p.TotalCents
			}
		}
		return "", 0
	}
	slices.SortStableFunc(rows, func(a, b Row) int {
		as, an := key(a)
		bs, bn := key(b)
		c := cmp.Or(strings.Compare(as, bs), cmp.Compare(an, bn))
		if desc {
			return -c
		}
		return c
	})
}

// Equal reports whether two view models render identically.
func (v ViewModel) Equal(o ViewModel) bool {
	if v.Kind != o.Kind || v.Total != o.Total || v.NextCursor != o.NextCursor ||
		len(v.Rows) != len(o.Rows) || len(v.StatusCounts) != len(o.StatusCounts) {
		return false
	}
	for k, n := range v.StatusCounts {
		if o.StatusCounts[k] != n {
			return false
		}
	}
	for i := range v.Rows {
		a, b := v.Rows[i], o.Rows[i]
		if a.Identity != b.Identity || a.Version != b.Version || a.Pending != b.Pending ||
			a.Quarantined != b.Quarantined || a.DisplayStatus != b.DisplayStatus {
			return false
		}
		if !model.Equal(a.Payload, b.Payload) {
			return false
		}
	}
	return true
}

// Memo caches the most recent projection.
type Memo struct {
	snap   *objectstore.Snapshot
	params Params
	view   ViewModel
	valid  bool
}

// Project returns the cached view when snap and params are unchanged.
func (m *Memo) Project(snap *objectstore.Snapshot, params Params) ViewModel {
	if m.valid && m.snap == snap && m.params == params {
		return m.view
	}
	m.snap, m.params = snap, params
	m.view = Project(snap, params)
	m.valid = true
	return m.view
}
