package colon

import (
	"fmt"
	"sort"

	"github.com/kshedden/survstat/dataset"
)

// CauseVar is the covariate holding the cause code in a first-event
// table: 0 censored, 1 recurrence, 2 death.
const CauseVar = "cause"

func covariates(r Record) map[string]dataset.Value {
	return map[string]dataset.Value{
		"rx":       dataset.Cat(r.Rx.String()),
		"sex":      dataset.Cat(r.Sex.String()),
		"age":      dataset.Num(r.Age),
		"obstruct": dataset.Cat(r.Obstruct.String()),
		"perfor":   dataset.Cat(r.Perfor.String()),
		"adhere":   dataset.Cat(r.Adhere.String()),
		"nodes":    dataset.Num(r.Nodes),
		"differ":   dataset.Cat(r.Differ.String()),
		"extent":   dataset.Cat(r.Extent.String()),
		"surg":     dataset.Cat(r.Surg.String()),
		"node4":    dataset.Cat(r.Node4.String()),
	}
}

func levelOptions() []dataset.Option {
	return []dataset.Option{
		dataset.Levels("rx", treatmentLevels...),
		dataset.Levels("sex", sexLevels...),
		dataset.Levels("differ", differLevels...),
		dataset.Levels("extent", extentLevels...),
		dataset.Levels("surg", surgLevels...),
		dataset.Levels("obstruct", flagLevels...),
		dataset.Levels("perfor", flagLevels...),
		dataset.Levels("adhere", flagLevels...),
		dataset.Levels("node4", flagLevels...),
	}
}

// Table returns the event table for one event type, with the follow-up
// time in days.
func Table(recs []Record, etype EventType) (*dataset.Table, error) {

	var sub []dataset.Subject
	for _, r := range recs {
		if r.EType != etype {
			continue
		}
		sub = append(sub, dataset.Subject{
			ID:         r.ID,
			Time:       r.Time,
			Event:      r.Status,
			Covariates: covariates(r),
		})
	}

	if len(sub) == 0 {
		return nil, fmt.Errorf("colon: no %s records", etype)
	}

	return dataset.New(sub, levelOptions()...)
}

// FirstEventTable returns one subject per patient, followed to the first
// of recurrence and death.  The covariate CauseVar codes which event
// ended follow-up.  A recurrence takes precedence when both records
// report an event at the same time.
func FirstEventTable(recs []Record) (*dataset.Table, error) {

	type pair struct {
		rec, death *Record
	}
	byID := make(map[int]*pair)
	var ids []int
	for i := range recs {
		r := &recs[i]
		p, ok := byID[r.ID]
		if !ok {
			p = &pair{}
			byID[r.ID] = p
			ids = append(ids, r.ID)
		}
		switch r.EType {
		case Recurrence:
			p.rec = r
		case Death:
			p.death = r
		}
	}
	sort.Ints(ids)

	var sub []dataset.Subject
	for _, id := range ids {
		p := byID[id]

		var base *Record
		var time, cause float64
		switch {
		case p.rec != nil && p.rec.Status:
			base, time, cause = p.rec, p.rec.Time, 1
		case p.death != nil && p.death.Status:
			base, time, cause = p.death, p.death.Time, 2
		default:
			for _, r := range []*Record{p.rec, p.death} {
				if r != nil && (base == nil || r.Time > time) {
					base, time = r, r.Time
				}
			}
		}

		cov := covariates(*base)
		cov[CauseVar] = dataset.Num(cause)
		sub = append(sub, dataset.Subject{
			ID:         id,
			Time:       time,
			Event:      cause > 0,
			Covariates: cov,
		})
	}

	if len(sub) == 0 {
		return nil, fmt.Errorf("colon: no records")
	}

	return dataset.New(sub, levelOptions()...)
}
