// Package reconcile 把一次来源读取与快照、上一轮结果合并为稳定身份的清单。
package reconcile

import (
	"sort"

	"golang.org/x/text/cases"

	"startup-inspector/internal/domain/model"
	"startup-inspector/internal/platform/fault"
)

// Outcome 是一次合并的结果。
type Outcome struct {
	// Records 按显示名排序、身份唯一的记录。
	Records []model.LaunchRecord
	// Snapshot 是应写回的快照（快照与本次读取的并集）。
	Snapshot []model.SnapshotEntry
	// PersistSnapshot 为 false 时调用方不得写快照。
	PersistSnapshot bool
	Diagnostics     []model.Diagnostic
}

// Reconcile 合并一个类别的读取结果。
//
// prior 是存储中该类别的上一轮记录；snapshot/snapshotErr 是持久化快照的加载结果，
// 仅对维护快照的类别有意义。合并总会产生结果，即使所有来源都失败。
func Reconcile(prior []model.LaunchRecord, snapshot []model.SnapshotEntry, snapshotErr error, fresh model.SourceResult) Outcome {
	c := fresh.Category
	var out Outcome
	persist := true

	if c.UsesSnapshot() && snapshotErr != nil {
		if fault.Is(snapshotErr, fault.MalformedRecord) {
			// 快照损坏按空快照处理，之后重写。
			out.Diagnostics = append(out.Diagnostics, model.Diagnostic{
				Category: c,
				Kind:     model.DiagMalformedRecord,
				Message:  "snapshot malformed, treated as empty: " + snapshotErr.Error(),
			})
			snapshot = nil
		} else {
			// 暂时读不到快照：以上一轮记录代替，且不得覆盖已存储的快照。
			out.Diagnostics = append(out.Diagnostics, model.Diagnostic{
				Category: c,
				Kind:     model.DiagSnapshot,
				Message:  "snapshot unavailable, keeping stored copy: " + snapshotErr.Error(),
			})
			snapshot = snapshotFromRecords(prior)
			persist = false
		}
	}

	if fresh.Status == model.SourceAccessDenied {
		if c.UsesSnapshot() {
			recs := make([]model.LaunchRecord, 0, len(snapshot))
			for _, e := range dedupeSnapshot(snapshot) {
				recs = append(recs, e.Record(c))
			}
			out.Records = sortRecords(recs)
		} else {
			out.Records = cloneAll(prior)
		}
		return out
	}

	merged := make(map[string]model.LaunchRecord)
	var order []string
	for _, r := range fresh.Records {
		if r.IdentityKey == "" {
			continue
		}
		if existing, ok := merged[r.IdentityKey]; ok {
			merged[r.IdentityKey] = fillGaps(existing, r)
			continue
		}
		merged[r.IdentityKey] = r.Clone()
		order = append(order, r.IdentityKey)
	}

	if c.UsesSnapshot() {
		for _, e := range dedupeSnapshot(snapshot) {
			r, ok := merged[e.IdentityKey]
			if !ok {
				// 本次没读到但快照里有：保留，消失不等于被删除。
				merged[e.IdentityKey] = e.Record(c)
				order = append(order, e.IdentityKey)
				continue
			}
			if !c.EnabledAuthoritative() {
				r.Enabled = e.Enabled
				if e.Publisher != "" {
					r.Publisher = e.Publisher
				}
			}
			if r.Path == "" {
				r.Path = e.Path
			}
			merged[e.IdentityKey] = r
		}
	}

	recs := make([]model.LaunchRecord, 0, len(order))
	for _, k := range order {
		recs = append(recs, merged[k])
	}
	out.Records = sortRecords(recs)

	if c.UsesSnapshot() && persist {
		out.Snapshot = snapshotFromRecords(out.Records)
		out.PersistSnapshot = true
	}
	return out
}

func snapshotFromRecords(recs []model.LaunchRecord) []model.SnapshotEntry {
	out := make([]model.SnapshotEntry, 0, len(recs))
	for _, r := range recs {
		out = append(out, model.SnapshotEntryFromRecord(r))
	}
	return out
}

// fillGaps 同一次读取中的重复身份：先出现者为准，后出现者只补空字段。
func fillGaps(first, dup model.LaunchRecord) model.LaunchRecord {
	if first.Path == "" {
		first.Path = dup.Path
	}
	if first.Publisher == "" {
		first.Publisher = dup.Publisher
	}
	return first
}

func dedupeSnapshot(in []model.SnapshotEntry) []model.SnapshotEntry {
	seen := make(map[string]struct{}, len(in))
	out := make([]model.SnapshotEntry, 0, len(in))
	for _, e := range in {
		if e.IdentityKey == "" {
			continue
		}
		if _, dup := seen[e.IdentityKey]; dup {
			continue
		}
		seen[e.IdentityKey] = struct{}{}
		out = append(out, e)
	}
	return out
}

// SortRecords 按 Unicode 大小写折叠后的显示名升序排列，相同时按身份键。
func SortRecords(recs []model.LaunchRecord) []model.LaunchRecord {
	return sortRecords(recs)
}

func sortRecords(recs []model.LaunchRecord) []model.LaunchRecord {
	// Caser 有内部状态，不能跨 goroutine 共享。
	folder := cases.Fold()
	type keyed struct {
		fold string
		rec  model.LaunchRecord
	}
	tmp := make([]keyed, len(recs))
	for i, r := range recs {
		tmp[i] = keyed{fold: folder.String(r.DisplayName), rec: r}
	}
	sort.SliceStable(tmp, func(i, j int) bool {
		if tmp[i].fold != tmp[j].fold {
			return tmp[i].fold < tmp[j].fold
		}
		return tmp[i].rec.IdentityKey < tmp[j].rec.IdentityKey
	})
	for i := range tmp {
		recs[i] = tmp[i].rec
	}
	return recs
}

func cloneAll(in []model.LaunchRecord) []model.LaunchRecord {
	out := make([]model.LaunchRecord, 0, len(in))
	for _, r := range in {
		out = append(out, r.Clone())
	}
	return out
}
