// Package clusters derives knowledge clusters and a morning briefing
// view over active records, grounded on src/cluster_briefing.py. The
// Python original reads pre-computed clusters from an
// embedding-similarity clustering pass (clustering.py, not retrieved
// with this pack); this port derives clusters directly from each
// record's knowledge_domain, the grouping label already present on
// every record (spec §3), rather than fabricating a k-means
// dependency. Per spec §3, clusters are a pure derived view: no new
// invariants beyond "the underlying records exist and are active".
package clusters

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/arcwright/recall/internal/types"
)

// Item is one cluster's contribution to a Briefing, matching
// BriefingItem.
type Item struct {
	Topic       string
	Keywords    []string
	MemberCount int
	TopMemories []string // record ids, highest importance first
	Summary     string   // content preview built from TopMemories
}

// Briefing is the complete morning briefing, matching MorningBriefing.
type Briefing struct {
	Items       []Item
	Divergences []string
}

// IsEmpty reports whether the briefing has no clusters to show.
func (b Briefing) IsEmpty() bool { return len(b.Items) == 0 }

const defaultSplitThreshold = 15

// Generate groups records by knowledge_domain (falling back to "general"
// for an empty label), previews the top-importance members of each
// group, and flags any cluster whose member count exceeds
// splitThreshold (0 uses the default of 15) as a divergence signal —
// the same "may need splitting" heuristic as
// detect_cluster_divergence. Clusters are sorted by member count
// descending and capped at maxClusters (0 means no cap).
func Generate(_ context.Context, records []*types.MemoryRecord, maxClusters, topNMemories, splitThreshold int) Briefing {
	if splitThreshold <= 0 {
		splitThreshold = defaultSplitThreshold
	}

	groups := make(map[string][]*types.MemoryRecord)
	for _, r := range records {
		topic := r.KnowledgeDomain
		if topic == "" {
			topic = "general"
		}
		groups[topic] = append(groups[topic], r)
	}

	topics := make([]string, 0, len(groups))
	for topic := range groups {
		topics = append(topics, topic)
	}
	sort.Slice(topics, func(i, j int) bool { return len(groups[topics[i]]) > len(groups[topics[j]]) })
	if maxClusters > 0 && len(topics) > maxClusters {
		topics = topics[:maxClusters]
	}

	var items []Item
	var divergences []string
	for _, topic := range topics {
		members := groups[topic]
		sort.SliceStable(members, func(i, j int) bool { return members[i].Importance > members[j].Importance })

		n := topNMemories
		if n <= 0 || n > len(members) {
			n = len(members)
		}
		top := members[:n]

		ids := make([]string, len(top))
		for i, r := range top {
			ids[i] = r.ID
		}

		items = append(items, Item{
			Topic:       topic,
			Keywords:    topKeywords(members),
			MemberCount: len(members),
			TopMemories: ids,
			Summary:     buildSummary(top),
		})

		if len(members) > splitThreshold {
			divergences = append(divergences, "Your thinking about '"+topic+"' may have split — "+
				strconv.Itoa(len(members))+" memories, consider re-clustering.")
		}
	}

	return Briefing{Items: items, Divergences: divergences}
}

// topKeywords returns the (up to 5) most common tags across members,
// a cheap stand-in for the Python original's stored keyword list.
func topKeywords(members []*types.MemoryRecord) []string {
	counts := make(map[string]int)
	var order []string
	for _, r := range members {
		for _, tag := range r.Tags {
			if _, ok := counts[tag]; !ok {
				order = append(order, tag)
			}
			counts[tag]++
		}
	}
	sort.SliceStable(order, func(i, j int) bool { return counts[order[i]] > counts[order[j]] })
	if len(order) > 5 {
		order = order[:5]
	}
	return order
}

// buildSummary concatenates a short preview of each member's content,
// matching _build_cluster_summary's "first line of each memory" shape.
func buildSummary(top []*types.MemoryRecord) string {
	var previews []string
	for _, r := range top {
		line := r.Content
		if idx := strings.IndexByte(line, '\n'); idx >= 0 {
			line = line[:idx]
		}
		if len(line) > 80 {
			line = line[:80] + "…"
		}
		previews = append(previews, line)
	}
	return strings.Join(previews, " / ")
}
