package clusters

import (
	"context"
	"testing"
	"time"

	"github.com/arcwright/recall/internal/types"
)

func rec(id, domain string, importance float64, tags []string, content string) *types.MemoryRecord {
	now := time.Now()
	return &types.MemoryRecord{
		ID:              id,
		ProjectID:       "proj-a",
		Scope:           types.ScopeProject,
		Status:          types.StatusActive,
		Content:         content,
		Importance:      importance,
		KnowledgeDomain: domain,
		Tags:            tags,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func TestGenerateGroupsByKnowledgeDomain(t *testing.T) {
	records := []*types.MemoryRecord{
		rec("m1", "cooking", 0.9, []string{"recipe"}, "sourdough needs a longer bulk ferment"),
		rec("m2", "cooking", 0.4, []string{"recipe"}, "pizza dough hydration at 65%"),
		rec("m3", "devops", 0.8, []string{"infra"}, "rotate the staging credentials monthly"),
	}

	briefing := Generate(context.Background(), records, 0, 0, 0)
	if briefing.IsEmpty() {
		t.Fatalf("expected a non-empty briefing")
	}
	if len(briefing.Items) != 2 {
		t.Fatalf("expected 2 clusters, got %d", len(briefing.Items))
	}

	cooking := briefing.Items[0]
	if cooking.Topic != "cooking" || cooking.MemberCount != 2 {
		t.Fatalf("expected cooking cluster with 2 members first, got %+v", cooking)
	}
	if cooking.TopMemories[0] != "m1" {
		t.Fatalf("expected higher importance member first, got %v", cooking.TopMemories)
	}
}

func TestGenerateFallsBackToGeneralDomain(t *testing.T) {
	records := []*types.MemoryRecord{rec("m1", "", 0.5, nil, "untagged note")}
	briefing := Generate(context.Background(), records, 0, 0, 0)
	if len(briefing.Items) != 1 || briefing.Items[0].Topic != "general" {
		t.Fatalf("expected fallback to general domain, got %+v", briefing.Items)
	}
}

func TestGenerateFlagsDivergenceOverThreshold(t *testing.T) {
	var records []*types.MemoryRecord
	for i := 0; i < 5; i++ {
		records = append(records, rec("m"+string(rune('a'+i)), "busy", 0.5, nil, "note"))
	}

	briefing := Generate(context.Background(), records, 0, 0, 3)
	if len(briefing.Divergences) != 1 {
		t.Fatalf("expected 1 divergence signal, got %v", briefing.Divergences)
	}
}

func TestGenerateRespectsMaxClustersAndTopN(t *testing.T) {
	records := []*types.MemoryRecord{
		rec("m1", "a", 0.9, nil, "one"),
		rec("m2", "a", 0.8, nil, "two"),
		rec("m3", "b", 0.7, nil, "three"),
	}

	briefing := Generate(context.Background(), records, 1, 1, 0)
	if len(briefing.Items) != 1 {
		t.Fatalf("expected maxClusters to cap to 1 cluster, got %d", len(briefing.Items))
	}
	if len(briefing.Items[0].TopMemories) != 1 {
		t.Fatalf("expected topNMemories to cap to 1 member, got %v", briefing.Items[0].TopMemories)
	}
}
