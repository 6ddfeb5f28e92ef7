package graph

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// mergedIntoCypher upserts both lead nodes and one MERGED_INTO edge. Re-running it
// for the same pair only refreshes the edge properties.
const mergedIntoCypher = `
	MERGE (dup:Lead {id: $duplicate_id, tenant_id: $tenant_id})
	MERGE (survivor:Lead {id: $survivor_id, tenant_id: $tenant_id})
	SET dup.merged = true, dup.merged_at = $merged_at
	MERGE (dup)-[r:MERGED_INTO]->(survivor)
	SET r.match_type = $match_type, r.match_key = $match_key, r.run_id = $run_id
`

// repointCypher moves edges of earlier merges onto the new survivor so lineage
// always ends in a live lead.
const repointCypher = `
	MATCH (older:Lead {tenant_id: $tenant_id})-[old:MERGED_INTO]->(dup:Lead {id: $duplicate_id, tenant_id: $tenant_id})
	MATCH (survivor:Lead {id: $survivor_id, tenant_id: $tenant_id})
	MERGE (older)-[r:MERGED_INTO]->(survivor)
	SET r.match_type = old.match_type, r.match_key = old.match_key, r.run_id = old.run_id
	DELETE old
`

// Writer is the graph surface the projector needs
type Writer interface {
	Write(ctx context.Context, cypher string, params ...map[string]any) error
}

// LineageProjector records merges as (:Lead)-[:MERGED_INTO]->(:Lead) edges
type LineageProjector struct {
	writer Writer
	logger ectologger.Logger
}

func NewLineageProjector(writer Writer, logger ectologger.Logger) *LineageProjector {
	return &LineageProjector{
		writer: writer,
		logger: logger,
	}
}

func (p *LineageProjector) Name() string {
	return "lineage"
}

func lineageParams(outcome *models.MergeOutcome) []map[string]any {
	params := make([]map[string]any, 0, len(outcome.DuplicateIDs))
	for _, dupID := range outcome.DuplicateIDs {
		params = append(params, map[string]any{
			"tenant_id":    outcome.TenantID,
			"duplicate_id": dupID,
			"survivor_id":  outcome.SurvivorID,
			"match_type":   string(outcome.MatchType),
			"match_key":    outcome.MatchKey,
			"run_id":       outcome.RunID,
			"merged_at":    outcome.MergedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		})
	}
	return params
}

// AfterMerge writes the lineage edges of one committed group
func (p *LineageProjector) AfterMerge(ctx context.Context, outcome *models.MergeOutcome) error {
	ctx, span := tracing.StartSpan(ctx, "graph.LineageProjector.AfterMerge")
	defer span.End()

	if len(outcome.DuplicateIDs) == 0 {
		return nil
	}

	params := lineageParams(outcome)
	if err := p.writer.Write(ctx, mergedIntoCypher, params...); err != nil {
		p.logger.WithContext(ctx).WithError(err).Error("Failed to project merge lineage")
		return err
	}
	if err := p.writer.Write(ctx, repointCypher, params...); err != nil {
		p.logger.WithContext(ctx).WithError(err).Error("Failed to re-point merge lineage")
		return err
	}

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"survivor_id": outcome.SurvivorID,
		"edges":       len(params),
	}).Debug("Projected merge lineage")
	return nil
}
