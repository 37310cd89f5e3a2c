package scout

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/sells-group/scout-cli/internal/checkpoint"
	"github.com/sells-group/scout-cli/internal/config"
	"github.com/sells-group/scout-cli/internal/model"
)

// tally counts the items each wave phase produced, for failure reasons and
// the escalation prompt.
type tally struct {
	results  int
	pages    int
	frags    int
	verified int
}

func (s *Scout) processLocality(ctx context.Context, lr *model.LocalityResolution) error {
	log := zap.L().With(zap.String("region", lr.Region), zap.String("locality", lr.Locality))
	log.Info("scout: locality start")
	lr.Status = model.StatusInProgress

	maxWaves := s.cfg.Scan.MaxWaves
	for wave := 1; wave <= maxWaves; wave++ {
		if !s.running.Load() || ctx.Err() != nil {
			break
		}
		unresolved := s.unresolvedCategories(lr)
		if len(unresolved) == 0 {
			break
		}
		log.Info("scout: wave start", zap.Int("wave", wave), zap.Int("unresolved", len(unresolved)))
		for _, cat := range unresolved {
			if !s.running.Load() || ctx.Err() != nil {
				break
			}
			if err := s.processCategoryWave(ctx, lr, cat, lr.Categories[cat.Key], wave); err != nil {
				return err
			}
		}
		if lr.IsResolved() {
			break
		}
	}

	for _, cr := range lr.Categories {
		if !cr.Status.Terminal() {
			cr.Status = model.StatusFailed
			cr.FailureReason = fmt.Sprintf("exhausted %d waves", maxWaves)
		}
	}
	if lr.IsResolved() {
		lr.Status = model.StatusResolved
	} else {
		lr.Status = model.StatusPartial
	}
	log.Info("scout: locality done",
		zap.String("status", string(lr.Status)),
		zap.Int("resolved", lr.ResolvedCount()),
		zap.Int("categories", len(lr.Categories)))
	return nil
}

// unresolvedCategories returns the criteria categories not yet terminal,
// in configured order.
func (s *Scout) unresolvedCategories(lr *model.LocalityResolution) []config.Category {
	var out []config.Category
	for _, cat := range s.criteria.Categories {
		if cr, ok := lr.Categories[cat.Key]; ok && !cr.Status.Terminal() {
			out = append(out, cat)
		}
	}
	return out
}

// processCategoryWave runs one category-wave transaction: queries, search,
// triage, fetch/extract, assembly, verification, resolution. Evidence
// insufficiency and collaborator failures never return an error; only
// store-level failures do.
func (s *Scout) processCategoryWave(ctx context.Context, lr *model.LocalityResolution, cat config.Category, cr *model.CategoryResolution, wave int) error {
	log := zap.L().With(
		zap.String("locality", lr.Locality),
		zap.String("category", cat.Key),
		zap.Int("wave", wave))
	cr.Status = model.StatusInProgress
	cr.WavesAttempted = wave
	tierName := string(model.TierForWave(wave))
	cellTag := fmt.Sprintf("%s/%s/wave%d", lr.Locality, cat.Key, wave)
	var t tally

	// Phase 1: queries.
	queries := s.generateQueries(ctx, lr, cat, wave, cr)
	if len(queries) == 0 {
		log.Warn("scout: no queries generated")
		return s.escalate(ctx, lr, cat, cr, wave, queries, t)
	}
	log.Info("scout: queries ready", zap.Int("count", len(queries)))

	// Checkpoint: validate queries.
	resp := s.sink.Await(ctx, "queries_ready", checkpointQueries(lr, cat, wave, queries))
	switch resp.Decision {
	case checkpoint.DecisionSkip:
		cr.Status = model.StatusFailed
		cr.FailureReason = "skipped by user"
		return nil
	case checkpoint.DecisionModify:
		queries = queries[:0]
		for _, q := range resp.Queries {
			queries = append(queries, model.QueryDescriptor{Query: q, Angle: "custom", Tier: model.TierForWave(wave)})
		}
		log.Info("scout: queries replaced by user", zap.Int("count", len(queries)))
		if len(queries) == 0 {
			return s.escalate(ctx, lr, cat, cr, wave, queries, t)
		}
	}

	// Phase 2-3: search, dedup, cost report.
	unique, batches := s.runSearches(ctx, queries, lr, cat, cr, wave)
	t.results = len(unique)
	if len(unique) == 0 {
		s.saveSearchCSV(lr, cat, batches)
		s.cost.ReportResult(tierName, 0, float64(len(queries)), 0, cellTag)
		return s.escalate(ctx, lr, cat, cr, wave, queries, t)
	}
	ytFound := countYouTube(unique)
	s.cost.ReportResult(tierName, ytFound, float64(len(queries)), 0, cellTag)
	log.Info("scout: search done", zap.Int("unique", len(unique)), zap.Int("youtube", ytFound))

	// Checkpoint: review search results.
	resp = s.sink.Await(ctx, "search_done", checkpointResults(lr, cat, wave, unique, ytFound))
	if resp.Decision == checkpoint.DecisionSkip {
		s.saveSearchCSV(lr, cat, batches)
		cr.Status = model.StatusFailed
		cr.FailureReason = "skipped after search"
		return nil
	}

	// Phase 5: triage.
	toFetch := s.triage(ctx, unique, lr, cat, batches)
	s.saveSearchCSV(lr, cat, batches)
	if len(toFetch) == 0 {
		return s.escalate(ctx, lr, cat, cr, wave, queries, t)
	}
	log.Info("scout: triage done", zap.Int("pages", len(toFetch)))

	// Phase 6: fetch and extract.
	frags, cross := s.fetchExtract(ctx, toFetch, lr, cat, wave)
	t.pages = len(toFetch)
	t.frags = len(frags)
	lr.CrossLocality = append(lr.CrossLocality, cross...)
	if len(frags) == 0 {
		return s.escalate(ctx, lr, cat, cr, wave, queries, t)
	}
	log.Info("scout: extraction done", zap.Int("fragments", len(frags)), zap.Int("cross_locality", len(cross)))

	// Phase 7: assembly.
	candidates := s.assemble(ctx, frags, lr, cat)
	if len(candidates) == 0 {
		return s.escalate(ctx, lr, cat, cr, wave, queries, t)
	}
	log.Info("scout: assembly done", zap.Int("candidates", len(candidates)))

	// Phase 8: every candidate goes into the graph, verified or not.
	if err := s.registerCandidates(ctx, candidates); err != nil {
		return err
	}

	// Checkpoint: review candidates.
	resp = s.sink.Await(ctx, "candidates_found", checkpointCandidates(lr, cat, wave, candidates))
	if resp.Decision == checkpoint.DecisionSkip {
		cr.Status = model.StatusFailed
		cr.FailureReason = "skipped before verification"
		return nil
	}

	// Phase 10: follow-ups for incomplete candidates, unless this is the
	// last wave.
	if wave < s.cfg.Scan.MaxWaves {
		s.followups(ctx, candidates)
	}

	// Phase 11: platform verification and scoring.
	verified, err := s.verifyCandidates(ctx, candidates, lr, cat)
	if err != nil {
		return err
	}
	t.verified = len(verified)

	// Phase 12: resolve, fail, or escalate into the next wave.
	if len(verified) > 0 {
		best := 0
		for i := range verified {
			if verified[i].TotalScore > verified[best].TotalScore {
				best = i
			}
		}
		cr.Status = model.StatusResolved
		cr.Best = &verified[best]
		cr.Candidates = verified
		s.cost.ReportResult(tierName, len(verified), 0, float64(len(verified))*20, cellTag)
		if _, err := s.exporter.SaveResultsCSV(lr.Region, lr.Locality, cat.Key, verified); err != nil {
			zap.L().Warn("scout: results csv", zap.Error(err))
		}
		log.Info("scout: category resolved",
			zap.String("channel", verified[best].ChannelName),
			zap.Float64("score", verified[best].TotalScore))
		s.emit(Event{
			Type:     "category_resolved",
			Region:   lr.Region,
			Locality: lr.Locality,
			Category: cat.Key,
			Payload:  cr.Best,
		})
		return nil
	}

	log.Info("scout: wave not resolved")
	if wave >= s.cfg.Scan.MaxWaves {
		cr.Status = model.StatusFailed
		cr.FailureReason = fmt.Sprintf("no verified channel after %d waves", wave)
		return nil
	}
	s.analyzeFailure(ctx, lr, cat, wave, queries, t)
	return nil
}

// escalate handles a zero-item phase: fail with tallies on the last wave,
// otherwise request a diagnostic analysis and let the next wave run.
func (s *Scout) escalate(ctx context.Context, lr *model.LocalityResolution, cat config.Category, cr *model.CategoryResolution, wave int, queries []model.QueryDescriptor, t tally) error {
	if wave >= s.cfg.Scan.MaxWaves {
		cr.Status = model.StatusFailed
		cr.FailureReason = fmt.Sprintf("exhausted %d waves (results:%d,pages:%d,frags:%d)",
			wave, t.results, t.pages, t.frags)
		return nil
	}
	s.analyzeFailure(ctx, lr, cat, wave, queries, t)
	return nil
}

func countYouTube(results []model.SearchResult) int {
	n := 0
	for _, r := range results {
		if isYouTube(r.URL) || isYouTube(r.Domain) {
			n++
		}
	}
	return n
}

func checkpointQueries(lr *model.LocalityResolution, cat config.Category, wave int, queries []model.QueryDescriptor) map[string]any {
	items := make([]map[string]any, 0, len(queries))
	for i, q := range queries {
		items = append(items, map[string]any{"num": i + 1, "query": q.Query, "angle": q.Angle})
	}
	return map[string]any{
		"region": lr.Region, "locality": lr.Locality, "category": cat.Label, "wave": wave,
		"queries": items,
		"message": fmt.Sprintf("%d queries for %s / %s (wave %d)", len(queries), lr.Locality, cat.Label, wave),
	}
}

func checkpointResults(lr *model.LocalityResolution, cat config.Category, wave int, unique []model.SearchResult, ytFound int) map[string]any {
	top := make([]map[string]string, 0, 30)
	for _, r := range unique {
		if len(top) == 30 {
			break
		}
		title := r.Title
		if len(title) > 80 {
			title = title[:80]
		}
		top = append(top, map[string]string{"url": r.URL, "title": title})
	}
	return map[string]any{
		"region": lr.Region, "locality": lr.Locality, "category": cat.Label, "wave": wave,
		"total_links": len(unique), "youtube_links": ytFound, "top_results": top,
		"message": fmt.Sprintf("%d links (%d YouTube). Analyze?", len(unique), ytFound),
	}
}

func checkpointCandidates(lr *model.LocalityResolution, cat config.Category, wave int, candidates []model.Candidate) map[string]any {
	items := make([]map[string]any, 0, len(candidates))
	for _, c := range candidates {
		items = append(items, map[string]any{
			"name": c.Name, "url": c.ChannelURL,
			"evidence": string(c.EvidenceStrength), "sources": c.IndependentSources,
		})
	}
	return map[string]any{
		"region": lr.Region, "locality": lr.Locality, "category": cat.Label, "wave": wave,
		"candidates": items,
		"message":    fmt.Sprintf("%d candidates. Verify platform?", len(candidates)),
	}
}
