package scout

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/scout-cli/internal/config"
	"github.com/sells-group/scout-cli/internal/export"
	"github.com/sells-group/scout-cli/internal/graph"
	"github.com/sells-group/scout-cli/internal/model"
	"github.com/sells-group/scout-cli/internal/oracle"
	"github.com/sells-group/scout-cli/internal/planner"
)

const (
	triageBatchSize   = 30
	planQueryCap      = 12
	followupCandCap   = 5
	followupQueryCap  = 10
	extractionTextCap = 12000
	assemblyTextCap   = 15000
)

func isYouTube(s string) bool { return strings.Contains(s, "youtube.com") }

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// generateQueries prefers the cached strategy plan, falling back to a
// wave-specific oracle call with hand-built queries behind it.
func (s *Scout) generateQueries(ctx context.Context, lr *model.LocalityResolution, cat config.Category, wave int, cr *model.CategoryResolution) []model.QueryDescriptor {
	if strat := s.planner.StrategyForWave(wave); strat != nil {
		qs := s.planner.FlattenQueries([]planner.Strategy{*strat}, lr.Locality, lr.Region)
		if len(qs) > 0 {
			if len(qs) > planQueryCap {
				qs = qs[:planQueryCap]
			}
			zap.L().Debug("scout: queries from strategy plan",
				zap.String("strategy", strat.Name), zap.Int("count", len(qs)))
			return qs
		}
	}
	return s.planner.GenerateWaveQueries(ctx, planner.WaveQuerySpec{
		Locality:      lr.Locality,
		Region:        lr.Region,
		CategoryKey:   cat.Key,
		CategoryLabel: cat.Label,
		CategoryTerms: cat.Terms,
		SubsRange:     s.criteria.SubscriberRange(),
		Wave:          wave,
		MaxWaves:      s.cfg.Scan.MaxWaves,
		PrevQueries:   cr.QueryLog,
	})
}

// runSearches executes each query, consulting the cost engine first and
// deduplicating results by URL. Partial results from rate-limited searches
// are kept.
func (s *Scout) runSearches(ctx context.Context, queries []model.QueryDescriptor, lr *model.LocalityResolution, cat config.Category, cr *model.CategoryResolution, wave int) ([]model.SearchResult, []export.QueryBatch) {
	seen := make(map[string]bool)
	var unique []model.SearchResult
	var batches []export.QueryBatch

	for i, qd := range queries {
		if !s.running.Load() || ctx.Err() != nil {
			break
		}
		if qd.Query == "" {
			continue
		}

		src := qd.SourceType
		if src == "" {
			src = string(model.TierForWave(wave))
		}
		s.cost.AddSource(src, 50)
		ev := s.cost.EvaluateAction(src, 1)
		if !ev.Execute && i > 2 {
			zap.L().Debug("scout: query skipped by cost engine",
				zap.String("source", src), zap.String("reason", ev.Reason))
			continue
		}

		results, err := s.search.Search(ctx, qd.Query)
		if err != nil {
			zap.L().Warn("scout: search interrupted", zap.String("query", qd.Query), zap.Error(err))
		}

		batch := export.QueryBatch{Query: qd.Query, Angle: qd.Angle, Wave: wave}
		for _, r := range results {
			r.Angle = qd.Angle
			batch.Results = append(batch.Results, export.TriagedResult{SearchResult: r})
			if r.URL != "" && !seen[r.URL] {
				seen[r.URL] = true
				unique = append(unique, r)
			}
		}
		batches = append(batches, batch)

		s.appendQueryLog(QueryLogEntry{
			Region:      lr.Region,
			Locality:    lr.Locality,
			Category:    cat.Key,
			Wave:        wave,
			Query:       qd.Query,
			Angle:       qd.Angle,
			ResultCount: len(results),
			Results:     results,
		})
		cr.QueryLog = append(cr.QueryLog, qd)
	}
	return unique, batches
}

func (s *Scout) saveSearchCSV(lr *model.LocalityResolution, cat config.Category, batches []export.QueryBatch) {
	if _, err := s.exporter.SaveSearchCSV(lr.Region, lr.Locality, cat.Key, batches); err != nil {
		zap.L().Warn("scout: search csv", zap.Error(err))
	}
}

// triage scores each unique result through the oracle in batches, keeps
// those at or above the floor, and caps the fetch list. Scores are merged
// back into batches for the CSV trace.
func (s *Scout) triage(ctx context.Context, unique []model.SearchResult, lr *model.LocalityResolution, cat config.Category, batches []export.QueryBatch) []export.TriagedResult {
	byURL := make(map[string]model.SearchResult, len(unique))
	for _, r := range unique {
		byURL[r.URL] = r
	}

	var scored []export.TriagedResult
	for start := 0; start < len(unique); start += triageBatchSize {
		end := min(start+triageBatchSize, len(unique))
		batch := unique[start:end]

		var sb strings.Builder
		for j, r := range batch {
			fmt.Fprintf(&sb, "\n[%d] URL: %s\n    Title: %s\n    Snippet: %s\n    Domain: %s\n",
				j+1, r.URL, r.Title, truncate(r.Snippet, 200), r.Domain)
		}

		raw, err := s.oracle.Ask(ctx, oracle.TriagePrompt(
			lr.Locality, lr.Region, cat.Label, s.criteria.SubscriberRange(),
			len(batch), sb.String(), int(s.cfg.Scan.MinTriageScore)), "")
		if err != nil {
			continue
		}
		var tr oracle.TriageResponse
		if ok, err := oracle.DecodeInto(raw, &tr); !ok || err != nil {
			continue
		}
		for _, sr := range tr.ScoredResults {
			r, ok := byURL[sr.URL]
			if !ok {
				continue
			}
			scored = append(scored, export.TriagedResult{
				SearchResult: r,
				Score:        sr.Score.Float64(),
				Reason:       sr.Reason,
			})
		}
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })

	scoreMap := make(map[string]export.TriagedResult, len(scored))
	kept := scored[:0]
	for _, sc := range scored {
		scoreMap[sc.URL] = sc
		if sc.Score >= s.cfg.Scan.MinTriageScore {
			kept = append(kept, sc)
		}
	}
	for i := range batches {
		for j := range batches[i].Results {
			if sc, ok := scoreMap[batches[i].Results[j].URL]; ok {
				batches[i].Results[j].Score = sc.Score
				batches[i].Results[j].Reason = sc.Reason
			}
		}
	}

	if len(kept) > s.cfg.Scan.MaxTriagePages {
		kept = kept[:s.cfg.Scan.MaxTriagePages]
	}
	return kept
}

// fetchExtract fetches each triaged page and extracts creator fragments.
// Fetch failures skip the page; they never abort the wave.
func (s *Scout) fetchExtract(ctx context.Context, toFetch []export.TriagedResult, lr *model.LocalityResolution, cat config.Category, wave int) ([]model.Fragment, []model.CrossMention) {
	var frags []model.Fragment
	var cross []model.CrossMention

	for _, page := range toFetch {
		if !s.running.Load() || ctx.Err() != nil {
			break
		}
		if page.URL == "" {
			continue
		}
		pd := s.fetcher.Fetch(ctx, page.URL)
		if !pd.Success {
			zap.L().Debug("scout: page skipped", zap.String("url", page.URL), zap.String("error", pd.Error))
			continue
		}

		ytLinks := strings.Join(pd.PlatformURLs, "\n")
		if ytLinks == "" {
			ytLinks = "None"
		}
		raw, err := s.oracle.Ask(ctx, oracle.ExtractionPrompt(
			lr.Locality, lr.Region, cat.Label, s.criteria.SubscriberRange(),
			pd.URL, pd.Title, ytLinks, truncate(pd.Text, extractionTextCap)), "")
		if err != nil {
			continue
		}
		var er oracle.ExtractionResponse
		if ok, err := oracle.DecodeInto(raw, &er); !ok || err != nil {
			continue
		}
		if !er.PageRelevant {
			continue
		}

		now := time.Now().UTC()
		for _, cm := range er.CreatorsMentioned {
			value, err := json.Marshal(cm)
			if err != nil {
				continue
			}
			frags = append(frags, model.Fragment{
				Kind:        "creator_profile",
				Value:       string(value),
				Context:     cm.CityQuote,
				SourceURL:   pd.URL,
				SourceAngle: page.Angle,
				Query:       page.Query,
				Wave:        wave,
				CreatedAt:   now,
			})
		}
		for _, m := range er.OtherCitiesMentioned {
			locality := m.City
			if m.State != "" {
				locality += ", " + m.State
			}
			cross = append(cross, model.CrossMention{
				Name:      m.CreatorName,
				Locality:  locality,
				SourceURL: pd.URL,
				SeenAt:    now,
			})
		}
	}
	return frags, cross
}

// assemble reconciles the wave's fragments into candidates via the oracle,
// then grades evidence strength from source counts rather than trusting
// the oracle's own grade.
func (s *Scout) assemble(ctx context.Context, frags []model.Fragment, lr *model.LocalityResolution, cat config.Category) []model.Candidate {
	var sb strings.Builder
	for i, f := range frags {
		fmt.Fprintf(&sb, "\n--- Fragment %d (from: %s, type: %s) ---\n%s\nContext: %s\n",
			i+1, f.SourceURL, f.SourceAngle, f.Value, f.Context)
	}

	raw, err := s.oracle.Ask(ctx, oracle.AssemblyPrompt(
		lr.Locality, lr.Region, cat.Label, s.criteria.SubscriberRange(),
		truncate(sb.String(), assemblyTextCap)), "")
	if err != nil {
		return nil
	}
	var ar oracle.AssemblyResponse
	if ok, err := oracle.DecodeInto(raw, &ar); !ok || err != nil {
		return nil
	}

	var out []model.Candidate
	for _, ac := range ar.Candidates {
		if ac.ChannelName == "" {
			continue
		}
		c := model.Candidate{
			ID:         uuid.NewString(),
			Name:       ac.ChannelName,
			Aliases:    ac.AlternativeNames,
			Locality:   lr.Locality,
			Region:     lr.Region,
			Category:   cat.Key,
			ChannelURL: ac.ChannelURL,
		}
		for i, quote := range ac.CityEvidenceQuotes {
			ev := model.Evidence{Quote: quote}
			if i < len(ac.CityEvidenceSources) {
				ev.SourceURL = ac.CityEvidenceSources[i]
			}
			c.LocalityEvidence = append(c.LocalityEvidence, ev)
		}
		for _, quote := range ac.CategoryEvidenceQuotes {
			c.CategoryEvidence = append(c.CategoryEvidence, model.Evidence{Quote: quote})
		}
		c.IndependentSources = distinctSources(ac.CityEvidenceSources)
		c.EvidenceStrength = model.GradeEvidence(c.IndependentSources, c.ChannelURL != "")
		c.ComputeLocalityScore()
		out = append(out, c)
	}
	return out
}

func distinctSources(sources []string) int {
	seen := make(map[string]bool)
	for _, src := range sources {
		if src != "" {
			seen[src] = true
		}
	}
	return len(seen)
}

// registerCandidates records every assembled candidate as a graph entity,
// plus a target when a platform URL is already known. The graph is a
// superset ledger, not only what later verifies.
func (s *Scout) registerCandidates(ctx context.Context, candidates []model.Candidate) error {
	for i := range candidates {
		c := &candidates[i]
		eid, err := s.graph.AddEntity(ctx, graph.Entity{
			Name:       c.Name,
			Kind:       "person",
			Locality:   c.Locality,
			Region:     c.Region,
			SourceType: "search_result",
			Status:     graph.EntityTargetFound,
		})
		if err != nil {
			return eris.Wrap(err, "scout: register entity")
		}
		if c.ChannelURL != "" {
			if _, err := s.graph.AddTarget(ctx, graph.Target{
				EntityID: eid,
				Platform: "youtube",
				URL:      c.ChannelURL,
				Name:     c.Name,
			}); err != nil {
				return eris.Wrap(err, "scout: register target")
			}
		}
	}
	return nil
}

// followups runs targeted searches for candidates that are missing a
// platform URL or whose locality evidence is weak, backfilling the first
// YouTube URL found.
func (s *Scout) followups(ctx context.Context, candidates []model.Candidate) {
	var incomplete []model.Candidate
	for _, c := range candidates {
		if c.ChannelURL == "" || c.EvidenceStrength == model.EvidenceWeak || c.EvidenceStrength == model.EvidenceNone {
			incomplete = append(incomplete, c)
		}
	}
	if len(incomplete) == 0 {
		return
	}
	if len(incomplete) > followupCandCap {
		incomplete = incomplete[:followupCandCap]
	}

	summary, err := json.MarshalIndent(incomplete, "", "  ")
	if err != nil {
		return
	}
	raw, err := s.oracle.Ask(ctx, oracle.FollowupPrompt(string(summary),
		"YouTube URL, locality confirmation, subscriber count"), "")
	if err != nil {
		return
	}
	var fr oracle.FollowupResponse
	if ok, err := oracle.DecodeInto(raw, &fr); !ok || err != nil {
		return
	}

	queries := fr.FollowupQueries
	if len(queries) > followupQueryCap {
		queries = queries[:followupQueryCap]
	}
	for _, fq := range queries {
		if !s.running.Load() || ctx.Err() != nil {
			return
		}
		if fq.Query == "" {
			continue
		}
		zap.L().Debug("scout: follow-up search",
			zap.String("candidate", fq.ForCandidate), zap.String("query", fq.Query))
		results, _ := s.search.Search(ctx, fq.Query)
		for _, r := range results {
			if !isYouTube(r.URL) {
				continue
			}
			for i := range candidates {
				if candidates[i].ChannelURL == "" &&
					strings.Contains(strings.ToLower(candidates[i].Name), strings.ToLower(fq.ForCandidate)) {
					candidates[i].ChannelURL = r.URL
					zap.L().Debug("scout: follow-up found url", zap.String("url", r.URL))
					break
				}
			}
			break
		}
	}
}

// verifyCandidates confirms each candidate against the platform, runs the
// adversarial locality re-check and the category check, computes the final
// score, and records verified candidates into the graph with their
// criteria scored.
func (s *Scout) verifyCandidates(ctx context.Context, candidates []model.Candidate, lr *model.LocalityResolution, cat config.Category) ([]model.Candidate, error) {
	var verified []model.Candidate
	for i := range candidates {
		if !s.running.Load() || ctx.Err() != nil {
			break
		}
		c := &candidates[i]
		if c.ChannelURL == "" || !isYouTube(c.ChannelURL) {
			continue
		}

		ci := s.verifier.Verify(ctx, c.ChannelURL)
		if !ci.Exists {
			c.Reject("channel not found")
			continue
		}
		if !ci.SubscriberInRange {
			c.Reject(fmt.Sprintf("subscribers out of range: %d", ci.Subscribers))
			continue
		}

		cityScore := s.adversarialCheck(ctx, c, ci, lr)
		if cityScore < s.cfg.Scan.MinLocalityScore {
			c.Reject("locality claim refuted")
			continue
		}
		catScore, mismatch := s.categoryCheck(ctx, c, ci, cat)
		if mismatch {
			c.Reject("category mismatch")
			continue
		}

		if ci.Name != "" {
			c.ChannelName = ci.Name
		} else {
			c.ChannelName = c.Name
		}
		c.ChannelExists = true
		c.Subscribers = ci.Subscribers
		c.SubscribersText = ci.SubscribersText
		c.SubscriberMatch = ci.SubscriberInRange
		c.LastUploadText = ci.LastUploadText
		c.UploadRecent = ci.UploadRecent
		c.ChannelDescription = ci.Description
		c.LocalityScore = cityScore
		c.CategoryScore = catScore
		c.ComputeTotalScore()
		c.Verified = c.TotalScore >= s.cfg.Scan.MinTotalScore && c.SubscriberMatch
		zap.L().Info("scout: candidate scored",
			zap.String("channel", c.ChannelName),
			zap.Float64("score", c.TotalScore),
			zap.Bool("verified", c.Verified))
		if !c.Verified {
			continue
		}

		if err := s.recordVerified(ctx, c, cityScore, catScore); err != nil {
			return verified, err
		}
		verified = append(verified, *c)
	}
	return verified, nil
}

// adversarialCheck asks the oracle to disprove the locality claim. No
// answer means no new information and keeps the neutral 0.5.
func (s *Scout) adversarialCheck(ctx context.Context, c *model.Candidate, ci model.ChannelInfo, lr *model.LocalityResolution) float64 {
	quotes := make([]string, 0, len(c.LocalityEvidence))
	for _, ev := range c.LocalityEvidence {
		quotes = append(quotes, ev.Quote)
	}
	evidence, err := json.MarshalIndent(quotes, "", "  ")
	if err != nil {
		return 0.5
	}

	name := ci.Name
	if name == "" {
		name = c.Name
	}
	raw, err := s.oracle.Ask(ctx, oracle.AdversarialPrompt(
		name, c.ChannelURL, lr.Locality, lr.Region, string(evidence),
		ci.Name, ci.SubscribersText, truncate(ci.Description, 200)), "")
	if err != nil {
		return 0.5
	}
	var adv oracle.AdversarialResponse
	if ok, err := oracle.DecodeInto(raw, &adv); !ok || err != nil {
		return 0.5
	}
	return adv.FinalCityScore.Float64()
}

// categoryCheck returns the category score and whether the candidate is a
// clear mismatch (explicitly refuted with a score below 0.3).
func (s *Scout) categoryCheck(ctx context.Context, c *model.Candidate, ci model.ChannelInfo, cat config.Category) (float64, bool) {
	quotes := make([]string, 0, len(c.CategoryEvidence))
	for _, ev := range c.CategoryEvidence {
		quotes = append(quotes, ev.Quote)
	}
	evidence, err := json.Marshal(quotes)
	if err != nil {
		return 0.5, false
	}

	name := ci.Name
	if name == "" {
		name = c.Name
	}
	raw, err := s.oracle.Ask(ctx, oracle.CategoryPrompt(
		name, c.ChannelURL, cat.Label, truncate(ci.Description, 200), string(evidence)), "")
	if err != nil {
		return 0.5, false
	}
	var cres oracle.CategoryResponse
	if ok, err := oracle.DecodeInto(raw, &cres); !ok || err != nil {
		return 0.5, false
	}
	score := cres.CategoryScore.Float64()
	return score, !cres.MatchesCategory && score < 0.3
}

// recordVerified writes a verified candidate into the graph as a validated
// entity plus a fully populated target, then scores it against the
// configured criteria.
func (s *Scout) recordVerified(ctx context.Context, c *model.Candidate, cityScore, catScore float64) error {
	eid, err := s.graph.AddEntity(ctx, graph.Entity{
		Name:       c.ChannelName,
		Kind:       "person",
		Locality:   c.Locality,
		Region:     c.Region,
		SourceType: "youtube_verified",
		Status:     graph.EntityValidated,
	})
	if err != nil {
		return eris.Wrap(err, "scout: record verified entity")
	}
	// AddEntity dedups against the registration pass and keeps the old
	// status, so promote explicitly.
	if err := s.graph.UpdateEntityStatus(ctx, eid, graph.EntityValidated); err != nil {
		return eris.Wrap(err, "scout: promote entity")
	}
	target := graph.Target{
		EntityID:         eid,
		Platform:         "youtube",
		URL:              c.ChannelURL,
		Name:             c.ChannelName,
		Description:      truncate(c.ChannelDescription, 500),
		Followers:        c.Subscribers,
		LastActivity:     c.LastUploadText,
		IsActive:         c.UploadRecent,
		LocationDetected: cityScore >= 0.5,
		TopicDetected:    catScore >= 0.5,
		IsCreator:        true,
	}
	tid, err := s.graph.AddTarget(ctx, target)
	if err != nil {
		return eris.Wrap(err, "scout: record verified target")
	}
	// The registration pass may have inserted this URL already; AddTarget
	// dedups without refreshing scan fields.
	target.ID = tid
	if err := s.graph.UpdateTargetScan(ctx, target); err != nil {
		return eris.Wrap(err, "scout: refresh verified target")
	}

	criteria, err := s.graph.ListCriteria(ctx)
	if err != nil {
		return eris.Wrap(err, "scout: list criteria")
	}
	if len(criteria) > 0 {
		if _, err := graph.AutoScore(ctx, s.graph, tid, s.criteria.SubscriberMin, s.criteria.SubscriberMax); err != nil {
			return eris.Wrap(err, "scout: score target")
		}
	}
	return nil
}

// analyzeFailure asks the oracle why the wave came up empty. The analysis
// is diagnostic only; the next wave proceeds regardless.
func (s *Scout) analyzeFailure(ctx context.Context, lr *model.LocalityResolution, cat config.Category, wave int, queries []model.QueryDescriptor, t tally) {
	texts := make([]string, 0, len(queries))
	for _, q := range queries {
		texts = append(texts, q.Query)
	}
	qtxt, err := json.MarshalIndent(texts, "", "  ")
	if err != nil {
		return
	}
	raw, err := s.oracle.Ask(ctx, oracle.EscalationPrompt(
		lr.Locality, lr.Region, cat.Label, wave, s.cfg.Scan.MaxWaves,
		string(qtxt), t.results, t.pages, t.frags, t.verified), "")
	if err != nil {
		return
	}
	var er oracle.EscalationResponse
	if ok, err := oracle.DecodeInto(raw, &er); !ok || err != nil {
		return
	}
	zap.L().Info("scout: wave failure analysis",
		zap.String("locality", lr.Locality),
		zap.String("category", cat.Key),
		zap.Int("wave", wave),
		zap.String("analysis", truncate(er.FailureAnalysis, 160)),
		zap.String("viability", er.CityViability))
}
