package oracle

import (
	"fmt"
	"strings"
)

// Prompt builders for every pipeline phase. Each returns a complete user
// prompt; the phase's expected JSON shape is spelled out inline and has a
// matching struct in schema.go.

const queryPlanTemplate = `You are a web research strategist. Design a search strategy to find YouTube creators in a specific city.
TARGET: %s, %s, USA | Category: %s | Subs: %s
WAVE: %d/%d
%s
Generate 6-8 queries using DIFFERENT ANGLES:
1. LOCAL_PRESS: "%[1]s" youtuber OR "content creator" + category
2. REDDIT: site:reddit.com "%[1]s" youtube + category
3. BEST_OF_LIST: "youtubers from %[2]s" + category
4. EVENTS: "%[1]s" youtube meetup OR convention + category
5. SOCIAL_BIO: site:twitter.com OR site:instagram.com "%[1]s" youtube + category
6. INTERVIEW: "%[1]s" youtuber interview OR podcast + category
7. REGIONAL: "%[2]s" content creator + category
8. COMMUNITY: "%[1]s" "subscribe" OR "my channel" + category
Category terms: %[8]s
Respond ONLY with valid JSON:
{"strategy_reasoning":"brief","queries":[{"angle":"name","query":"the query","expected_yield":"what"}]}`

// QueryPlanPrompt builds the wave query-generation prompt. prevQueries from
// the failed prior wave steer the model toward different angles.
func QueryPlanPrompt(city, state, categoryLabel, subsRange string, wave, maxWaves int, prevQueries, categoryTerms []string) string {
	prevCtx := ""
	if wave > 1 && len(prevQueries) > 0 {
		tail := prevQueries
		if len(tail) > 8 {
			tail = tail[len(tail)-8:]
		}
		prevCtx = fmt.Sprintf("PREVIOUS WAVE FAILED. Queries tried: %q. Use COMPLETELY DIFFERENT queries with different angles.", tail)
	}
	return fmt.Sprintf(queryPlanTemplate,
		city, state, categoryLabel, subsRange, wave, maxWaves, prevCtx,
		strings.Join(categoryTerms, ", "))
}

const triageTemplate = `You are an OSINT search result evaluator. Score each search result for relevance.

TARGET: YouTube creators from %s, %s
CATEGORY: %s
SUBSCRIBER RANGE: %s

RESULTS TO EVALUATE (%d results):
%s

SCORING RULES (0-10):
  9-10: Directly lists YouTube creators from this city (listicle, directory, ranking)
  7-8:  Reddit thread, forum post, or article mentioning local YouTubers by name
  5-6:  Page that likely mentions video creators (blog, interview, local media)
  3-4:  Tangentially related (city mentioned, video topic mentioned, but unlikely to have YouTuber names)
  0-2:  Irrelevant (wrong city, wrong topic, corporate page, no creator info)

BOOST SIGNALS (add +1 or +2):
  - site:reddit.com gets +2 (Reddit threads are gold for finding local creators)
  - "youtuber" or "content creator" in title gets +2
  - "best of" or "top" lists get +2
  - Local newspaper / blog gets +1
  - Contains "subscribe" or "channel" gets +1

REJECT SIGNALS (set score to 0):
  - Generic YouTube homepage or trending page
  - Product/company pages unrelated to individual creators
  - Pages from a completely different city or country

Return ONLY results with score >= %d, sorted descending.
JSON only: {"scored_results":[{"url":"URL","score":8,"reason":"brief reason"}]}`

// TriagePrompt builds the result-triage prompt. resultsText is the
// preformatted numbered list of results.
func TriagePrompt(city, state, categoryLabel, subsRange string, resultCount int, resultsText string, minScore int) string {
	return fmt.Sprintf(triageTemplate, city, state, categoryLabel, subsRange,
		resultCount, resultsText, minScore)
}

const extractionTemplate = `You are an OSINT data extractor. Extract YouTube creator information from this web page.

CONTEXT:
  Target city: %[1]s, %[2]s
  Category: %[3]s
  Subscriber range: %[4]s

SOURCE PAGE:
  URL: %[5]s
  Title: %[6]s
  YouTube links found on page: %[7]s

PAGE CONTENT (truncated):
%[8]s

EXTRACTION RULES:
1. For EACH creator mentioned, extract:
   - name: Full name or channel name
   - youtube_url: Full URL if visible (e.g. youtube.com/@handle)
   - youtube_handle: Handle if visible (e.g. @handle)
   - city_quote: EXACT quote from the page that links this person to %[1]s (copy-paste, do NOT paraphrase)
   - category_quote: EXACT quote linking them to %[3]s content
   - subscriber_info: Any mention of subscriber/follower count
   - other_info: Any other useful info (real name, age, joined date, etc.)
   - confidence_city: How sure are you they're from %[1]s? high/medium/low/none
   - confidence_category: How sure they match %[3]s? high/medium/low/none

2. ONLY extract what is EXPLICITLY stated on the page. Do NOT guess or infer.
3. If the page mentions creators from OTHER cities, list them in other_cities_mentioned.
4. If the page is completely irrelevant, set page_relevant=false and return empty lists.

JSON only:
{"page_relevant":true,"creators_mentioned":[{"name":"","youtube_url":"","youtube_handle":"","city_quote":"EXACT QUOTE","category_quote":"EXACT QUOTE","subscriber_info":"","other_info":"","confidence_city":"high","confidence_category":"high"}],"other_cities_mentioned":[{"city":"","state":"","creator_name":""}]}`

// ExtractionPrompt builds the per-page fragment extraction prompt.
func ExtractionPrompt(city, state, categoryLabel, subsRange, sourceURL, pageTitle, youtubeLinks, pageText string) string {
	return fmt.Sprintf(extractionTemplate, city, state, categoryLabel, subsRange,
		sourceURL, pageTitle, youtubeLinks, pageText)
}

const assemblyTemplate = `You are an OSINT analyst. Consolidate fragments about YouTube creators into unique candidates.

TARGET: %[1]s, %[2]s - %[3]s - %[4]s subscribers

FRAGMENTS FROM MULTIPLE SOURCES:
%[5]s

CONSOLIDATION RULES:
1. GROUP fragments that refer to the SAME person (same name, same channel, same URL).
2. MERGE evidence from different sources; more independent sources = stronger evidence.
3. Be SKEPTICAL: if only one source mentions a creator in %[1]s, mark city_evidence as "weak".
4. A candidate needs BOTH a plausible city connection AND a YouTube presence.
5. Rank candidates by evidence strength: strong > moderate > weak.

EVIDENCE STRENGTH:
  strong: 2+ independent sources confirm city + found YouTube URL
  moderate: 1 source confirms city + YouTube URL found
  weak: City mentioned vaguely OR no YouTube URL found
  none: No city evidence at all

For each candidate, list EXACTLY what sources say (no fabrication).

JSON only:
{"candidates":[{"channel_name":"","channel_url":"","alternative_names":[],"city_evidence_strength":"strong/moderate/weak/none","city_evidence_sources":["source URLs"],"city_evidence_quotes":["exact quotes"],"category_evidence_strength":"","category_evidence_quotes":[],"subscriber_info":"","missing_info":["what we still need"],"overall_confidence":"high/medium/low","reasoning":"why this candidate is likely valid"}],"suggested_followup_queries":["specific search queries to fill gaps"]}`

// AssemblyPrompt builds the fragment-consolidation prompt.
func AssemblyPrompt(city, state, categoryLabel, subsRange, fragmentsText string) string {
	return fmt.Sprintf(assemblyTemplate, city, state, categoryLabel, subsRange, fragmentsText)
}

const adversarialTemplate = `You are a SKEPTICAL fact-checker. Your job is to CHALLENGE the claim that "%[1]s" (%[2]s) is based in %[3]s, %[4]s.

EVIDENCE SUPPORTING THE CLAIM:
%[5]s

YOUTUBE DATA:
  Channel name: %[6]s
  Subscribers: %[7]s
  Description excerpt: %[8]s

YOUR TASK: try to DISPROVE the city claim.
1. Could this be a DIFFERENT person with the same name?
2. Could they have MOVED AWAY from %[3]s?
3. Could they have only VISITED %[3]s (not lived there)?
4. Is there any NAME CONFUSION (similar names, nicknames)?
5. Does the YouTube channel description CONTRADICT the city claim?
6. Are the evidence sources RELIABLE or could they be outdated?

SCORING:
  0.9-1.0: Strong evidence, multiple independent sources, hard to disprove
  0.7-0.8: Moderate evidence, 1-2 good sources, plausible
  0.5-0.6: Weak evidence, could go either way
  0.3-0.4: Very weak, probably wrong city
  0.0-0.2: Almost certainly wrong

JSON only: {"skepticism_level":"low/medium/high","concerns":["specific concern 1","concern 2"],"evidence_quality":"strong/moderate/weak","likely_correct":true,"final_city_score":0.0,"reasoning":"brief explanation"}`

// AdversarialPrompt builds the skeptical locality re-verification prompt.
func AdversarialPrompt(channelName, channelURL, city, state, evidenceFor, ytName, ytSubscribers, ytDescription string) string {
	return fmt.Sprintf(adversarialTemplate, channelName, channelURL, city, state,
		evidenceFor, ytName, ytSubscribers, ytDescription)
}

const categoryTemplate = `Verify: Does YouTube channel "%[1]s" (%[2]s) match the category "%[3]s"?

YouTube description: %[4]s
Category evidence from research: %[5]s

Evaluate:
1. Does the channel's content clearly match %[3]s?
2. Is this their PRIMARY content type or a secondary/occasional topic?
3. Could this channel be miscategorized?

JSON only: {"matches_category":true,"category_score":0.0,"reasoning":"explanation","alternative_category":"if mismatched, what category fits better"}
Score: 0.8-1.0=clear match, 0.5-0.7=partial, 0.3-0.4=weak, 0.0-0.2=mismatch`

// CategoryPrompt builds the category-verification prompt.
func CategoryPrompt(channelName, channelURL, categoryLabel, ytDescription, categoryEvidence string) string {
	return fmt.Sprintf(categoryTemplate, channelName, channelURL, categoryLabel,
		ytDescription, categoryEvidence)
}

const escalationTemplate = `A search wave FAILED to find verified YouTube creators. Analyze why and suggest improvements.

CONTEXT:
  City: %s, %s | Category: %s | Wave: %d/%d
  Queries tried: %s
  Results: %d search results, %d pages fetched, %d candidates, %d verified

ANALYZE:
1. Were the queries too narrow? Too broad? Wrong angle?
2. Is this city too small for this category? Should we widen to metro area?
3. What search angles were NOT tried? (Reddit, local press, university alumni, events, social media bios)
4. Should we try completely different keywords or pivot to intermediaries?

JSON only: {"failure_analysis":"what went wrong","city_viability":"high/medium/low","recommended_strategy":"what to try next","should_widen_geography":false,"wider_area_name":"metro area if applicable","new_angles":["angle1","angle2"]}`

// EscalationPrompt builds the failed-wave diagnosis prompt.
func EscalationPrompt(city, state, categoryLabel string, wave, maxWaves int, queriesUsed string, results, pages, candidates, verified int) string {
	return fmt.Sprintf(escalationTemplate, city, state, categoryLabel, wave, maxWaves,
		queriesUsed, results, pages, candidates, verified)
}

const followupTemplate = `Some candidates are INCOMPLETE and need more evidence. Generate targeted follow-up searches.

INCOMPLETE CANDIDATES:
%s

MISSING INFORMATION: %s

For each candidate, generate 2-3 SPECIFIC search queries to find:
- Their YouTube channel URL (if missing)
- Confirmation they live in the target city
- Their subscriber count
- Their real name or additional identifiers

Use operators: site:youtube.com, site:twitter.com, quotes for exact names.

JSON only: {"followup_queries":[{"for_candidate":"candidate name","query":"specific search query","purpose":"what we hope to find"}]}`

// FollowupPrompt builds the gap-filling query generation prompt.
func FollowupPrompt(candidatesText, missingInfo string) string {
	return fmt.Sprintf(followupTemplate, candidatesText, missingInfo)
}

const analyzeTemplate = `You are an expert OSINT analyst. Decompose this research request into structural elements.

REQUEST: "%s"

Analyze along 4 dimensions. For each dimension, identify:
- explicit: what the request states directly
- explicit_refined: refinement or expansion of the explicit (e.g. "USA" becomes "51 states, at least 3 cities per state")
- implicit: what is logically deducible but unstated (intermediaries, stakeholders, artifacts, places of presence)
- rejections: what must be explicitly excluded

DIMENSIONS:
1. WHO: the direct targets AND the intermediaries (agents, publishers, institutions, guilds...)
2. WHERE: physical places AND digital places (sites, networks, platforms, directories, media)
3. WHAT: productions, artifacts, documents, publications, traces that identify the targets
4. WHEN: time constraints (period, recency, graduation years...)

Respond ONLY with valid JSON:
{
    "objective": "clear restatement of the objective",
    "domain": "detected domain (manga, cinema, music, tech, sport, etc.)",
    "confidence": 0.0,
    "who": {"explicit": [], "explicit_refined": [], "implicit": [], "rejections": []},
    "where": {"explicit": [], "explicit_refined": [], "implicit": [], "rejections": []},
    "what": {"explicit": [], "explicit_refined": [], "implicit": [], "rejections": []},
    "when": {"explicit": [], "explicit_refined": [], "implicit": [], "rejections": []}
}`

// AnalyzePrompt builds the objective-decomposition prompt.
func AnalyzePrompt(objective string) string {
	return fmt.Sprintf(analyzeTemplate, objective)
}

const strategiesTemplate = `You are an OSINT research planner. From this analysis, generate 3 search strategies.

ANALYSIS:
%s

Generate exactly 3 strategies across 3 tiers:

1. DIRECT STRATEGY (low cost, uncertain yield):
   Search for the target directly by name/description on search engines.
   Simple, direct queries.

2. SEMI-DIRECT STRATEGY (medium cost, medium yield):
   Search via the identified intermediaries (agents, publishers, professional directories, guilds, associations).
   Each intermediary can reveal targets.
   Decompose into steps: first identify the intermediary, then explore its contacts/publications.

3. INDIRECT STRATEGY (high cost, high yield):
   Search via artifacts, institutions, training programs, events.
   "Academic pivot" or "event pivot" approach.
   The most expensive, but finds hidden targets.

For EACH strategy, decompose into hierarchical steps.
Each step may have conditional sub-steps (if X is found, then search Y).

IMPORTANT: generate CONCRETE queries for each step.
Queries must be real, usable Google/Brave searches.
Use the variables {city}, {state}, {country} for location.

Respond ONLY with valid JSON:
{
    "strategies": [
        {
            "name": "Direct search",
            "tier": "direct",
            "description": "...",
            "estimated_cost": "low|medium|high",
            "estimated_yield": "low|medium|high",
            "steps": [
                {
                    "id": "S1.1",
                    "action": "What to do",
                    "description": "Why this step",
                    "queries": ["google query 1", "google query 2"],
                    "expected_output": "What we hope to find",
                    "source_type": "search_engine|directory|university|press|social|professional",
                    "priority": 90,
                    "condition": "always",
                    "sub_steps": [
                        {
                            "id": "S1.1.1",
                            "action": "Sub-action",
                            "queries": ["..."],
                            "condition": "if results found in parent step",
                            "sub_steps": []
                        }
                    ]
                }
            ]
        }
    ]
}`

// StrategiesPrompt builds the 3-tier strategy generation prompt from a
// serialized analysis.
func StrategiesPrompt(analysisJSON string) string {
	return fmt.Sprintf(strategiesTemplate, analysisJSON)
}

const refineTemplate = `You are an internet research expert. Generate optimized search queries.

CONTEXT:
- Objective: %s
- Domain: %s
- Step: %s
- Location: %s, %s
- Rejections: %s

Generate %d CONCRETE and VARIED Google/Brave search queries for this step.
Each query must be directly usable in a search engine.
Use operators: site:, filetype:, OR, quotes for exact phrases.

Respond ONLY with JSON: {"queries": ["query 1", "query 2"]}`

// RefinePrompt builds the per-step query refinement prompt.
func RefinePrompt(objective, domain, stepAction, city, state, rejections string, count int) string {
	if city == "" {
		city = "any"
	}
	if state == "" {
		state = "any"
	}
	if rejections == "" {
		rejections = "none"
	}
	return fmt.Sprintf(refineTemplate, objective, domain, stepAction, city, state,
		rejections, count)
}
