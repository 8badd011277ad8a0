// Package entity implements the heuristic named-entity and
// co-occurrence-relationship extractor (C7).
package entity

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/iancoleman/strcase"
	"github.com/ikawaha/kagome-dict/ipa"
	"github.com/ikawaha/kagome/v2/tokenizer"
	"github.com/jdkato/prose/v2"

	"github.com/aurora-assistant/ragmemory/internal/graphmodel"
)

var properNounWordRE = regexp.MustCompile(`^\p{Lu}[\p{L}'-]*$`)

var camelCaseRE = regexp.MustCompile(`^[\p{L}][\p{L}0-9]{3,39}$`)

var conceptPatternRE = regexp.MustCompile(`(?i)\b(called|named|known as|using|via|through|created by|developed by|built by|located in|based in|from)\s+([\p{Lu}][\p{L}0-9_]*(?:\s+[\p{Lu}][\p{L}0-9_]*){0,3})`)

var conceptVerbType = map[string]graphmodel.EntityType{
	"called":       graphmodel.EntityConcept,
	"named":        graphmodel.EntityConcept,
	"known as":     graphmodel.EntityConcept,
	"using":        graphmodel.EntityTechnology,
	"via":          graphmodel.EntityTechnology,
	"through":      graphmodel.EntityTechnology,
	"created by":   graphmodel.EntityOrganization,
	"developed by": graphmodel.EntityOrganization,
	"built by":     graphmodel.EntityOrganization,
	"located in":   graphmodel.EntityPlace,
	"based in":     graphmodel.EntityPlace,
	"from":         graphmodel.EntityPlace,
}

// candidate is a pre-dedup entity mention with a rough confidence score,
// and the sentence + offset it was found at, used for relationship
// inference.
type candidate struct {
	name       string
	entityType graphmodel.EntityType
	confidence float64
	sentence   int
	offset     int
}

// Extractor runs the heuristic extraction pipeline over chunk content.
// It holds a kagome morphological analyzer for the Japanese code path;
// English content never touches it.
type Extractor struct {
	ja *tokenizer.Tokenizer
}

// New builds an Extractor, initialising the Japanese morphological
// analyzer (kagome over the IPA dictionary) the way the teacher's
// chunking task does.
func New() (*Extractor, error) {
	t, err := tokenizer.New(ipa.Dict(), tokenizer.OmitBosEos())
	if err != nil {
		return nil, fmt.Errorf("entity: init kagome tokenizer: %w", err)
	}
	return &Extractor{ja: t}, nil
}

var cjkRE = regexp.MustCompile(`[\x{3040}-\x{30ff}\x{4e00}-\x{9fff}]`)

// Extract runs the heuristic extraction pipeline over content, routing
// to the Japanese kagome path when the content contains kana or kanji
// and to the English prose-based path otherwise.
func (x *Extractor) Extract(content string) graphmodel.ExtractionResult {
	if cjkRE.MatchString(content) {
		return x.extractJA(content)
	}
	return x.extractEN(content)
}

func (x *Extractor) extractEN(content string) graphmodel.ExtractionResult {
	sentences := splitSentences(content)

	var candidates []candidate
	for si, sentence := range sentences {
		candidates = append(candidates, extractProperNouns(sentence, si)...)
		candidates = append(candidates, extractTechTerms(sentence, si)...)
		candidates = append(candidates, extractCamelCase(sentence, si)...)
		candidates = append(candidates, extractConceptPatterns(sentence, si)...)
	}

	entities, bySentence := dedupeCandidates(candidates)
	relationships := inferRelationships(bySentence, sentences)

	return graphmodel.ExtractionResult{Entities: entities, Relationships: relationships}
}

// extractJA mirrors extractEN's pipeline for Japanese text, substituting
// kagome noun-phrase extraction for the proper-noun/camelCase/concept
// passes that only make sense for Latin-script text.
func (x *Extractor) extractJA(content string) graphmodel.ExtractionResult {
	sentences := splitSentencesJA(content)

	var candidates []candidate
	for si, sentence := range sentences {
		candidates = append(candidates, x.extractJANouns(sentence, si)...)
		candidates = append(candidates, extractTechTerms(sentence, si)...)
	}

	entities, bySentence := dedupeCandidates(candidates)
	relationships := inferRelationships(bySentence, sentences)

	return graphmodel.ExtractionResult{Entities: entities, Relationships: relationships}
}

// extractJANouns groups consecutive kagome 名詞/固有名詞 tokens into
// candidate entity names, the Japanese analogue of extractProperNouns.
func (x *Extractor) extractJANouns(sentence string, sentenceIdx int) []candidate {
	tokens := x.ja.Tokenize(sentence)
	var out []candidate
	var run []string
	runStart := -1

	flush := func() {
		if len(run) == 0 {
			return
		}
		name := strings.Join(run, "")
		out = append(out, candidate{name: name, confidence: 0.6, sentence: sentenceIdx, offset: runStart})
		run = nil
		runStart = -1
	}

	for i, t := range tokens {
		pos := t.POS()
		isProperNoun := len(pos) > 1 && pos[0] == "名詞" && (pos[1] == "固有名詞" || pos[1] == "一般")
		if isProperNoun {
			if runStart == -1 {
				runStart = i
			}
			run = append(run, t.Surface)
		} else {
			flush()
		}
	}
	flush()
	return out
}

var jaSentenceSplitRE = regexp.MustCompile(`[。！？]`)

func splitSentencesJA(content string) []string {
	parts := jaSentenceSplitRE.Split(content, -1)
	var out []string
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return []string{content}
	}
	return out
}

func splitSentences(content string) []string {
	doc, err := prose.NewDocument(content, prose.WithTagging(false), prose.WithExtraction(false))
	if err != nil {
		return []string{content}
	}
	var out []string
	for _, s := range doc.Sentences() {
		if t := strings.TrimSpace(s.Text); t != "" {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return []string{content}
	}
	return out
}

func extractProperNouns(sentence string, sentenceIdx int) []candidate {
	words := strings.Fields(sentence)
	var out []candidate
	var run []string
	runStart := -1

	flush := func(endIdx int) {
		if len(run) == 0 {
			return
		}
		name := strings.Join(run, " ")
		out = append(out, candidate{name: name, confidence: 0.6, sentence: sentenceIdx, offset: runStart})
		run = nil
		runStart = -1
	}

	for i, w := range words {
		clean := strings.Trim(w, ".,!?;:\"'()")
		isFirstWord := i == 0
		if properNounWordRE.MatchString(clean) && !stopWords[strings.ToLower(clean)] && !isFirstWord {
			if runStart == -1 {
				runStart = i
			}
			run = append(run, clean)
		} else {
			flush(i)
		}
	}
	flush(len(words))
	return out
}

func extractTechTerms(sentence string, sentenceIdx int) []candidate {
	words := strings.Fields(sentence)
	var out []candidate
	for i, w := range words {
		clean := strings.Trim(w, ".,!?;:\"'()")
		if techLexicon[strings.ToLower(clean)] {
			out = append(out, candidate{name: clean, entityType: graphmodel.EntityTechnology, confidence: 0.8, sentence: sentenceIdx, offset: i})
		}
	}
	return out
}

func extractCamelCase(sentence string, sentenceIdx int) []candidate {
	words := strings.Fields(sentence)
	var out []candidate
	for i, w := range words {
		clean := strings.Trim(w, ".,!?;:\"'()")
		if !camelCaseRE.MatchString(clean) {
			continue
		}
		hasUpper, hasLower := false, false
		for _, r := range clean {
			if r >= 'A' && r <= 'Z' {
				hasUpper = true
			}
			if r >= 'a' && r <= 'z' {
				hasLower = true
			}
		}
		if !hasUpper || !hasLower {
			continue
		}
		// strcase.ToSnake inserts an underscore at every case boundary;
		// a genuine camelCase/PascalCase identifier always produces at
		// least one, which filters out plain capitalised words that
		// happen to satisfy the length bound.
		if !strings.Contains(strcase.ToSnake(clean), "_") {
			continue
		}
		out = append(out, candidate{name: clean, entityType: graphmodel.EntityCodeIdentifier, confidence: 0.7, sentence: sentenceIdx, offset: i})
	}
	return out
}

func extractConceptPatterns(sentence string, sentenceIdx int) []candidate {
	var out []candidate
	matches := conceptPatternRE.FindAllStringSubmatch(sentence, -1)
	for _, m := range matches {
		verb := strings.ToLower(m[1])
		name := strings.TrimSpace(m[2])
		if name == "" {
			continue
		}
		out = append(out, candidate{name: name, entityType: conceptVerbType[verb], confidence: 0.65, sentence: sentenceIdx})
	}
	return out
}

// classifyType assigns an entity type by the rules in §4.6, honouring
// any type a candidate already carries (from tech lexicon / concept
// pattern extraction) over the generic proper-noun classifier.
func classifyType(c candidate) graphmodel.EntityType {
	if c.entityType != "" {
		return c.entityType
	}
	lower := strings.ToLower(c.name)
	// Mentions reach here with punctuation trimmed ("Dr. Smith" becomes
	// "Dr Smith"), so also compare the first word without its dot.
	firstWord := strings.SplitN(lower, " ", 2)[0]
	dottedHonorific := false
	for _, h := range honorifics {
		if strings.HasSuffix(h, ".") && firstWord == strings.TrimSuffix(h, ".") && firstWord != lower {
			dottedHonorific = true
		}
	}
	switch {
	case hasAnyPrefix(lower, honorifics) || dottedHonorific:
		return graphmodel.EntityPerson
	case hasAnySuffix(strings.TrimRight(lower, "."), orgSuffixes):
		return graphmodel.EntityOrganization
	case hasAnySuffix(lower, placeSuffixes):
		return graphmodel.EntityPlace
	case hasAnySuffix(lower, codeIdentifierSuffixes):
		return graphmodel.EntityCodeIdentifier
	default:
		return graphmodel.EntityGeneric
	}
}

// dedupeCandidates groups by lowercased-trimmed name keeping the
// highest-confidence candidate, and returns both the final entity list
// and a per-sentence list of (entityID, offset) for relationship
// inference.
func dedupeCandidates(candidates []candidate) ([]graphmodel.Entity, map[int][]sentenceMention) {
	best := make(map[string]candidate)
	for _, c := range candidates {
		key := strings.ToLower(strings.TrimSpace(c.name))
		if key == "" {
			continue
		}
		if cur, ok := best[key]; !ok || c.confidence > cur.confidence {
			best[key] = c
		}
	}

	entities := make([]graphmodel.Entity, 0, len(best))
	bySentence := make(map[int][]sentenceMention)
	for key, c := range best {
		id := "entity_" + key
		entities = append(entities, graphmodel.Entity{
			ID:           id,
			Name:         strings.TrimSpace(c.name),
			Type:         classifyType(c),
			MentionCount: 1,
		})
		bySentence[c.sentence] = append(bySentence[c.sentence], sentenceMention{entityID: id, offset: c.offset})
	}
	sort.Slice(entities, func(i, j int) bool { return entities[i].Name < entities[j].Name })
	return entities, bySentence
}

type sentenceMention struct {
	entityID string
	offset   int
}

// inferRelationships emits a relationship for every pair of entities
// co-occurring in the same sentence, with strength
// 0.5 + 0.5*(1 - distance/sentenceLength). The relationship type is the
// first phrase from relationshipVerbs found anywhere in the sentence, so
// every pair in one sentence gets the same type; the text between the
// two entities is not isolated.
func inferRelationships(bySentence map[int][]sentenceMention, sentences []string) []graphmodel.Relationship {
	var out []graphmodel.Relationship
	for si, mentions := range bySentence {
		if len(mentions) < 2 {
			continue
		}
		sentence := ""
		if si < len(sentences) {
			sentence = sentences[si]
		}
		sentenceLen := len(strings.Fields(sentence))
		if sentenceLen == 0 {
			sentenceLen = 1
		}
		for i := 0; i < len(mentions); i++ {
			for j := i + 1; j < len(mentions); j++ {
				a, b := mentions[i], mentions[j]
				distance := abs(a.offset - b.offset)
				strength := 0.5 + 0.5*(1-float64(distance)/float64(sentenceLen))
				if strength > 1 {
					strength = 1
				}
				if strength < 0.5 {
					strength = 0.5
				}
				rel := inferRelationshipVerb(sentence)
				out = append(out, graphmodel.Relationship{
					SourceEntityID: a.entityID,
					TargetEntityID: b.entityID,
					Relationship:   rel,
					Strength:       strength,
				})
			}
		}
	}
	return out
}

func inferRelationshipVerb(sentence string) string {
	lower := strings.ToLower(sentence)
	for _, rv := range relationshipVerbs {
		if strings.Contains(lower, rv.needle) {
			return rv.rel
		}
	}
	return "associated_with"
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
