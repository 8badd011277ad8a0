package entity

import "strings"

// stopWords excludes common capitalised sentence-leading words from the
// proper-noun-sequence pass.
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "this": true, "that": true,
	"these": true, "those": true, "it": true, "he": true, "she": true,
	"they": true, "we": true, "i": true, "and": true, "but": true, "or": true,
}

// techLexicon is the fixed technology-term list matched case-insensitively.
var techLexicon = map[string]bool{
	"go": true, "golang": true, "python": true, "rust": true, "java": true,
	"kubernetes": true, "docker": true, "postgres": true, "postgresql": true,
	"mysql": true, "redis": true, "kafka": true, "grpc": true, "graphql": true,
	"react": true, "typescript": true, "javascript": true, "linux": true,
	"aws": true, "s3": true, "gcp": true, "azure": true, "tensorflow": true,
	"pytorch": true, "sql": true, "nosql": true, "json": true, "yaml": true,
}

var honorifics = []string{"dr.", "mr.", "mrs.", "ms.", "prof.", "sir", "madam"}

var orgSuffixes = []string{"inc", "inc.", "corp", "corp.", "llc", "ltd", "ltd.", "co.", "company", "foundation", "labs", "group"}

var placeSuffixes = []string{"city", "town", "island", "mountain", "river", "valley", "bay", "county", "province", "republic"}

var codeIdentifierSuffixes = []string{"exception", "error", "manager", "service"}

func hasAnySuffix(lower string, suffixes []string) bool {
	for _, s := range suffixes {
		if strings.HasSuffix(lower, s) {
			return true
		}
	}
	return false
}

func hasAnyPrefix(lower string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}

// relationshipVerbs maps substrings found in a sentence containing two
// co-occurring entities to a relationship type, checked in list order.
var relationshipVerbs = []struct {
	needle string
	rel    string
}{
	{"uses", "uses"},
	{"using", "uses"},
	{"is a", "is_a"},
	{"is an", "is_a"},
	{"has", "has"},
	{"created by", "created_by"},
	{"developed by", "created_by"},
	{"built by", "created_by"},
	{"part of", "part_of"},
	{"depends on", "depends_on"},
	{"similar to", "similar_to"},
	{"related to", "related_to"},
	{"associated with", "associated_with"},
}
