package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aurora-assistant/ragmemory/internal/graphmodel"
)

func TestExtract_ProperNounSequence(t *testing.T) {
	x, err := New()
	require.NoError(t, err)
	result := x.Extract("The Eiffel Tower is in Paris.")
	var names []string
	for _, e := range result.Entities {
		names = append(names, e.Name)
	}
	assert.Contains(t, names, "Eiffel Tower")
	assert.Contains(t, names, "Paris")
}

func TestExtract_TechLexiconMatch(t *testing.T) {
	x, err := New()
	require.NoError(t, err)
	result := x.Extract("We deployed it with Kubernetes and Docker.")
	var tech []string
	for _, e := range result.Entities {
		if e.Type == graphmodel.EntityTechnology {
			tech = append(tech, e.Name)
		}
	}
	assert.Contains(t, tech, "Kubernetes")
	assert.Contains(t, tech, "Docker")
}

func TestExtract_CamelCaseIdentifier(t *testing.T) {
	x, err := New()
	require.NoError(t, err)
	result := x.Extract("The error was raised by NullPointerException during the call.")
	found := false
	for _, e := range result.Entities {
		if e.Name == "NullPointerException" {
			found = true
			assert.Equal(t, graphmodel.EntityCodeIdentifier, e.Type)
		}
	}
	assert.True(t, found, "expected NullPointerException to be extracted")
}

func TestExtract_ConceptPattern_CreatedBy(t *testing.T) {
	x, err := New()
	require.NoError(t, err)
	result := x.Extract("The framework was created by Google Research.")
	found := false
	for _, e := range result.Entities {
		if e.Name == "Google Research" {
			found = true
			assert.Equal(t, graphmodel.EntityOrganization, e.Type)
		}
	}
	assert.True(t, found)
}

func TestExtract_TypeClassifier_Honorific(t *testing.T) {
	x, err := New()
	require.NoError(t, err)
	result := x.Extract("Dr. Smith reviewed the paper.")
	var smith *graphmodel.Entity
	for i, e := range result.Entities {
		if e.Name == "Smith" {
			smith = &result.Entities[i]
		}
	}
	require.NotNil(t, smith)
}

func TestExtract_Deduplication_KeepsHighestConfidence(t *testing.T) {
	x, err := New()
	require.NoError(t, err)
	result := x.Extract("Docker runs containers. Docker is popular.")
	count := 0
	for _, e := range result.Entities {
		if e.Name == "Docker" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestExtract_RelationshipsBetweenCoOccurringEntities(t *testing.T) {
	x, err := New()
	require.NoError(t, err)
	result := x.Extract("Kubernetes uses Docker containers.")
	require.NotEmpty(t, result.Relationships)
	for _, r := range result.Relationships {
		assert.GreaterOrEqual(t, r.Strength, 0.5)
		assert.LessOrEqual(t, r.Strength, 1.0)
	}
}

func TestExtract_EmptyContent_NoPanic(t *testing.T) {
	x, err := New()
	require.NoError(t, err)
	result := x.Extract("")
	assert.Empty(t, result.Entities)
}

func TestExtract_JapaneseText_ExtractsNounEntities(t *testing.T) {
	x, err := New()
	require.NoError(t, err)
	result := x.Extract("東京タワーは日本にあります。")
	var names []string
	for _, e := range result.Entities {
		names = append(names, e.Name)
	}
	assert.NotEmpty(t, names)
}
