package mapping

import (
	"context"
	"regexp"
	"testing"

	"github.com/stretchr/testify/suite"

	"canon/internal/entity"
	"canon/internal/lens"
)

type MappingSuite struct {
	suite.Suite
	contract *lens.Contract
}

func TestMappingSuite(t *testing.T) {
	suite.Run(t, new(MappingSuite))
}

func (s *MappingSuite) SetupTest() {
	s.contract = lens.NewContract(lens.Parts{
		ID:   "test",
		Hash: "h",
		Registry: map[entity.Dimension]map[string]lens.CanonicalValue{
			entity.DimensionActivity:  {"padel": {Value: "padel"}, "tennis": {Value: "tennis"}},
			entity.DimensionPlaceType: {"sports_centre": {Value: "sports_centre"}},
			entity.DimensionAccess:    {"public": {Value: "public"}},
		},
		Rules: []lens.MappingRule{
			{ID: "padel-name", Dimension: entity.DimensionActivity, Value: "padel", Pattern: regexp.MustCompile(`(?i)\bpadel\b`), Confidence: 0.9},
			{ID: "padel-tags", Dimension: entity.DimensionActivity, Value: "padel", Pattern: regexp.MustCompile(`(?i)padel`), Fields: []string{entity.FieldCategories}, Confidence: 0.7},
			{ID: "tennis", Dimension: entity.DimensionActivity, Value: "tennis", Pattern: regexp.MustCompile(`(?i)tennis`), Confidence: 1},
			{ID: "centre", Dimension: entity.DimensionPlaceType, Value: "sports_centre", Pattern: regexp.MustCompile(`(?i)centre|club`), Confidence: 1},
			{ID: "public-obs", Dimension: entity.DimensionAccess, Value: "public", Pattern: regexp.MustCompile(`(?i)^public$`), Fields: []string{"access"}, Confidence: 1},
			{ID: "orphan", Dimension: entity.DimensionRole, Value: "coach", Pattern: regexp.MustCompile(`.`), Confidence: 1},
		},
	})
}

// =============================================================================
// Rule evaluation
// =============================================================================

func (s *MappingSuite) TestDefaultFieldsAndDedup() {
	e := entity.ExtractedEntity{
		ID:          "e1",
		Name:        "Leith Padel Club",
		Description: "Tennis and padel",
		Categories:  []string{"padel"},
	}

	res := Apply(e, s.contract)

	s.Equal([]string{"padel", "tennis"}, res.Dimensions.Activities)
	s.Equal([]string{"sports_centre"}, res.Dimensions.PlaceTypes)
	s.Empty(res.Dimensions.Access)
	s.NotNil(res.Dimensions.Roles)
}

func (s *MappingSuite) TestFirstMatchPerRuleRecordsField() {
	e := entity.ExtractedEntity{Name: "Padel Place", Description: "padel courts"}

	res := Apply(e, s.contract)

	s.Require().NotEmpty(res.Matches)
	s.Equal("padel-name", res.Matches[0].RuleID)
	s.Equal(entity.FieldName, res.Matches[0].Field)
	s.Equal(0.9, res.Matches[0].Confidence)
}

func (s *MappingSuite) TestDeclaredFieldsRestrictInspection() {
	s.Run("observation field", func() {
		res := Apply(entity.ExtractedEntity{Observations: map[string]string{"access": "Public"}}, s.contract)
		s.Equal([]string{"public"}, res.Dimensions.Access)
	})

	s.Run("not inspected elsewhere", func() {
		res := Apply(entity.ExtractedEntity{Description: "public"}, s.contract)
		s.Empty(res.Dimensions.Access)
	})
}

func (s *MappingSuite) TestNeverEmitsUnregisteredValues() {
	res := Apply(entity.ExtractedEntity{Name: "anything"}, s.contract)

	s.Empty(res.Dimensions.Roles)
	for _, o := range res.Outcomes {
		if o.RuleID == "orphan" {
			s.False(o.Matched)
		}
	}
}

func (s *MappingSuite) TestDoesNotMutateInput() {
	e := entity.ExtractedEntity{Name: "Padel", Categories: []string{"b", "a"}}
	before := append([]string(nil), e.Categories...)

	Apply(e, s.contract)

	s.Equal(before, e.Categories)
}

func (s *MappingSuite) TestEngineReportsEveryRule() {
	engine := NewEngine()
	res := engine.Apply(context.Background(), lens.NewExecutionContext(s.contract), entity.ExtractedEntity{Name: "x"})

	s.Len(res.Outcomes, len(s.contract.MappingRules()))
}
