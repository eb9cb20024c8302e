package benefits

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightpath-advice/advicegen/internal/model"
)

func TestBuildSubstitutesSentinels(t *testing.T) {
	raw := model.RawBenefits{
		IncomeProtection: model.BenefitDetail{
			MonthlyAmount: "$4,500",
			WaitPeriod:    "4 weeks",
		},
	}

	s := Build("Alice", raw, "", nil, model.UIState{})

	assert.Equal(t, "$4,500", s.ClientA.IncomeProtection.MonthlyAmount)
	assert.Equal(t, "4 weeks", s.ClientA.IncomeProtection.WaitPeriod)
	assert.Equal(t, NotApplicable, s.ClientA.IncomeProtection.BenefitPeriod)
	assert.Equal(t, NotApplicable, s.ClientA.IncomeProtection.Premium)
	assert.Equal(t, NotApplicable, s.ClientA.MortgageProtection.MonthlyAmount)
	assert.True(t, s.AnyBenefitsExist)
}

func TestBuildIndividualCaseOmitsClientB(t *testing.T) {
	rawB := model.RawBenefits{
		IncomeProtection: model.BenefitDetail{MonthlyAmount: "$3,000"},
	}

	// Client B raw data present but the case is individual: the block must
	// be entirely absent, not empty.
	s := Build("Alice", model.RawBenefits{}, "Bob", &rawB, model.UIState{IsPartner: false})

	assert.Nil(t, s.ClientB)
	assert.False(t, s.AnyBenefitsExist)
}

func TestBuildPartnerCasePopulatesClientB(t *testing.T) {
	rawB := model.RawBenefits{
		MortgageProtection: model.BenefitDetail{
			MonthlyAmount: "$2,200",
			BenefitPeriod: "2 years",
		},
	}

	s := Build("Alice", model.RawBenefits{}, "Bob", &rawB, model.UIState{IsPartner: true})

	require.NotNil(t, s.ClientB)
	assert.Equal(t, "Bob", s.ClientB.Name)
	assert.Equal(t, "$2,200", s.ClientB.MortgageProtection.MonthlyAmount)
	assert.Equal(t, NotApplicable, s.ClientB.IncomeProtection.MonthlyAmount)
	assert.True(t, s.ClientB.HasAny())
	assert.True(t, s.AnyBenefitsExist)
}

func TestBuildPartnerCaseNilRawBStillBuildsBlock(t *testing.T) {
	s := Build("Alice", model.RawBenefits{}, "Bob", nil, model.UIState{IsPartner: true})

	require.NotNil(t, s.ClientB)
	assert.False(t, s.ClientB.HasAny())
	assert.Equal(t, NotApplicable, s.ClientB.IncomeProtection.MonthlyAmount)
}

func TestBlankNameGetsSentinel(t *testing.T) {
	s := Build("  ", model.RawBenefits{}, "", nil, model.UIState{})
	assert.Equal(t, NotApplicable, s.ClientA.Name)
}

func TestHasAnyRequiresRealValue(t *testing.T) {
	var c ClientBenefits
	c.IncomeProtection = BenefitLine{
		MonthlyAmount: NotApplicable,
		WaitPeriod:    NotApplicable,
		BenefitPeriod: NotApplicable,
		Premium:       NotApplicable,
	}
	c.MortgageProtection = c.IncomeProtection
	assert.False(t, c.HasAny())

	c.MortgageProtection.Premium = "$12.50"
	assert.True(t, c.HasAny())
}
