package model

// Frequency is the premium payment frequency carried on a fact record.
type Frequency string

const (
	FrequencyFortnight Frequency = "fortnight"
	FrequencyMonth     Frequency = "month"
	FrequencyYear      Frequency = "year"
)

// AnnualFactor returns the multiplier that converts an amount at this
// frequency into an annual amount. Unknown frequencies default to monthly.
func (f Frequency) AnnualFactor() float64 {
	switch f {
	case FrequencyFortnight:
		return 26
	case FrequencyYear:
		return 1
	default:
		return 12
	}
}

// CoverType identifies a personal-insurance cover line.
type CoverType string

const (
	CoverLife               CoverType = "life"
	CoverTrauma             CoverType = "trauma"
	CoverTPD                CoverType = "tpd"
	CoverIncomeProtection   CoverType = "income_protection"
	CoverMortgageProtection CoverType = "mortgage_protection"
	CoverAccidentalInjury   CoverType = "accidental_injury"
	CoverPremiumWaiver      CoverType = "premium_waiver"
	CoverHealth             CoverType = "health"
)

// CoverTypes lists every cover type in template display order.
var CoverTypes = []CoverType{
	CoverLife,
	CoverTrauma,
	CoverTPD,
	CoverIncomeProtection,
	CoverMortgageProtection,
	CoverAccidentalInjury,
	CoverPremiumWaiver,
	CoverHealth,
}

// CoverLine is a single extracted cover amount for one cover type.
type CoverLine struct {
	Amount  *float64 `json:"amount"`
	Insurer string   `json:"insurer,omitempty"`
	Notes   string   `json:"notes,omitempty"`
}

// BenefitDetail holds the raw extracted detail for one monthly benefit
// (income or mortgage protection). Fields are raw strings as stated in the
// source documents; blank means not found.
type BenefitDetail struct {
	MonthlyAmount string `json:"monthly_amount,omitempty"`
	WaitPeriod    string `json:"wait_period,omitempty"`
	BenefitPeriod string `json:"benefit_period,omitempty"`
	Premium       string `json:"premium,omitempty"`
}

// RawBenefits groups the two monthly benefits tracked per client.
type RawBenefits struct {
	IncomeProtection   BenefitDetail `json:"income_protection,omitempty"`
	MortgageProtection BenefitDetail `json:"mortgage_protection,omitempty"`
}

// ClientFacts is the per-client slice of a FactRecord.
type ClientFacts struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`

	ExistingInsurer string                  `json:"existing_insurer,omitempty"`
	NewInsurer      string                  `json:"new_insurer,omitempty"`
	ExistingCover   map[CoverType]CoverLine `json:"existing_cover,omitempty"`
	NewCover        map[CoverType]CoverLine `json:"new_cover,omitempty"`

	// Raw per-frequency premium amounts as stated in the quote documents.
	// These are never totals across clients; aggregation is the money
	// package's job.
	ExistingPremium *float64 `json:"existing_premium"`
	NewPremium      *float64 `json:"new_premium"`

	Benefits RawBenefits `json:"benefits,omitempty"`
}

// FactRecord is the normalized output of fact extraction. It deliberately
// has no field for a premium total, delta, or savings figure: aggregates
// are computed downstream from the raw per-client amounts, never extracted.
type FactRecord struct {
	ClientA ClientFacts  `json:"client_a"`
	ClientB *ClientFacts `json:"client_b,omitempty"`

	PremiumFrequency Frequency `json:"premium_frequency,omitempty"`

	Objectives          string `json:"objectives,omitempty"`
	SpecialInstructions string `json:"special_instructions,omitempty"`

	// IncludeSections flags optional document sections the source material
	// supports (keyed by section name).
	IncludeSections map[string]bool `json:"include_sections,omitempty"`

	// MissingFields lists expected facts that were absent from the source
	// documents. Populated instead of guessing.
	MissingFields []string `json:"missing_fields,omitempty"`
}

// HasClientB reports whether a second client was named in the source
// material. Used only as a structural fallback when no UIState was supplied.
func (f *FactRecord) HasClientB() bool {
	return f.ClientB != nil && f.ClientB.Name != ""
}

// KiwiSaverFactRecord is the extraction schema for KiwiSaver advice
// documents. Like FactRecord it carries no computed aggregates; fee and
// performance figures come from the provider data fetch, never from
// extraction.
type KiwiSaverFactRecord struct {
	ClientName  string `json:"client_name,omitempty"`
	ClientEmail string `json:"client_email,omitempty"`

	CurrentProvider string `json:"current_provider,omitempty"`
	CurrentFund     string `json:"current_fund,omitempty"`

	RecommendedProvider string `json:"recommended_provider,omitempty"`
	RecommendedFund     string `json:"recommended_fund,omitempty"`

	Balance          *float64 `json:"balance"`
	ContributionRate string   `json:"contribution_rate,omitempty"`
	RiskProfile      string   `json:"risk_profile,omitempty"`

	Objectives    string   `json:"objectives,omitempty"`
	MissingFields []string `json:"missing_fields,omitempty"`
}

// UIState is the caller-supplied structural truth for a case. When present
// it overrides anything the extraction layer inferred: the model is never
// allowed to decide partner-vs-individual or existing-vs-new structure.
type UIState struct {
	IsPartner bool `json:"is_partner"`

	// HasExistingCover is the case-level toggle; the per-client flags
	// gate which clients contribute to the existing premium total.
	HasExistingCover   bool `json:"has_existing_cover"`
	ClientAHasExisting bool `json:"client_a_has_existing"`
	ClientBHasExisting bool `json:"client_b_has_existing"`
}
