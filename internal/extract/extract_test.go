package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightpath-advice/advicegen/internal/config"
	"github.com/brightpath-advice/advicegen/internal/model"
	"github.com/brightpath-advice/advicegen/internal/resilience"
	"github.com/brightpath-advice/advicegen/pkg/llm"
)

// scriptedClient returns canned responses in order, then repeats the last.
type scriptedClient struct {
	responses []string
	calls     int
	err       error
}

func (c *scriptedClient) CreateMessage(_ context.Context, _ llm.MessageRequest) (*llm.MessageResponse, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	i := c.calls - 1
	if i >= len(c.responses) {
		i = len(c.responses) - 1
	}
	return &llm.MessageResponse{
		Content: []llm.ContentBlock{{Type: "text", Text: c.responses[i]}},
	}, nil
}

func newTestAdapter(client llm.Client) *Adapter {
	a := New(client, "claude-haiku-4-5-20251001", config.ExtractConfig{
		TranscriptBudget:  24000,
		QuoteBudget:       16000,
		NotesBudget:       12000,
		MaxOutputTokens:   4096,
		RetryOutputTokens: 2048,
	})
	// No backoff sleeps in tests.
	a.retry = resilience.RetryConfig{MaxAttempts: 1}
	return a
}

const strictResponse = `Here is the extraction:
` + "```json" + `
{
  "client_a": {"name": "John Smith", "existing_insurer": "AIA", "new_insurer": "Partners Life",
    "existing_cover": {"life": {"amount": 500000, "insurer": "AIA"}},
    "existing_premium": 37.96, "new_premium": 68.49},
  "client_b": {"name": "Jane Smith", "existing_premium": 22.68, "new_premium": 38.85},
  "premium_frequency": "fortnight",
  "objectives": "Protect mortgage and income",
  "missing_fields": ["client A phone number"]
}
` + "```"

func TestExtract_StrictParse(t *testing.T) {
	client := &scriptedClient{responses: []string{strictResponse}}
	a := newTestAdapter(client)

	record, err := a.Extract(context.Background(), Inputs{Transcript: "meeting"}, model.DocStatementOfAdvice)
	require.NoError(t, err)
	assert.Equal(t, 1, client.calls)

	assert.Equal(t, "John Smith", record.ClientA.Name)
	require.NotNil(t, record.ClientA.ExistingPremium)
	assert.InDelta(t, 37.96, *record.ClientA.ExistingPremium, 0.001)
	require.NotNil(t, record.ClientB)
	assert.InDelta(t, 38.85, *record.ClientB.NewPremium, 0.001)
	assert.Equal(t, model.FrequencyFortnight, record.PremiumFrequency)
	require.Contains(t, record.ClientA.ExistingCover, model.CoverLife)
	assert.InDelta(t, 500000, *record.ClientA.ExistingCover[model.CoverLife].Amount, 0.001)
	assert.Equal(t, []string{"client A phone number"}, record.MissingFields)
}

func TestExtract_RecordHasNoAggregates(t *testing.T) {
	// A response carrying computed totals fails the strict parse (unknown
	// keys) and survives only through the forgiving remap, which has no
	// destination for aggregate fields.
	resp := `{"client_a": {"name": "John", "new_premium": 68.49}, "total_premium": 107.34, "savings": 46.70, "premium_frequency": "month"}`
	a := newTestAdapter(&scriptedClient{responses: []string{resp}})

	record, err := a.Extract(context.Background(), Inputs{Transcript: "x"}, model.DocStatementOfAdvice)
	require.NoError(t, err)
	assert.Equal(t, "John", record.ClientA.Name)
	assert.InDelta(t, 68.49, *record.ClientA.NewPremium, 0.001)
}

func TestExtract_ForgivingRemap_CamelCase(t *testing.T) {
	resp := `{"clientA": {"fullName": "John Smith", "currentPremium": "37.96", "recommendedPremium": 68.49,
		"currentCover": {"Life Cover": 500000, "incomeProtection": {"amount": 4500}}},
		"premiumFrequency": "Fortnightly", "goals": "cover the mortgage"}`
	a := newTestAdapter(&scriptedClient{responses: []string{resp}})

	record, err := a.Extract(context.Background(), Inputs{Transcript: "x"}, model.DocStatementOfAdvice)
	require.NoError(t, err)

	assert.Equal(t, "John Smith", record.ClientA.Name)
	require.NotNil(t, record.ClientA.ExistingPremium)
	assert.InDelta(t, 37.96, *record.ClientA.ExistingPremium, 0.001)
	assert.Equal(t, model.FrequencyFortnight, record.PremiumFrequency)
	assert.Equal(t, "cover the mortgage", record.Objectives)
	assert.InDelta(t, 500000, *record.ClientA.ExistingCover[model.CoverLife].Amount, 0.001)
	assert.InDelta(t, 4500, *record.ClientA.ExistingCover[model.CoverIncomeProtection].Amount, 0.001)
	assert.Nil(t, record.ClientB)
}

func TestExtract_ForgivingRemap_FlatLayout(t *testing.T) {
	resp := `{"client_a_name": "John", "client_b_name": "Jane", "existing_premium_a": 37.96, "new_premium_a": 68.49, "new_premium_b": "$38.85/fortnight", "premium_frequency": "fortnight"}`
	a := newTestAdapter(&scriptedClient{responses: []string{resp}})

	record, err := a.Extract(context.Background(), Inputs{}, model.DocStatementOfAdvice)
	require.NoError(t, err)

	assert.Equal(t, "John", record.ClientA.Name)
	require.NotNil(t, record.ClientB)
	assert.Equal(t, "Jane", record.ClientB.Name)
	require.NotNil(t, record.ClientB.NewPremium)
	assert.InDelta(t, 38.85, *record.ClientB.NewPremium, 0.001)
}

func TestExtract_SimplifiedRetry(t *testing.T) {
	client := &scriptedClient{responses: []string{
		"no json here at all",
		`{"client_a_name": "John", "new_premium_a": 68.49, "premium_frequency": "month", "missing_fields": ["existing cover"]}`,
	}}
	a := newTestAdapter(client)

	record, err := a.Extract(context.Background(), Inputs{Transcript: "x"}, model.DocStatementOfAdvice)
	require.NoError(t, err)
	assert.Equal(t, 2, client.calls)

	assert.Equal(t, "John", record.ClientA.Name)
	require.NotNil(t, record.ClientA.NewPremium)
	assert.InDelta(t, 68.49, *record.ClientA.NewPremium, 0.001)
	assert.Equal(t, model.FrequencyMonth, record.PremiumFrequency)
	assert.Contains(t, record.MissingFields, "existing cover")
}

func TestExtract_TotalFailureYieldsEmptyRecord(t *testing.T) {
	client := &scriptedClient{responses: []string{"garbage", "more garbage"}}
	a := newTestAdapter(client)

	record, err := a.Extract(context.Background(), Inputs{Transcript: "x"}, model.DocStatementOfAdvice)
	require.NoError(t, err)
	assert.Equal(t, 2, client.calls)

	assert.Contains(t, record.MissingFields, MissingManualReview)
	assert.Empty(t, record.ClientA.Name)
	assert.Nil(t, record.ClientB)
}

func TestExtract_ServiceUnreachableIsFatal(t *testing.T) {
	a := newTestAdapter(&scriptedClient{err: errors.New("connection refused")})

	_, err := a.Extract(context.Background(), Inputs{Transcript: "x"}, model.DocStatementOfAdvice)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "call extraction service")
}

func TestExtract_NameOverridesWin(t *testing.T) {
	resp := `{"client_a": {"name": "Jon Smyth"}, "premium_frequency": "month"}`
	a := newTestAdapter(&scriptedClient{responses: []string{resp}})

	record, err := a.Extract(context.Background(), Inputs{
		ClientAName: "John Smith",
		ClientBName: "Jane Smith",
	}, model.DocStatementOfAdvice)
	require.NoError(t, err)

	assert.Equal(t, "John Smith", record.ClientA.Name)
	require.NotNil(t, record.ClientB)
	assert.Equal(t, "Jane Smith", record.ClientB.Name)
}

func TestValidateRecord_RejectsNegativePremium(t *testing.T) {
	neg := -5.0
	err := validateRecord(&model.FactRecord{
		ClientA: model.ClientFacts{NewPremium: &neg},
	})
	require.Error(t, err)
}

func TestValidateRecord_NormalizesFrequency(t *testing.T) {
	record := &model.FactRecord{PremiumFrequency: "Monthly"}
	require.NoError(t, validateRecord(record))
	assert.Equal(t, model.FrequencyMonth, record.PremiumFrequency)

	record = &model.FactRecord{PremiumFrequency: "weekly"}
	require.Error(t, validateRecord(record))
}

func TestCleanJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare object", `{"a": 1}`, `{"a": 1}`},
		{"fenced", "```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"surrounding prose", `Sure! {"a": 1} Hope that helps.`, `{"a": 1}`},
		{"no object", "no json", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cleanJSON(tt.in))
		})
	}
}

func TestBuildPrompt_BudgetsAndPriority(t *testing.T) {
	a := New(nil, "m", config.ExtractConfig{TranscriptBudget: 10, QuoteBudget: 100, NotesBudget: 100})

	long := make([]byte, 100)
	for i := range long {
		long[i] = 'x'
	}
	prompt := a.buildPrompt(Inputs{
		Transcript:   string(long),
		QuoteText:    "quote text",
		AdviserNotes: "notes text",
	}, model.DocStatementOfAdvice)

	assert.Contains(t, prompt, "Adviser Notes (primary, authoritative)")
	assert.Contains(t, prompt, "quote text")
	// Transcript cut to its 10-char budget.
	assert.Contains(t, prompt, "xxxxxxxxxx")
	assert.NotContains(t, prompt, "xxxxxxxxxxx")
}

func TestBuildPrompt_DeviationOnlyForAmendments(t *testing.T) {
	a := New(nil, "m", config.ExtractConfig{NotesBudget: 100})
	in := Inputs{DeviationNotes: "implemented trauma at 80k instead of 100k"}

	soa := a.buildPrompt(in, model.DocStatementOfAdvice)
	assert.NotContains(t, soa, "Deviation")

	roa := a.buildPrompt(in, model.DocRecordOfAdvice)
	assert.Contains(t, roa, "implemented trauma at 80k")
}
