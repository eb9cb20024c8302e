package extract

import (
	"strings"

	"github.com/brightpath-advice/advicegen/internal/model"
	"github.com/brightpath-advice/advicegen/internal/money"
)

// remapLoose coerces a loosely-shaped response map into the strict record
// shape. It tolerates camelCase key drift and two historical layouts: the
// nested {"client_a": {...}} form and a flat form with "_a"/"_b" suffixed
// keys at the top level. Returns nil when the map holds nothing usable.
func remapLoose(loose map[string]any) *model.FactRecord {
	record := &model.FactRecord{}
	found := false

	if m := lookupMap(loose, "client_a", "clientA", "clientOne", "client_1"); m != nil {
		record.ClientA = remapClient(m)
		found = true
	}
	if m := lookupMap(loose, "client_b", "clientB", "clientTwo", "client_2"); m != nil {
		cb := remapClient(m)
		record.ClientB = &cb
		found = true
	}

	// Flat layout: per-client fields suffixed at the top level.
	if !found {
		a := remapFlatClient(loose, "_a")
		b := remapFlatClient(loose, "_b")
		if a != nil {
			record.ClientA = *a
			found = true
		}
		if b != nil {
			record.ClientB = b
			found = true
		}
	}

	if s := lookupString(loose, "premium_frequency", "premiumFrequency", "frequency"); s != "" {
		if f, ok := normalizeFrequency(s); ok {
			record.PremiumFrequency = f
			found = true
		}
	}
	record.Objectives = lookupString(loose, "objectives", "goals", "client_objectives", "clientObjectives")
	record.SpecialInstructions = lookupString(loose, "special_instructions", "specialInstructions", "instructions")
	if record.Objectives != "" || record.SpecialInstructions != "" {
		found = true
	}

	if m := lookupMap(loose, "include_sections", "includeSections", "sections"); m != nil {
		record.IncludeSections = make(map[string]bool, len(m))
		for k, v := range m {
			if b, ok := v.(bool); ok {
				record.IncludeSections[k] = b
			}
		}
	}
	if list := lookupSlice(loose, "missing_fields", "missingFields", "missing"); list != nil {
		for _, v := range list {
			if s, ok := v.(string); ok && s != "" {
				record.MissingFields = append(record.MissingFields, s)
			}
		}
	}

	if !found {
		return nil
	}
	return record
}

func remapClient(m map[string]any) model.ClientFacts {
	c := model.ClientFacts{
		Name:            lookupString(m, "name", "client_name", "clientName", "full_name", "fullName"),
		Email:           lookupString(m, "email", "email_address", "emailAddress"),
		Phone:           lookupString(m, "phone", "phone_number", "phoneNumber", "mobile"),
		ExistingInsurer: lookupString(m, "existing_insurer", "existingInsurer", "current_insurer", "currentInsurer"),
		NewInsurer:      lookupString(m, "new_insurer", "newInsurer", "recommended_insurer", "recommendedInsurer"),
		ExistingPremium: lookupAmount(m, "existing_premium", "existingPremium", "current_premium", "currentPremium"),
		NewPremium:      lookupAmount(m, "new_premium", "newPremium", "recommended_premium", "recommendedPremium"),
	}

	if covers := lookupMap(m, "existing_cover", "existingCover", "current_cover", "currentCover"); covers != nil {
		c.ExistingCover = remapCovers(covers)
	}
	if covers := lookupMap(m, "new_cover", "newCover", "recommended_cover", "recommendedCover"); covers != nil {
		c.NewCover = remapCovers(covers)
	}
	if benefits := lookupMap(m, "benefits", "benefit_details", "benefitDetails"); benefits != nil {
		if ip := lookupMap(benefits, "income_protection", "incomeProtection", "ip"); ip != nil {
			c.Benefits.IncomeProtection = remapBenefit(ip)
		}
		if mp := lookupMap(benefits, "mortgage_protection", "mortgageProtection", "mp"); mp != nil {
			c.Benefits.MortgageProtection = remapBenefit(mp)
		}
	}
	return c
}

// remapFlatClient collects "_a"/"_b" suffixed top-level keys into a client.
func remapFlatClient(loose map[string]any, suffix string) *model.ClientFacts {
	c := model.ClientFacts{
		Name:            lookupString(loose, "client"+suffix+"_name", "name"+suffix, "client_name"+suffix),
		ExistingPremium: lookupAmount(loose, "existing_premium"+suffix, "current_premium"+suffix),
		NewPremium:      lookupAmount(loose, "new_premium"+suffix, "recommended_premium"+suffix),
	}
	if c.Name == "" && c.ExistingPremium == nil && c.NewPremium == nil {
		return nil
	}
	return &c
}

func remapCovers(m map[string]any) map[model.CoverType]model.CoverLine {
	out := make(map[model.CoverType]model.CoverLine)
	for key, v := range m {
		ct, ok := normalizeCoverType(key)
		if !ok {
			continue
		}
		switch val := v.(type) {
		case map[string]any:
			out[ct] = model.CoverLine{
				Amount:  lookupAmount(val, "amount", "sum_insured", "sumInsured", "value"),
				Insurer: lookupString(val, "insurer", "provider"),
				Notes:   lookupString(val, "notes", "note", "comment"),
			}
		case float64:
			amt := val
			out[ct] = model.CoverLine{Amount: &amt}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func normalizeCoverType(key string) (model.CoverType, bool) {
	k := strings.ToLower(strings.TrimSpace(key))
	k = strings.NewReplacer(" ", "_", "-", "_").Replace(k)
	switch k {
	case "life", "life_cover", "lifecover":
		return model.CoverLife, true
	case "trauma", "critical_illness", "criticalillness":
		return model.CoverTrauma, true
	case "tpd", "total_permanent_disability", "totalpermanentdisability":
		return model.CoverTPD, true
	case "income_protection", "incomeprotection", "ip":
		return model.CoverIncomeProtection, true
	case "mortgage_protection", "mortgageprotection", "mp":
		return model.CoverMortgageProtection, true
	case "accidental_injury", "accidentalinjury":
		return model.CoverAccidentalInjury, true
	case "premium_waiver", "premiumwaiver", "waiver_of_premium", "waiverofpremium":
		return model.CoverPremiumWaiver, true
	case "health", "medical", "health_cover":
		return model.CoverHealth, true
	}
	return "", false
}

func remapBenefit(m map[string]any) model.BenefitDetail {
	return model.BenefitDetail{
		MonthlyAmount: lookupString(m, "monthly_amount", "monthlyAmount", "amount"),
		WaitPeriod:    lookupString(m, "wait_period", "waitPeriod", "wait"),
		BenefitPeriod: lookupString(m, "benefit_period", "benefitPeriod", "term"),
		Premium:       lookupString(m, "premium"),
	}
}

func lookupMap(m map[string]any, keys ...string) map[string]any {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if sub, ok := v.(map[string]any); ok {
				return sub
			}
		}
	}
	return nil
}

func lookupSlice(m map[string]any, keys ...string) []any {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if list, ok := v.([]any); ok {
				return list
			}
		}
	}
	return nil
}

func lookupString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}

// lookupAmount coerces numeric and numeric-string values; it never invents
// a value for unparsable input.
func lookupAmount(m map[string]any, keys ...string) *float64 {
	for _, k := range keys {
		v, ok := m[k]
		if !ok || v == nil {
			continue
		}
		switch val := v.(type) {
		case float64:
			f := val
			return &f
		case string:
			if f := money.ParseDollar(val); f != nil {
				return f
			}
		}
	}
	return nil
}
