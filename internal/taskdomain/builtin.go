package taskdomain

import "github.com/ibdm-lab/isu-engine/internal/domain"

// Built-in domain names.
const (
	DomainNDA    = "nda"
	DomainTravel = "travel"
)

// NDADomain returns the non-disclosure agreement drafting domain.
func NDADomain() *Model {
	m := NewModel(DomainNDA)

	m.AddPredicate(PredicateSpec{Name: "legal_entities", Arity: 1, ArgTypes: []string{"organization"},
		Description: "Which parties are entering into this NDA?"})
	m.AddPredicate(PredicateSpec{Name: "nda_type", Arity: 1, ArgTypes: []string{"nda_kind"},
		Description: "Should the NDA be mutual or one-way?"})
	m.AddPredicate(PredicateSpec{Name: "effective_date", Arity: 1, ArgTypes: []string{"date"},
		Description: "What is the effective date of the agreement?"})
	m.AddPredicate(PredicateSpec{Name: "time_period", Arity: 1, ArgTypes: []string{"duration"},
		Description: "How long should the confidentiality obligations last?"})
	m.AddPredicate(PredicateSpec{Name: "jurisdiction", Arity: 1, ArgTypes: []string{"state"},
		Description: "Which state's law should govern the agreement?"})

	m.AddSort("nda_kind", "mutual", "one-way")
	m.AddSort("state", "California", "Delaware", "New York")

	m.AddQuestion(domain.WhQuestion{Variable: "x", Pred: "legal_entities"})
	m.AddQuestion(domain.AltQuestion{Alternatives: []string{"mutual", "one-way"}, Pred: "nda_type"})
	m.AddQuestion(domain.WhQuestion{Variable: "x", Pred: "effective_date"})
	m.AddQuestion(domain.WhQuestion{Variable: "x", Pred: "time_period"})
	m.AddQuestion(domain.AltQuestion{Alternatives: []string{"California", "Delaware", "New York"}, Pred: "jurisdiction"})

	m.RegisterPlanBuilder(string(domain.PlanNDADrafting),
		taskPlan(m, domain.PlanNDADrafting, "legal_entities", "nda_type", "effective_date", "time_period", "jurisdiction"),
		"nda", "non-disclosure", "confidentiality agreement")
	return m
}

// TravelDomain returns the travel booking domain. The price quote depends on
// the travel class, so revising the class retracts the quote.
func TravelDomain() *Model {
	m := NewModel(DomainTravel)

	m.AddPredicate(PredicateSpec{Name: "depart_city", Arity: 1, ArgTypes: []string{"city"},
		Description: "Which city are you departing from?"})
	m.AddPredicate(PredicateSpec{Name: "dest_city", Arity: 1, ArgTypes: []string{"city"},
		Description: "Where would you like to travel to?"})
	m.AddPredicate(PredicateSpec{Name: "depart_day", Arity: 1, ArgTypes: []string{"day"},
		Description: "Which day do you want to leave?"})
	m.AddPredicate(PredicateSpec{Name: "travel_class", Arity: 1, ArgTypes: []string{"class"},
		Description: "Would you like economy, business or first class?"})
	m.AddPredicate(PredicateSpec{Name: "price_quote", Arity: 1, ArgTypes: []string{"price"},
		Description: "What price are you willing to pay?"})
	m.AddPredicate(PredicateSpec{Name: "special_requests", Arity: 1, ArgTypes: []string{"text"},
		Description: "Do you have any special requests?"})

	m.AddSort("class", "economy", "business", "first")

	m.AddQuestion(domain.WhQuestion{Variable: "x", Pred: "depart_city"})
	m.AddQuestion(domain.WhQuestion{Variable: "x", Pred: "dest_city"})
	m.AddQuestion(domain.WhQuestion{Variable: "x", Pred: "depart_day"})
	m.AddQuestion(domain.WhQuestion{Variable: "x", Pred: "travel_class"})
	m.AddQuestion(domain.WhQuestion{Variable: "x", Pred: "price_quote"})
	m.AddQuestion(domain.WhQuestion{Variable: "x", Pred: "special_requests", Optional: true})

	m.AddDependency("price_quote", "travel_class")

	m.RegisterPlanBuilder(string(domain.PlanTravelBooking),
		taskPlan(m, domain.PlanTravelBooking, "depart_city", "dest_city", "depart_day", "travel_class", "price_quote", "special_requests"),
		"book", "trip", "flight", "travel")
	return m
}

// taskPlan builds a flat plan of findouts over the canonical questions of preds.
func taskPlan(m *Model, typ domain.PlanType, preds ...string) PlanBuilder {
	return func(map[string]any) (*domain.Plan, error) {
		plan := &domain.Plan{Type: typ, Text: string(typ), Status: domain.PlanActive}
		for _, p := range preds {
			q, ok := m.Question(p)
			if !ok {
				return nil, domain.NewEngineError(domain.ErrUnknownPredicate.Code,
					domain.ErrUnknownPredicate.Message+": "+p)
			}
			plan.Subplans = append(plan.Subplans, domain.NewFindout(q))
		}
		return plan, nil
	}
}
