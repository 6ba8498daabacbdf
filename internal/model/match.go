package model

import "encoding/json"

// Confidence is the coarse match quality reported to consumers.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
	ConfidenceNone   Confidence = "none"
)

// Method names the strategy that produced a match.
type Method string

const (
	MethodSequence  Method = "sequence"
	MethodMutation  Method = "mutation"
	MethodAlias     Method = "alias"
	MethodUnmatched Method = "unmatched"
)

// Tier is the closed set of match strategies. Confidence, method and score
// are derived from the tier, so no other combination can be produced.
type Tier int

const (
	TierNone Tier = iota
	TierAlias
	TierMutation
	TierSequence
)

// Confidence returns the confidence level of the tier.
func (t Tier) Confidence() Confidence {
	switch t {
	case TierSequence:
		return ConfidenceHigh
	case TierMutation:
		return ConfidenceMedium
	case TierAlias:
		return ConfidenceLow
	default:
		return ConfidenceNone
	}
}

// Method returns the match method of the tier.
func (t Tier) Method() Method {
	switch t {
	case TierSequence:
		return MethodSequence
	case TierMutation:
		return MethodMutation
	case TierAlias:
		return MethodAlias
	default:
		return MethodUnmatched
	}
}

// Score returns the fixed score of the tier.
func (t Tier) Score() float64 {
	switch t {
	case TierSequence:
		return 1.0
	case TierMutation:
		return 0.8
	case TierAlias:
		return 0.7
	default:
		return 0.0
	}
}

func (t Tier) String() string { return string(t.Method()) }

// Matched reports whether the tier resolved an entity.
func (t Tier) Matched() bool { return t > TierNone }

// MatchResult is the outcome of matching one row against the entity store.
type MatchResult struct {
	EntityID   string
	EntityKind EntityKind
	EntityName string
	Generation int
	Tier       Tier
	// Reason explains why a row is unmatched; empty for matches.
	Reason string
}

// Unmatched builds a no-match result carrying reason.
func Unmatched(reason string) MatchResult {
	return MatchResult{Tier: TierNone, Reason: reason}
}

// Confidence returns the derived confidence.
func (m MatchResult) Confidence() Confidence { return m.Tier.Confidence() }

// Method returns the derived method.
func (m MatchResult) Method() Method { return m.Tier.Method() }

// Score returns the derived score.
func (m MatchResult) Score() float64 { return m.Tier.Score() }

// Matched reports whether an entity was resolved.
func (m MatchResult) Matched() bool { return m.Tier.Matched() && m.EntityID != "" }

type matchResultJSON struct {
	EntityID   *string    `json:"entity_id"`
	EntityKind EntityKind `json:"entity_kind,omitempty"`
	EntityName string     `json:"entity_name,omitempty"`
	Confidence Confidence `json:"confidence"`
	Method     Method     `json:"method"`
	Score      float64    `json:"score"`
	Reason     string     `json:"reason,omitempty"`
}

// MarshalJSON emits the derived confidence, method and score alongside the
// entity reference. Unmatched results carry a null entity_id.
func (m MatchResult) MarshalJSON() ([]byte, error) {
	out := matchResultJSON{
		EntityKind: m.EntityKind,
		EntityName: m.EntityName,
		Confidence: m.Confidence(),
		Method:     m.Method(),
		Score:      m.Score(),
		Reason:     m.Reason,
	}
	if m.Matched() {
		id := m.EntityID
		out.EntityID = &id
	}
	return json.Marshal(out)
}
