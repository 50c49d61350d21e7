package topics

import "log/slog"

// defaultTaxonomy ships the canonical municipal topic set so the pipeline
// works without an external taxonomy file.
const defaultTaxonomy = `{
  "taxonomy": {
    "housing": {"canonical": "housing", "display_name": "Housing", "synonyms": ["affordable housing", "residential development", "rent control", "tenant", "homelessness", "homeless", "shelter", "adu", "accessory dwelling"]},
    "zoning": {"canonical": "zoning", "display_name": "Zoning & Land Use", "synonyms": ["land use", "rezoning", "variance", "general plan", "specific plan", "conditional use permit", "setback", "annexation"]},
    "budget": {"canonical": "budget", "display_name": "Budget & Finance", "synonyms": ["finance", "fiscal", "appropriation", "general fund", "revenue", "audit", "tax", "bond", "fee schedule", "capital improvement"]},
    "transportation": {"canonical": "transportation", "display_name": "Transportation", "synonyms": ["transit", "traffic", "streets", "roads", "bike lane", "bicycle", "pedestrian", "parking", "bus", "rail", "sidewalk"]},
    "public-safety": {"canonical": "public-safety", "display_name": "Public Safety", "synonyms": ["police", "fire department", "emergency", "crime", "law enforcement", "ambulance", "dispatch", "911"]},
    "parks": {"canonical": "parks", "display_name": "Parks & Recreation", "synonyms": ["park", "recreation", "trails", "open space", "playground", "community center", "library"]},
    "environment": {"canonical": "environment", "display_name": "Environment", "synonyms": ["climate", "sustainability", "recycling", "stormwater", "water quality", "tree", "emissions", "solar", "green"]},
    "utilities": {"canonical": "utilities", "display_name": "Utilities", "synonyms": ["water", "sewer", "electric", "broadband", "garbage", "trash", "waste", "utility rates"]},
    "economic-development": {"canonical": "economic-development", "display_name": "Economic Development", "synonyms": ["business", "downtown", "redevelopment", "small business", "jobs", "tourism", "economic"]},
    "public-health": {"canonical": "public-health", "display_name": "Public Health", "synonyms": ["health", "mental health", "hospital", "clinic", "vaccination"]},
    "education": {"canonical": "education", "display_name": "Education", "synonyms": ["school", "schools", "youth", "childcare", "after school"]},
    "governance": {"canonical": "governance", "display_name": "Governance", "synonyms": ["election", "ordinance", "resolution", "city charter", "appointment", "commission", "ethics", "proclamation", "consent calendar"]},
    "contracts": {"canonical": "contracts", "display_name": "Contracts & Procurement", "synonyms": ["contract", "procurement", "rfp", "bid", "purchase agreement", "professional services agreement"]},
    "other": {"canonical": "other", "display_name": "Other", "synonyms": []}
  },
  "prompt_examples": ["housing", "zoning", "budget", "transportation", "public-safety", "parks", "environment", "utilities", "economic-development", "public-health", "education", "governance", "contracts", "other"]
}`

// Default builds a Normalizer from the built-in taxonomy.
func Default(unknownPath string, logger *slog.Logger) (*Normalizer, error) {
	return Parse([]byte(defaultTaxonomy), unknownPath, logger)
}
