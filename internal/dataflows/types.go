package dataflows

import "time"

// CompanyProfile is the subset of a Finnhub profile the research nodes use.
type CompanyProfile struct {
	Ticker    string  `json:"ticker"`
	Name      string  `json:"name"`
	Exchange  string  `json:"exchange"`
	Industry  string  `json:"finnhubIndustry"`
	Currency  string  `json:"currency"`
	Country   string  `json:"country"`
	MarketCap float64 `json:"marketCapitalization"`
	WebURL    string  `json:"weburl"`
}

// Observation is one FRED series data point. FRED reports missing values
// as "."; those come back with Valid=false.
type Observation struct {
	Series string
	Date   time.Time
	Value  float64
	Valid  bool
}

// Filing is one EDGAR submission entry.
type Filing struct {
	CIK             string    `json:"cik"`
	Form            string    `json:"form"`
	AccessionNumber string    `json:"accession_number"`
	PrimaryDocument string    `json:"primary_document"`
	FiledAt         time.Time `json:"filed_at"`
}
