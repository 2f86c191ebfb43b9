package model

import "time"

// Statistics holds windowed fraud figures for one transaction type.
type Statistics struct {
	TransactionType  TransactionType `json:"transaction_type"`
	Scored5Min       int             `json:"scored_5m"`
	Scored1H         int             `json:"scored_1h"`
	Scored24H        int             `json:"scored_24h"`
	Flagged5Min      int             `json:"flagged_5m"`
	Flagged1H        int             `json:"flagged_1h"`
	Flagged24H       int             `json:"flagged_24h"`
	FlaggedAmount24H float64         `json:"flagged_amount_24h"`
	LastUpdate       time.Time       `json:"last_update"`
}
