package statistics

import (
	"math"
	"time"

	"github.com/patholab/lis/internal/domain/cases"
)

const (
	DefaultThresholdDays = 7
	MinThresholdDays     = 1
	MaxThresholdDays     = 60
	MinYear              = 2020

	DefaultUrgentLimit = 50
	MaxUrgentLimit     = 500
	DefaultUrgentDays  = 6
	MaxUrgentDays      = 365
)

// UrgentRow is the narrow projection the store returns for urgency detection.
type UrgentRow struct {
	CaseCode        string
	PatientCode     string
	PatientName     string
	EntityName      string
	Samples         []cases.Sample
	PathologistName string
	CreatedAt       time.Time
	State           cases.State
	Priority        cases.Priority
}

type UrgentQuery struct {
	Limit       int
	MinDays     int
	Pathologist string
}

// UrgentCase is an open case that has been in the system for too long.
type UrgentCase struct {
	CaseCode        string         `json:"case_code"`
	PatientCode     string         `json:"patient_code"`
	PatientName     string         `json:"patient_name"`
	EntityName      string         `json:"entity_name"`
	Tests           []string       `json:"tests"`
	PathologistName string         `json:"pathologist_name"`
	CreatedAt       time.Time      `json:"created_at"`
	State           cases.State    `json:"state"`
	Priority        cases.Priority `json:"priority"`
	DaysInSystem    int            `json:"days_in_system"`
}

// TurnaroundRow is a signed case reduced to what opportunity needs.
type TurnaroundRow struct {
	CaseCode        string
	CreatedAt       time.Time
	SignedAt        time.Time
	PathologistID   string
	PathologistName string
	Tests           []cases.TestRef
}

// VolumeRow is a created case reduced to what volume summaries need.
type VolumeRow struct {
	CreatedAt   time.Time
	PatientCode string
}

// CaseFilter narrows analytics to an entity and/or a pathologist (id or name).
type CaseFilter struct {
	Entity      string
	Pathologist string
}

type MonthlyQuery struct {
	Month         int
	Year          int
	ThresholdDays int
	CaseFilter
}

// Breakdown aggregates turnaround for one pathologist or one test.
type Breakdown struct {
	ID               string  `json:"id"`
	Name             string  `json:"name"`
	Total            int     `json:"total"`
	WithinThreshold  int     `json:"within_threshold"`
	OutsideThreshold int     `json:"outside_threshold"`
	OpportunityPct   float64 `json:"opportunity_pct"`
	AvgDays          float64 `json:"avg_days"`
}

type MonthlyReport struct {
	Month            int         `json:"month"`
	Year             int         `json:"year"`
	ThresholdDays    int         `json:"threshold_days"`
	Total            int         `json:"total"`
	WithinThreshold  int         `json:"within_threshold"`
	OutsideThreshold int         `json:"outside_threshold"`
	OpportunityPct   float64     `json:"opportunity_pct"`
	AvgDays          float64     `json:"avg_days"`
	ByPathologist    []Breakdown `json:"by_pathologist"`
	ByTest           []Breakdown `json:"by_test"`
}

type MonthPct struct {
	Month          int     `json:"month"`
	Total          int     `json:"total"`
	OpportunityPct float64 `json:"opportunity_pct"`
}

type YearlyReport struct {
	Year          int        `json:"year"`
	ThresholdDays int        `json:"threshold_days"`
	Months        []MonthPct `json:"months"`
}

// MonthSummary is the headline of one month, without breakdowns.
type MonthSummary struct {
	Month            int     `json:"month"`
	Year             int     `json:"year"`
	Total            int     `json:"total"`
	WithinThreshold  int     `json:"within_threshold"`
	OutsideThreshold int     `json:"outside_threshold"`
	OpportunityPct   float64 `json:"opportunity_pct"`
	AvgDays          float64 `json:"avg_days"`
}

type GeneralReport struct {
	ThresholdDays int          `json:"threshold_days"`
	Current       MonthSummary `json:"current"`
	Previous      MonthSummary `json:"previous"`
	PctChange     float64      `json:"pct_change"`
}

type Comparison struct {
	Current          int     `json:"current"`
	Previous         int     `json:"previous"`
	PreviousPrevious int     `json:"previous_previous"`
	PctChange        float64 `json:"pct_change"`
}

type CurrentMonthReport struct {
	Month    int        `json:"month"`
	Year     int        `json:"year"`
	Patients Comparison `json:"patients"`
	Cases    Comparison `json:"cases"`
}

type CasesByMonth struct {
	Year   int   `json:"year"`
	Months []int `json:"months"`
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// PctChange is round((a-b)/max(b,1)*100, 2).
func PctChange(a, b float64) float64 {
	return round2((a - b) / math.Max(b, 1) * 100)
}

func pct(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return round2(float64(part) / float64(total) * 100)
}
