package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// LookupStage orders the dependent lookup levels.
type LookupStage int

const (
	StageCategory LookupStage = iota
	StageBrand
	StageModel
	StageYear
	StageDetail
)

var LookupStages = []LookupStage{StageCategory, StageBrand, StageModel, StageYear, StageDetail}

func (s LookupStage) String() string {
	switch s {
	case StageCategory:
		return "category"
	case StageBrand:
		return "brand"
	case StageModel:
		return "model"
	case StageYear:
		return "year"
	case StageDetail:
		return "detail"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// RequestAttempt is the bookkeeping for one try of a logical fetch.
type RequestAttempt struct {
	Number      int           // 1-based
	DelayBefore time.Duration // Zero for the first attempt
}

// ZeroKmYear is the model year the catalog uses for brand-new vehicles.
const ZeroKmYear = 32000

// ParseYearCode splits a year code like "2023-1" into the model year and the
// catalog's fuel code.
func ParseYearCode(code string) (year int, fuelCode int, err error) {
	yearPart, fuelPart, ok := strings.Cut(code, "-")
	if !ok {
		return 0, 0, fmt.Errorf("malformed year code %q", code)
	}

	year, err = strconv.Atoi(yearPart)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed year in code %q: %w", code, err)
	}

	fuelCode, err = strconv.Atoi(fuelPart)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed fuel in code %q: %w", code, err)
	}

	return year, fuelCode, nil
}
