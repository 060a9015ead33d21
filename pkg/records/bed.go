package records

import (
	"math"
	"sort"

	"github.com/erboard/erboard/pkg/xmlresp"
)

// Status classifies general-bed availability.
type Status string

const (
	StatusNormal   Status = "normal"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
	StatusNA       Status = "na"
)

// Availability thresholds, percent of beds still available.
const (
	criticalPercent = 5
	warningPercent  = 40
)

// StatusFor classifies available out of total. No beds at all is StatusNA.
func StatusFor(available, total int) Status {
	if total == 0 {
		return StatusNA
	}
	pct := float64(available) / float64(total) * 100
	switch {
	case pct <= criticalPercent:
		return StatusCritical
	case pct <= warningPercent:
		return StatusWarning
	default:
		return StatusNormal
	}
}

// BedInfo is one hospital's real-time bed availability.
// hv* fields are available counts, hvs* the matching totals.
type BedInfo struct {
	HPID          string `json:"hpid"`
	DutyName      string `json:"dutyName"`
	DutyEmclsName string `json:"dutyEmclsName"`
	HPBD          string `json:"hpbd"`
	DutyAddr      string `json:"dutyAddr"`
	DutyTel3      string `json:"dutyTel3"`

	HVEC  int `json:"hvec"`
	HVS01 int `json:"hvs01"`
	HV27  int `json:"hv27"`
	HVS59 int `json:"hvs59"`
	HV29  int `json:"hv29"`
	HVS03 int `json:"hvs03"`
	HV13  int `json:"hv13"`
	HVS46 int `json:"hvs46"`
	HV30  int `json:"hv30"`
	HVS04 int `json:"hvs04"`
	HV14  int `json:"hv14"`
	HVS47 int `json:"hvs47"`
	HV28  int `json:"hv28"`
	HVS02 int `json:"hvs02"`
	HV15  int `json:"hv15"`
	HVS48 int `json:"hvs48"`
	HV16  int `json:"hv16"`
	HVS49 int `json:"hvs49"`
	HV60  int `json:"hv60"`
	HVS60 int `json:"hvs60"`
	HV61  int `json:"hv61"`
	HVS61 int `json:"hvs61"`

	HVIDate string `json:"hvidate"`

	Occupancy     int    `json:"occupancy"`
	OccupancyRate int    `json:"occupancyRate"`
	GeneralStatus Status `json:"generalStatus"`
}

// BedCategory is one bed category's available and total counts.
type BedCategory struct {
	Available int
	Total     int
}

// Occupied is max(0, total-available).
func (c BedCategory) Occupied() int {
	if c.Total > c.Available {
		return c.Total - c.Available
	}
	return 0
}

// Categories returns the seven bed categories that make up occupancy.
func (b *BedInfo) Categories() []BedCategory {
	return []BedCategory{
		{Available: b.HVEC, Total: b.HVS01},                    // general
		{Available: b.HV27, Total: b.HVS59},                    // cohort isolation
		{Available: b.HV29 + b.HV13, Total: b.HVS03 + b.HVS46}, // ER negative pressure
		{Available: b.HV30 + b.HV14, Total: b.HVS04 + b.HVS47}, // ER general isolation
		{Available: b.HV28, Total: b.HVS02},                    // pediatric
		{Available: b.HV15, Total: b.HVS48},                    // pediatric negative pressure
		{Available: b.HV16, Total: b.HVS49},                    // pediatric general isolation
	}
}

// computeDerived fills Occupancy, OccupancyRate and GeneralStatus.
func (b *BedInfo) computeDerived() {
	occupied, total := 0, 0
	for _, c := range b.Categories() {
		occupied += c.Occupied()
		total += c.Total
	}
	b.Occupancy = occupied
	if total > 0 {
		b.OccupancyRate = int(math.Round(float64(occupied) / float64(total) * 100))
	} else {
		b.OccupancyRate = 0
	}
	b.GeneralStatus = StatusFor(b.HVEC, b.HVS01)
}

// IsCenter reports whether the hospital sorts in the center tier.
func (b *BedInfo) IsCenter() bool {
	return IsCenter(b.HPBD) || IsCenter(b.DutyEmclsName)
}

// NewBedInfo maps one upstream item.
func NewBedInfo(it xmlresp.Item, orgTypes *OrgTypes) BedInfo {
	hpid := it.Text("hpid")
	b := BedInfo{
		HPID:          hpid,
		DutyName:      it.Text("dutyName"),
		DutyEmclsName: it.Text("dutyEmclsName"),
		HPBD:          orgTypes.Lookup(hpid),
		DutyAddr:      it.Text("dutyAddr"),
		DutyTel3:      it.Text("dutyTel3"),
		HVEC:          it.Int("hvec"),
		HVS01:         it.Int("hvs01"),
		HV27:          it.Int("hv27"),
		HVS59:         it.Int("hvs59"),
		HV29:          it.Int("hv29"),
		HVS03:         it.Int("hvs03"),
		HV13:          it.Int("hv13"),
		HVS46:         it.Int("hvs46"),
		HV30:          it.Int("hv30"),
		HVS04:         it.Int("hvs04"),
		HV14:          it.Int("hv14"),
		HVS47:         it.Int("hvs47"),
		HV28:          it.Int("hv28"),
		HVS02:         it.Int("hvs02"),
		HV15:          it.Int("hv15"),
		HVS48:         it.Int("hvs48"),
		HV16:          it.Int("hv16"),
		HVS49:         it.Int("hvs49"),
		HV60:          it.Int("hv60"),
		HVS60:         it.Int("hvs60"),
		HV61:          it.Int("hv61"),
		HVS61:         it.Int("hvs61"),
		HVIDate:       it.Text("hvidate"),
	}
	b.computeDerived()
	return b
}

// BedInfoResponse is the JSON body of the bed-info endpoint.
type BedInfoResponse struct {
	Success    bool      `json:"success"`
	Code       string    `json:"code"`
	Message    string    `json:"message"`
	Items      []BedInfo `json:"items"`
	TotalCount int       `json:"totalCount"`
	UsedSample bool      `json:"usedSample"`
}

// MapBedInfo builds the bed-info body from a parsed envelope.
// Items are ordered center tiers first, then by occupancy descending.
func MapBedInfo(resp xmlresp.Response, usedSample bool, orgTypes *OrgTypes) BedInfoResponse {
	if !resp.Success {
		return BedInfoResponse{
			Success:    false,
			Code:       resp.ResultCode,
			Message:    resp.ResultMessage,
			Items:      []BedInfo{},
			UsedSample: usedSample,
		}
	}

	items := make([]BedInfo, 0, len(resp.Items))
	for _, it := range resp.Items {
		items = append(items, NewBedInfo(it, orgTypes))
	}
	SortBedInfo(items)

	return BedInfoResponse{
		Success:    true,
		Code:       resp.ResultCode,
		Message:    resp.ResultMessage,
		Items:      items,
		TotalCount: len(items),
		UsedSample: usedSample,
	}
}

// SortBedInfo orders center tiers first, then by occupancy descending. Stable.
func SortBedInfo(items []BedInfo) {
	sort.SliceStable(items, func(i, j int) bool {
		ci, cj := items[i].IsCenter(), items[j].IsCenter()
		if ci != cj {
			return ci
		}
		return items[i].Occupancy > items[j].Occupancy
	})
}
