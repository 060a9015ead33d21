package records

import (
	"strconv"

	"github.com/erboard/erboard/pkg/xmlresp"
)

// Hospital is one entry of the emergency institution directory.
type Hospital struct {
	HPID          string  `json:"hpid"`
	DutyName      string  `json:"dutyName"`
	DutyAddr      string  `json:"dutyAddr"`
	DutyTel1      string  `json:"dutyTel1"`
	DutyTel3      string  `json:"dutyTel3"`
	DutyEmcls     string  `json:"dutyEmcls"`
	DutyEmclsName string  `json:"dutyEmclsName"`
	Tier          string  `json:"tier"`
	Lat           float64 `json:"lat"`
	Lon           float64 `json:"lon"`
}

// NewHospital maps one upstream item. Tier comes from the dutyEmcls code and
// falls back to the institution name the upstream reports.
func NewHospital(it xmlresp.Item) Hospital {
	h := Hospital{
		HPID:          it.Text("hpid"),
		DutyName:      it.Text("dutyName"),
		DutyAddr:      it.Text("dutyAddr"),
		DutyTel1:      it.Text("dutyTel1"),
		DutyTel3:      it.Text("dutyTel3"),
		DutyEmcls:     it.Text("dutyEmcls"),
		DutyEmclsName: it.Text("dutyEmclsName"),
		Lat:           parseFloat(it.Text("wgs84Lat")),
		Lon:           parseFloat(it.Text("wgs84Lon")),
	}
	h.Tier = TierForCode(h.DutyEmcls)
	if h.Tier == "" && (IsCenter(h.DutyEmclsName) || h.DutyEmclsName == TierLocalInstitution) {
		h.Tier = h.DutyEmclsName
	}
	return h
}

// MapHospitals maps every item of a successful envelope.
func MapHospitals(resp xmlresp.Response) []Hospital {
	out := make([]Hospital, 0, len(resp.Items))
	if !resp.Success {
		return out
	}
	for _, it := range resp.Items {
		out = append(out, NewHospital(it))
	}
	return out
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

// Message is one operational notice a hospital has posted.
type Message struct {
	Text        string `json:"message"`
	SymptomCode string `json:"symptomCode,omitempty"`
	Seq         int    `json:"seq"`
}

// MapMessages maps every item of a successful envelope.
func MapMessages(resp xmlresp.Response) []Message {
	out := make([]Message, 0, len(resp.Items))
	if !resp.Success {
		return out
	}
	for _, it := range resp.Items {
		out = append(out, Message{
			Text:        it.Text("symBlkMsg"),
			SymptomCode: it.Text("symTypCod"),
			Seq:         it.Int("rnum"),
		})
	}
	return out
}

// ListResponse is the JSON envelope of the hospital-list and messages endpoints.
type ListResponse[T any] struct {
	Success    bool   `json:"success"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Items      []T    `json:"items"`
	TotalCount int    `json:"totalCount"`
	UsedSample bool   `json:"usedSample"`
}

// NewListResponse wraps items mapped from resp.
func NewListResponse[T any](resp xmlresp.Response, items []T, usedSample bool) ListResponse[T] {
	return ListResponse[T]{
		Success:    resp.Success,
		Code:       resp.ResultCode,
		Message:    resp.ResultMessage,
		Items:      items,
		TotalCount: len(items),
		UsedSample: usedSample,
	}
}
