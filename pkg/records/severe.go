package records

import (
	"sort"
	"strconv"

	"github.com/erboard/erboard/pkg/xmlresp"
)

// SevereType is one of the 27 severe-disease categories the upstream reports on.
type SevereType struct {
	Key   string `json:"key"`
	QN    string `json:"qn"`
	Label string `json:"label"`
}

// SevereTypes lists the categories in upstream order.
var SevereTypes = []SevereType{
	{"MKioskTy1", "1", "[재관류중재술] 심근경색"},
	{"MKioskTy2", "2", "[재관류중재술] 뇌경색"},
	{"MKioskTy3", "3", "[뇌출혈수술] 거미막하출혈"},
	{"MKioskTy4", "4", "[뇌출혈수술] 거미막하출혈 외"},
	{"MKioskTy5", "5", "[대동맥응급] 흉부"},
	{"MKioskTy6", "6", "[대동맥응급] 복부"},
	{"MKioskTy7", "7", "[담낭담관질환] 담낭질환"},
	{"MKioskTy8", "8", "[담낭담관질환] 담도포함질환"},
	{"MKioskTy9", "9", "[복부응급수술] 비외상"},
	{"MKioskTy10", "10", "[장중첩/폐색] 영유아"},
	{"MKioskTy11", "11", "[응급내시경] 성인 위장관"},
	{"MKioskTy12", "12", "[응급내시경] 영유아 위장관"},
	{"MKioskTy13", "13", "[응급내시경] 성인 기관지"},
	{"MKioskTy14", "14", "[응급내시경] 영유아 기관지"},
	{"MKioskTy15", "15", "[저체중출생아] 집중치료"},
	{"MKioskTy16", "16", "[산부인과응급] 분만"},
	{"MKioskTy17", "17", "[산부인과응급] 산과수술"},
	{"MKioskTy18", "18", "[산부인과응급] 부인과수술"},
	{"MKioskTy19", "19", "[중증화상] 전문치료"},
	{"MKioskTy20", "20", "[사지접합] 수족지접합"},
	{"MKioskTy21", "21", "[사지접합] 수족지접합 외"},
	{"MKioskTy22", "22", "[응급투석] HD"},
	{"MKioskTy23", "23", "[응급투석] CRRT"},
	{"MKioskTy24", "24", "[정신과적응급] 폐쇄병동입원"},
	{"MKioskTy25", "25", "[안과적수술] 응급"},
	{"MKioskTy26", "26", "[영상의학혈관중재] 성인"},
	{"MKioskTy27", "27", "[영상의학혈관중재] 영유아"},
}

// ValidQN reports whether qn names one of the severe types.
func ValidQN(qn string) bool {
	n, err := strconv.Atoi(qn)
	return err == nil && n >= 1 && n <= len(SevereTypes)
}

// SevereAcceptance is one hospital's acceptance flags.
type SevereAcceptance struct {
	HPID           string          `json:"hpid"`
	DutyName       string          `json:"dutyName"`
	DutyEmclsName  string          `json:"dutyEmclsName,omitempty"`
	Accepting      map[string]bool `json:"accepting"`
	AcceptingCount int             `json:"acceptingCount"`
}

// NewSevereAcceptance maps one upstream item. Only an explicit "Y" counts as accepting.
func NewSevereAcceptance(it xmlresp.Item) SevereAcceptance {
	s := SevereAcceptance{
		HPID:          it.Text("hpid"),
		DutyName:      it.Text("dutyName"),
		DutyEmclsName: it.Text("dutyEmclsName"),
		Accepting:     make(map[string]bool, len(SevereTypes)),
	}
	for _, st := range SevereTypes {
		v := it.Text(st.Key)
		if v == "" {
			continue
		}
		ok := v == "Y"
		s.Accepting[st.Key] = ok
		if ok {
			s.AcceptingCount++
		}
	}
	return s
}

// SevereResponse is the JSON body of the severe-diseases endpoint.
type SevereResponse struct {
	Success    bool               `json:"success"`
	Code       string             `json:"code"`
	Message    string             `json:"message"`
	Items      []SevereAcceptance `json:"items"`
	TotalCount int                `json:"totalCount"`
	UsedSample bool               `json:"usedSample"`
}

// MapSevere builds the severe-diseases body. Center tiers sort first, then by
// number of accepted categories descending.
func MapSevere(resp xmlresp.Response, usedSample bool) SevereResponse {
	out := SevereResponse{
		Success:    resp.Success,
		Code:       resp.ResultCode,
		Message:    resp.ResultMessage,
		Items:      []SevereAcceptance{},
		UsedSample: usedSample,
	}
	if !resp.Success {
		return out
	}

	for _, it := range resp.Items {
		out.Items = append(out.Items, NewSevereAcceptance(it))
	}
	sort.SliceStable(out.Items, func(i, j int) bool {
		ci, cj := IsCenter(out.Items[i].DutyEmclsName), IsCenter(out.Items[j].DutyEmclsName)
		if ci != cj {
			return ci
		}
		return out.Items[i].AcceptingCount > out.Items[j].AcceptingCount
	})
	out.TotalCount = len(out.Items)
	return out
}
