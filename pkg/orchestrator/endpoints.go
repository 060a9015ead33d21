package orchestrator

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/erboard/erboard/pkg/cache"
	"github.com/erboard/erboard/pkg/ermct"
	"github.com/erboard/erboard/pkg/records"
	"github.com/erboard/erboard/pkg/sample"
	"github.com/erboard/erboard/pkg/xmlresp"
)

// Endpoint names double as rate-limit buckets.
const (
	NameBedInfo           = "bed-info"
	NameSevereDiseases    = "severe-diseases"
	NameHospitalList      = "hospital-list"
	NameEmergencyMessages = "emergency-messages"
	NameSevereAcceptance  = "severe-acceptance"
)

// Upstream API names reported in health events.
const (
	APIBedInfo           = "공공데이터 포털 (병상정보)"
	APISevereDiseases    = "공공데이터 포털 (중증질환 수용가능)"
	APIHospitalList      = "공공데이터 포털 (병원목록)"
	APIEmergencyMessages = "공공데이터 포털 (응급메시지)"
	APISevereAcceptance  = "공공데이터 포털 (중증질환 개별조회)"
)

// MessagesTimeout bounds each emergency-messages upstream attempt.
const MessagesTimeout = 10 * time.Second

func regionLabel(region string) string {
	if region == "" {
		return "전체"
	}
	return region
}

func jsonFormat(r *http.Request) Format {
	if r.URL.Query().Get("format") == "json" {
		return FormatJSON
	}
	return FormatDefault
}

func formatSuffix(f Format) string {
	if f == FormatJSON {
		return ":json"
	}
	return ""
}

// BedInfo serves normalized bed availability as JSON. orgTypes may be nil.
func BedInfo(orgTypes *records.OrgTypes) *Endpoint {
	return &Endpoint{
		Name:        NameBedInfo,
		APIName:     APIBedInfo,
		Upstream:    ermct.OpBedInfo,
		Family:      cache.FamilyBedInfo,
		Format:      FormatJSON,
		Fallback:    sample.BedInfo,
		ExpectItems: true,
		Plan: func(r *http.Request) (Plan, error) {
			q := r.URL.Query()
			region, hospID := q.Get("region"), q.Get("hospId")

			params := url.Values{
				"STAGE1":    {ermct.MapRegion(region)},
				"numOfRows": {"100"},
				"pageNo":    {"1"},
				"_type":     {"xml"},
			}
			if hospID != "" {
				params.Set("STAGE2", hospID)
			}
			return Plan{
				CacheKey: fmt.Sprintf("bed-json:%s:%s", region, hospID),
				Region:   regionLabel(region),
				Calls:    []url.Values{params},
			}, nil
		},
		Render: func(resp xmlresp.Response, usedSample bool) ([]byte, error) {
			return json.Marshal(records.MapBedInfo(resp, usedSample, orgTypes))
		},
	}
}

// SevereDiseases serves severe-disease acceptance for a region. XML by default,
// normalized JSON with format=json.
func SevereDiseases() *Endpoint {
	return &Endpoint{
		Name:        NameSevereDiseases,
		APIName:     APISevereDiseases,
		Upstream:    ermct.OpSevereDiseases,
		Family:      cache.FamilySevereDiseases,
		Format:      FormatXML,
		Fallback:    sample.SevereDiseases,
		ExpectItems: true,
		Plan: func(r *http.Request) (Plan, error) {
			q := r.URL.Query()
			stage1 := firstNonEmpty(q.Get("STAGE1"), q.Get("region"))
			stage2 := q.Get("STAGE2")
			rows := firstNonEmpty(q.Get("numOfRows"), "1000")
			page := firstNonEmpty(q.Get("pageNo"), "1")
			format := jsonFormat(r)

			params := url.Values{
				"numOfRows": {rows},
				"pageNo":    {page},
				"_type":     {"xml"},
			}
			if mapped := ermct.MapRegion(stage1); mapped != "" {
				params.Set("STAGE1", mapped)
			}
			if stage2 != "" {
				params.Set("STAGE2", stage2)
			}
			return Plan{
				CacheKey: fmt.Sprintf("severe:%s:%s:%s:%s", stage1, stage2, rows, page) + formatSuffix(format),
				Region:   regionLabel(stage1),
				Format:   format,
				Calls:    []url.Values{params},
			}, nil
		},
		Render: func(resp xmlresp.Response, usedSample bool) ([]byte, error) {
			return json.Marshal(records.MapSevere(resp, usedSample))
		},
	}
}

// HospitalList serves the emergency institution directory. Every real answer
// teaches orgTypes the tier of each listed hospital.
func HospitalList(orgTypes *records.OrgTypes) *Endpoint {
	return &Endpoint{
		Name:        NameHospitalList,
		APIName:     APIHospitalList,
		Upstream:    ermct.OpHospitalList,
		Family:      cache.FamilyHospitalList,
		Format:      FormatXML,
		Fallback:    sample.HospitalList,
		ExpectItems: true,
		Plan: func(r *http.Request) (Plan, error) {
			region := r.URL.Query().Get("region")
			format := jsonFormat(r)

			params := url.Values{
				"numOfRows": {"100"},
				"pageNo":    {"1"},
				"_type":     {"xml"},
			}
			if mapped := ermct.MapRegion(region); mapped != "" {
				params.Set("Q0", mapped)
			}
			return Plan{
				CacheKey: "hospital-list:" + region + formatSuffix(format),
				Region:   regionLabel(region),
				Format:   format,
				Calls:    []url.Values{params},
			}, nil
		},
		Render: func(resp xmlresp.Response, usedSample bool) ([]byte, error) {
			return json.Marshal(records.NewListResponse(resp, records.MapHospitals(resp), usedSample))
		},
		Observe: func(resp xmlresp.Response) {
			if orgTypes != nil {
				orgTypes.Learn(records.MapHospitals(resp))
			}
		},
	}
}

// EmergencyMessages serves a hospital's posted notices. An outage answers with
// an empty list rather than sample notices.
func EmergencyMessages() *Endpoint {
	return &Endpoint{
		Name:         NameEmergencyMessages,
		APIName:      APIEmergencyMessages,
		Upstream:     ermct.OpEmergencyMessage,
		Family:       cache.FamilyMessages,
		Format:       FormatXML,
		Fallback:     sample.Empty,
		Timeout:      MessagesTimeout,
		CacheControl: "s-maxage=60, stale-while-revalidate=300",
		Plan: func(r *http.Request) (Plan, error) {
			hpid := r.URL.Query().Get("hpid")
			if hpid == "" {
				return Plan{}, BadRequest("hpid 파라미터가 필요합니다.")
			}
			format := jsonFormat(r)
			return Plan{
				CacheKey: "message:" + hpid + formatSuffix(format),
				Format:   format,
				Calls: []url.Values{{
					"HPID":      {hpid},
					"numOfRows": {"1000"},
					"_type":     {"xml"},
				}},
			}, nil
		},
		Render: func(resp xmlresp.Response, usedSample bool) ([]byte, error) {
			return json.Marshal(records.NewListResponse(resp, records.MapMessages(resp), usedSample))
		},
	}
}

// SevereAcceptance serves one disease category's acceptance, either for one
// hospital (hpid) or a whole region (q0). With both, the region query is the
// fallback when the hospital query fails.
func SevereAcceptance() *Endpoint {
	return &Endpoint{
		Name:     NameSevereAcceptance,
		APIName:  APISevereAcceptance,
		Upstream: ermct.OpSevereDiseases,
		Family:   cache.FamilySevereAcceptance,
		Format:   FormatXML,
		Fallback: sample.Empty,

		RestrictOrigin: true,
		Plan: func(r *http.Request) (Plan, error) {
			q := r.URL.Query()
			hpid, qn, q0 := q.Get("hpid"), q.Get("qn"), q.Get("q0")
			if qn == "" {
				return Plan{}, BadRequest("필수 파라미터 누락 (qn 필요)")
			}
			if hpid == "" && q0 == "" {
				return Plan{}, BadRequest("필수 파라미터 누락 (hpid 또는 q0 필요)")
			}

			base := func() url.Values {
				return url.Values{"numOfRows": {"1000"}, "pageNo": {"1"}, "_type": {"xml"}, "QN": {qn}}
			}
			var calls []url.Values
			if hpid != "" {
				byHospital := base()
				byHospital.Set("HPID", hpid)
				calls = append(calls, byHospital)
			}
			if q0 != "" {
				byRegion := base()
				byRegion.Set("Q0", ermct.MapRegion(q0))
				calls = append(calls, byRegion)
			}
			return Plan{
				CacheKey: fmt.Sprintf("acceptance:%s:%s", firstNonEmpty(hpid, q0), qn),
				Region:   q0,
				Calls:    calls,
			}, nil
		},
	}
}

// All returns every data endpoint keyed by name.
func All(orgTypes *records.OrgTypes) map[string]*Endpoint {
	eps := []*Endpoint{
		BedInfo(orgTypes),
		SevereDiseases(),
		HospitalList(orgTypes),
		EmergencyMessages(),
		SevereAcceptance(),
	}
	out := make(map[string]*Endpoint, len(eps))
	for _, ep := range eps {
		out[ep.Name] = ep
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
