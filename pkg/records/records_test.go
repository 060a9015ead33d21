package records

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erboard/erboard/pkg/sample"
	"github.com/erboard/erboard/pkg/xmlresp"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		available, total int
		want             Status
	}{
		{0, 0, StatusNA},
		{5, 0, StatusNA},
		{0, 20, StatusCritical},
		{1, 20, StatusCritical}, // exactly 5%
		{2, 20, StatusWarning},
		{8, 20, StatusWarning}, // exactly 40%
		{9, 20, StatusNormal},
		{20, 20, StatusNormal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusFor(tt.available, tt.total), "%d/%d", tt.available, tt.total)
	}
}

func TestMapBedInfo_Sample(t *testing.T) {
	resp := MapBedInfo(xmlresp.Parse(sample.BedInfo), true, NewOrgTypes())

	require.True(t, resp.Success)
	assert.True(t, resp.UsedSample)
	assert.Equal(t, "00", resp.Code)
	require.Len(t, resp.Items, 2)
	assert.Equal(t, 2, resp.TotalCount)

	// Center tier sorts first even though SAMPLE002 has the lower occupancy rate.
	first, second := resp.Items[0], resp.Items[1]
	assert.Equal(t, "SAMPLE001", first.HPID)
	assert.Equal(t, 5, first.HVS59, "uppercase HVS59 is accepted")
	assert.Equal(t, 25, first.Occupancy)
	assert.Equal(t, 69, first.OccupancyRate)
	assert.Equal(t, StatusWarning, first.GeneralStatus)

	assert.Equal(t, "SAMPLE002", second.HPID)
	assert.Equal(t, 20, second.Occupancy)
	assert.Equal(t, 80, second.OccupancyRate)
}

func TestMapBedInfo_SortByOccupancy(t *testing.T) {
	raw := `<response><header><resultCode>00</resultCode></header><body><items>
<item><hpid>L1</hpid><dutyEmclsName>지역응급의료기관</dutyEmclsName><hvec>0</hvec><hvs01>30</hvs01></item>
<item><hpid>C1</hpid><hvec>9</hvec><hvs01>10</hvs01></item>
<item><hpid>C2</hpid><hvec>0</hvec><hvs01>10</hvs01></item>
<item><hpid>L2</hpid><hvec>0</hvec><hvs01>40</hvs01></item>
</items></body></response>`

	orgTypes := NewOrgTypes()
	orgTypes.Set("C1", TierRegionalCenter)
	orgTypes.Set("C2", TierLocalCenter)

	resp := MapBedInfo(xmlresp.Parse([]byte(raw)), false, orgTypes)
	ids := make([]string, 0, len(resp.Items))
	for _, it := range resp.Items {
		ids = append(ids, it.HPID)
	}
	assert.Equal(t, []string{"C2", "C1", "L2", "L1"}, ids)
	assert.Equal(t, TierRegionalCenter, resp.Items[1].HPBD)
}

func TestMapBedInfo_OccupancyClampsNegative(t *testing.T) {
	raw := `<response><body><items><item><hpid>X</hpid><hvec>12</hvec><hvs01>10</hvs01><hv28>1</hv28><hvs02>3</hvs02></item></items></body></response>`
	resp := MapBedInfo(xmlresp.Parse([]byte(raw)), false, nil)

	require.Len(t, resp.Items, 1)
	b := resp.Items[0]
	assert.Equal(t, 2, b.Occupancy, "over-reported availability must not go negative")
	assert.Equal(t, 15, b.OccupancyRate)
	assert.Equal(t, StatusNormal, b.GeneralStatus)
}

func TestMapBedInfo_NoBeds(t *testing.T) {
	raw := `<response><body><items><item><hpid>X</hpid></item></items></body></response>`
	resp := MapBedInfo(xmlresp.Parse([]byte(raw)), false, nil)

	require.Len(t, resp.Items, 1)
	assert.Equal(t, 0, resp.Items[0].OccupancyRate)
	assert.Equal(t, StatusNA, resp.Items[0].GeneralStatus)
}

func TestMapBedInfo_Failure(t *testing.T) {
	resp := MapBedInfo(xmlresp.Parse([]byte("<<<")), false, nil)
	assert.False(t, resp.Success)
	assert.Equal(t, xmlresp.CodeParseError, resp.Code)
	assert.NotNil(t, resp.Items)
	assert.Empty(t, resp.Items)
}

func TestMapSevere(t *testing.T) {
	resp := MapSevere(xmlresp.Parse(sample.SevereDiseases), true)

	require.True(t, resp.Success)
	require.Len(t, resp.Items, 1)
	s := resp.Items[0]
	assert.Equal(t, "SAMPLE001", s.HPID)
	assert.True(t, s.Accepting["MKioskTy1"])
	assert.False(t, s.Accepting["MKioskTy3"])
	assert.Len(t, s.Accepting, 27)
	assert.Equal(t, 18, s.AcceptingCount)
	assert.True(t, resp.UsedSample)
}

func TestValidQN(t *testing.T) {
	assert.True(t, ValidQN("1"))
	assert.True(t, ValidQN("27"))
	assert.False(t, ValidQN("0"))
	assert.False(t, ValidQN("28"))
	assert.False(t, ValidQN("abc"))
}

func TestMapHospitals(t *testing.T) {
	hs := MapHospitals(xmlresp.Parse(sample.HospitalList))

	require.Len(t, hs, 2)
	assert.Equal(t, TierLocalCenter, hs[0].Tier)
	assert.Equal(t, TierLocalInstitution, hs[1].Tier)
	assert.InDelta(t, 35.8714, hs[0].Lat, 0.00001)

	orgTypes := NewOrgTypes()
	assert.Equal(t, 2, orgTypes.Learn(hs))
	assert.Equal(t, TierLocalCenter, orgTypes.Lookup("SAMPLE001"))
}

func TestMapMessages(t *testing.T) {
	msgs := MapMessages(xmlresp.Parse(sample.Messages))
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Text, "[샘플]")
	assert.Equal(t, 1, msgs[0].Seq)

	assert.Empty(t, MapMessages(xmlresp.Parse(sample.Empty)))
}

func TestLoadOrgTypes(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		ot, err := LoadOrgTypes(strings.NewReader(`{"A1":"권역응급의료센터","A2":"지역응급의료기관"}`))
		require.NoError(t, err)
		assert.Equal(t, 2, ot.Len())
		assert.Equal(t, TierRegionalCenter, ot.Lookup("A1"))
	})

	t.Run("yaml", func(t *testing.T) {
		ot, err := LoadOrgTypes(strings.NewReader("A1: 전문응급의료센터\n"))
		require.NoError(t, err)
		assert.Equal(t, TierSpecializedCenter, ot.Lookup("A1"))
	})

	t.Run("empty", func(t *testing.T) {
		ot, err := LoadOrgTypes(strings.NewReader(""))
		require.NoError(t, err)
		assert.Equal(t, 0, ot.Len())
	})

	t.Run("no file", func(t *testing.T) {
		ot, err := LoadOrgTypesFile("")
		require.NoError(t, err)
		assert.Equal(t, "", ot.Lookup("A1"))
	})
}
