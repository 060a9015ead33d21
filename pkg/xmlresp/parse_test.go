package xmlresp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const singleItem = `<?xml version="1.0" encoding="UTF-8"?>
<response>
  <header><resultCode>00</resultCode><resultMsg>NORMAL SERVICE.</resultMsg></header>
  <body>
    <items>
      <item><hpid>A1</hpid><dutyName>  대구병원 </dutyName><hvec>5</hvec></item>
    </items>
    <numOfRows>10</numOfRows><pageNo>1</pageNo><totalCount>1</totalCount>
  </body>
</response>`

const multiItem = `<response>
  <header><resultCode>00</resultCode><resultMsg>NORMAL SERVICE.</resultMsg></header>
  <body>
    <items>
      <item><hpid>A1</hpid></item>
      <item><hpid>A2</hpid></item>
      <item><hpid>A3</hpid></item>
    </items>
    <totalCount>3</totalCount>
  </body>
</response>`

func TestParse_SingleItemIsSlice(t *testing.T) {
	resp := Parse([]byte(singleItem))

	require.True(t, resp.Success)
	assert.Equal(t, "00", resp.ResultCode)
	assert.Equal(t, "NORMAL SERVICE.", resp.ResultMessage)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "A1", resp.Items[0].Text("hpid"))
	assert.Equal(t, "대구병원", resp.Items[0].Text("dutyName"))
	assert.Equal(t, 5, resp.Items[0].Int("hvec"))
	assert.Equal(t, 1, resp.TotalCount)
}

func TestParse_MultiItem(t *testing.T) {
	resp := Parse([]byte(multiItem))

	require.True(t, resp.Success)
	require.Len(t, resp.Items, 3)
	assert.Equal(t, "A3", resp.Items[2].Text("hpid"))
	assert.Equal(t, 3, resp.TotalCount)
}

func TestParse_NoItems(t *testing.T) {
	raw := `<response><header><resultCode>00</resultCode><resultMsg>NORMAL SERVICE.</resultMsg></header>
<body><items/><totalCount>0</totalCount></body></response>`
	resp := Parse([]byte(raw))

	assert.True(t, resp.Success)
	assert.NotNil(t, resp.Items)
	assert.Empty(t, resp.Items)
}

func TestParse_ErrorCode(t *testing.T) {
	raw := `<response><header><resultCode>30</resultCode><resultMsg>SERVICE_KEY_IS_NOT_REGISTERED_ERROR</resultMsg></header></response>`
	resp := Parse([]byte(raw))

	assert.False(t, resp.Success)
	assert.Equal(t, "30", resp.ResultCode)
	assert.Equal(t, "SERVICE_KEY_IS_NOT_REGISTERED_ERROR", resp.ResultMessage)
	assert.Empty(t, resp.Items)
}

func TestParse_MissingHeaderIsSuccess(t *testing.T) {
	resp := Parse([]byte(`<response><body><items><item><hpid>A1</hpid></item></items></body></response>`))
	assert.True(t, resp.Success)
	assert.Equal(t, "", resp.ResultCode)
	assert.Len(t, resp.Items, 1)
}

func TestParse_Malformed(t *testing.T) {
	for _, raw := range []string{
		"",
		"not xml at all",
		"<response><header><resultCode>00</resultCode>",
		"<response><body></header></response>",
	} {
		resp := Parse([]byte(raw))
		assert.False(t, resp.Success, raw)
		assert.Equal(t, CodeParseError, resp.ResultCode, raw)
		assert.NotEmpty(t, resp.ResultMessage, raw)
		assert.NotNil(t, resp.Items, raw)
		assert.Empty(t, resp.Items, raw)
	}
}

func TestItem_TextCaseInsensitiveFallback(t *testing.T) {
	it := Item{"HVS59": " 5 ", "hvs59x": "9"}
	assert.Equal(t, "5", it.Text("hvs59"))
	assert.Equal(t, 5, it.Int("hvs59"))
	assert.Equal(t, "", it.Text("missing"))

	exact := Item{"hvs03": "1", "HVS03": "3"}
	assert.Equal(t, "1", exact.Text("hvs03"))
}

func TestItem_Int(t *testing.T) {
	it := Item{"a": "12", "b": "abc", "c": "-3", "d": "7병상", "e": ""}
	assert.Equal(t, 12, it.Int("a"))
	assert.Equal(t, 0, it.Int("b"))
	assert.Equal(t, -3, it.Int("c"))
	assert.Equal(t, 7, it.Int("d"))
	assert.Equal(t, 0, it.Int("e"))
	assert.Equal(t, 0, it.Int("missing"))
}

func TestExtractMeta(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Meta
		ok   bool
	}{
		{"success", singleItem, Meta{Code: "00", Message: "NORMAL SERVICE."}, true},
		{"error code", `<resultCode>22</resultCode><resultMsg>LIMITED_NUMBER_OF_SERVICE_REQUESTS_EXCEEDS_ERROR</resultMsg>`,
			Meta{Code: "22", Message: "LIMITED_NUMBER_OF_SERVICE_REQUESTS_EXCEEDS_ERROR"}, false},
		{"no header", `<response><body/></response>`, Meta{}, true},
		{"empty", ``, Meta{}, true},
		{"soap fault", `<SOAP-ENV:Envelope><SOAP-ENV:Body><SOAP-ENV:Fault><faultstring> Policy Falsified </faultstring></SOAP-ENV:Fault></SOAP-ENV:Body></SOAP-ENV:Envelope>`,
			Meta{Code: SOAPFaultCode, Message: "Policy Falsified", SOAPFault: true}, false},
		{"soap fault without string", `<soap:Envelope><soap:Fault/></soap:Envelope>`,
			Meta{Code: SOAPFaultCode, Message: "SOAP Fault", SOAPFault: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractMeta([]byte(tt.raw))
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.ok, got.OK())
		})
	}
}
